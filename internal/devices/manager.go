package devices

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"go.uber.org/zap"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDuplicateName  = errors.New("duplicate device name")
)

// Device is a configured VPRO unit.
type Device struct {
	Name        string
	Address     vpro.DeviceAddress
	MatrixPath  string
	Description string
}

func (d *Device) Info() types.DeviceInfo {
	return types.DeviceInfo{
		Name:        d.Name,
		Host:        d.Address.Host,
		Port:        d.Address.Port,
		Address:     d.Address.String(),
		MatrixPath:  d.MatrixPath,
		Description: d.Description,
	}
}

// Manager is the registry of configured devices. Names are matched
// case-insensitively.
type Manager struct {
	loader      *InventoryLoader
	defaultPort int
	devices     map[string]*Device
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewManager(searchPaths []string, defaultPort int, logger *zap.Logger) (*Manager, error) {
	loader, err := NewInventoryLoader(searchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory loader: %w", err)
	}
	if defaultPort == 0 {
		defaultPort = vpro.DefaultPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		loader:      loader,
		defaultPort: defaultPort,
		devices:     make(map[string]*Device),
		logger:      logger,
	}, nil
}

// LoadInventory registers every device of an inventory file.
func (m *Manager) LoadInventory(path string) error {
	defs, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load inventory %s: %w", path, err)
	}

	for _, def := range defs {
		if _, err := m.Register(def); err != nil {
			return err
		}
	}

	m.logger.Info("Inventory loaded",
		zap.String("path", path),
		zap.Int("devices", len(defs)))
	return nil
}

// Register adds one device. A host of the form "host:port" is accepted when
// no port is given.
func (m *Manager) Register(def types.DeviceDefinition) (*Device, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return nil, fmt.Errorf("device without name")
	}
	if err := m.loader.validator.ValidateDefinition(def); err != nil {
		return nil, fmt.Errorf("device %s: %w", name, err)
	}

	addr, err := vpro.ParseDeviceAddress(def.Host)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", name, err)
	}
	switch {
	case def.Port != 0:
		addr.Port = def.Port
	case !hasPort(def.Host):
		addr.Port = m.defaultPort
	}

	device := &Device{
		Name:        name,
		Address:     addr,
		MatrixPath:  def.MatrixPath,
		Description: def.Description,
	}

	key := strings.ToLower(name)
	m.mu.Lock()
	if _, exists := m.devices[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	m.devices[key] = device
	m.mu.Unlock()

	m.logger.Info("Device registered",
		zap.String("name", name),
		zap.String("address", addr.String()))

	return device, nil
}

// GetDeviceByName returns device by name
func (m *Manager) GetDeviceByName(name string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[strings.ToLower(strings.TrimSpace(name))]
	return device, exists
}

// Resolve returns the named device, or an ad-hoc device when nameOrHost is
// an address that is not registered.
func (m *Manager) Resolve(nameOrHost string) (*Device, error) {
	if device, ok := m.GetDeviceByName(nameOrHost); ok {
		return device, nil
	}

	addr, err := vpro.ParseDeviceAddress(nameOrHost)
	if err != nil || !looksLikeHost(addr.Host) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, nameOrHost)
	}
	if !hasPort(nameOrHost) {
		addr.Port = m.defaultPort
	}
	return &Device{Name: addr.String(), Address: addr}, nil
}

// ListDevices returns all devices sorted by name
func (m *Manager) ListDevices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]*Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return strings.ToLower(devices[i].Name) < strings.ToLower(devices[j].Name)
	})

	return devices
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

func hasPort(s string) bool {
	_, _, err := net.SplitHostPort(strings.TrimSpace(s))
	return err == nil
}

// looksLikeHost accepts IP literals and dotted host names.
func looksLikeHost(host string) bool {
	return strings.ContainsAny(host, ".:") || host == "localhost"
}
