package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MatrixClient is the device control surface used by the service.
// *vpro.Client implements it.
type MatrixClient interface {
	QueryMatrix(ctx context.Context, addr vpro.DeviceAddress) (*vpro.MatrixState, error)
	IssueConnection(ctx context.Context, req vpro.ConnectionRequest) (*vpro.ConnectionResult, error)
}

// ClientFactory builds a client for a matrix path. An empty path means the
// configured default.
type ClientFactory func(matrixPath string) (MatrixClient, error)

// DefaultParallelism bounds QueryAll fan-out.
const DefaultParallelism = 8

// Snapshot is the outcome of querying one device.
type Snapshot struct {
	Device *Device
	State  *vpro.MatrixState
	Err    error
}

// Service maps device names to matrix operations.
type Service struct {
	manager     *Manager
	factory     ClientFactory
	locker      *Locker
	parallelism int
	logger      *zap.Logger

	mu      sync.Mutex
	clients map[string]MatrixClient
}

func NewService(manager *Manager, factory ClientFactory, parallelism int, logger *zap.Logger) *Service {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		manager:     manager,
		factory:     factory,
		locker:      NewLocker(),
		parallelism: parallelism,
		logger:      logger,
		clients:     make(map[string]MatrixClient),
	}
}

// NewClientFactory returns a factory building vpro clients that share one
// transport.
func NewClientFactory(base vpro.Config, transport *vpro.Transport, logger *zap.Logger) ClientFactory {
	return func(matrixPath string) (MatrixClient, error) {
		cfg := base
		if matrixPath != "" {
			cfg.MatrixPath = matrixPath
		}
		return vpro.NewClient(cfg, transport, logger)
	}
}

func (s *Service) Manager() *Manager {
	return s.manager
}

// Device looks up a device by name.
func (s *Service) Device(name string) (*Device, error) {
	device, ok := s.manager.GetDeviceByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return device, nil
}

// GetMatrix queries the routing matrix of the named device.
func (s *Service) GetMatrix(ctx context.Context, name string) (*vpro.MatrixState, error) {
	device, err := s.Device(name)
	if err != nil {
		return nil, err
	}
	return s.QueryDevice(ctx, device)
}

// QueryDevice queries a device that may not be registered.
func (s *Service) QueryDevice(ctx context.Context, device *Device) (*vpro.MatrixState, error) {
	client, err := s.client(device.MatrixPath)
	if err != nil {
		return nil, err
	}
	return client.QueryMatrix(ctx, device.Address)
}

// Connect routes source to target on the named device. Connects to the same
// device address run one at a time.
func (s *Service) Connect(ctx context.Context, name string, source, target int) (*vpro.ConnectionResult, error) {
	device, err := s.Device(name)
	if err != nil {
		return nil, err
	}
	return s.ConnectDevice(ctx, device, source, target)
}

func (s *Service) ConnectDevice(ctx context.Context, device *Device, source, target int) (*vpro.ConnectionResult, error) {
	req := vpro.ConnectionRequest{Device: device.Address, Source: source, Target: target}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.client(device.MatrixPath)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, device.Address.String())
	if err != nil {
		return nil, &vpro.Error{
			Kind:   vpro.ErrCancelled,
			Phase:  vpro.PhaseConnect,
			Device: device.Address.String(),
			Detail: "waiting for device lock",
			Err:    err,
		}
	}
	defer unlock()

	return client.IssueConnection(ctx, req)
}

// QueryAll queries every registered device with bounded concurrency. A
// failing device does not stop the others; its error is in the snapshot.
func (s *Service) QueryAll(ctx context.Context) []Snapshot {
	devices := s.manager.ListDevices()
	snapshots := make([]Snapshot, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, device := range devices {
		g.Go(func() error {
			state, err := s.QueryDevice(gctx, device)
			snapshots[i] = Snapshot{Device: device, State: state, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, snap := range snapshots {
		if snap.Err != nil {
			failed++
		}
	}
	s.logger.Debug("Devices queried",
		zap.Int("devices", len(devices)),
		zap.Int("failed", failed))

	return snapshots
}

func (s *Service) client(matrixPath string) (MatrixClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[matrixPath]; ok {
		return c, nil
	}
	c, err := s.factory(matrixPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for matrix path %q: %w", matrixPath, err)
	}
	s.clients[matrixPath] = c
	return c, nil
}
