package vpro

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is the Ember+ control port of a VPRO unit.
const DefaultPort = 9000

// DeviceAddress identifies one VPRO unit.
type DeviceAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewDeviceAddress returns an address, using DefaultPort when port is 0.
func NewDeviceAddress(host string, port int) DeviceAddress {
	if port == 0 {
		port = DefaultPort
	}
	return DeviceAddress{Host: host, Port: port}
}

// ParseDeviceAddress accepts "host" or "host:port".
func ParseDeviceAddress(s string) (DeviceAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DeviceAddress{}, fmt.Errorf("empty device address")
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port given.
		return NewDeviceAddress(strings.Trim(s, "[]"), 0), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > math.MaxUint16 {
		return DeviceAddress{}, fmt.Errorf("invalid port in device address %q", s)
	}
	if host == "" {
		return DeviceAddress{}, fmt.Errorf("missing host in device address %q", s)
	}
	return DeviceAddress{Host: host, Port: port}, nil
}

func (a DeviceAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Connection is the set of sources routed to one target.
type Connection struct {
	Target  int   `json:"target"`
	Sources []int `json:"sources"`
}

// MatrixState is a device's routing table at one point in time.
type MatrixState struct {
	Identifier   string         `json:"identifier,omitempty"`
	Path         string         `json:"path"`
	TargetCount  int            `json:"target_count,omitempty"`
	SourceCount  int            `json:"source_count,omitempty"`
	Connections  []Connection   `json:"connections"`
	TargetLabels map[int]string `json:"target_labels,omitempty"`
	SourceLabels map[int]string `json:"source_labels,omitempty"`
}

// Routes returns target → first source for every target with a source.
func (m *MatrixState) Routes() map[int]int {
	routes := make(map[int]int, len(m.Connections))
	for _, c := range m.Connections {
		if len(c.Sources) > 0 {
			routes[c.Target] = c.Sources[0]
		}
	}
	return routes
}

// Sources returns the sources routed to target.
func (m *MatrixState) Sources(target int) ([]int, bool) {
	for _, c := range m.Connections {
		if c.Target == target {
			return c.Sources, true
		}
	}
	return nil, false
}

func (m *MatrixState) TargetLabel(i int) string {
	if l, ok := m.TargetLabels[i]; ok {
		return l
	}
	return fmt.Sprintf("Target %d", i)
}

func (m *MatrixState) SourceLabel(i int) string {
	if l, ok := m.SourceLabels[i]; ok {
		return l
	}
	return fmt.Sprintf("Source %d", i)
}

func (m *MatrixState) sortConnections() {
	sort.Slice(m.Connections, func(i, j int) bool {
		return m.Connections[i].Target < m.Connections[j].Target
	})
}

// ConnectionRequest asks a device to route Source to Target.
type ConnectionRequest struct {
	Device DeviceAddress
	Source int
	Target int
}

// Validate checks the request without touching the network. Port ranges
// are left to the device.
func (r ConnectionRequest) Validate() error {
	if r.Device.Host == "" {
		return validationErrorf("device host is empty")
	}
	if r.Source < 0 {
		return validationErrorf("source %d is negative", r.Source)
	}
	if r.Target < 0 {
		return validationErrorf("target %d is negative", r.Target)
	}
	return nil
}

// ConnectionStatus is the outcome of a connection request.
type ConnectionStatus string

const (
	StatusAcknowledged ConnectionStatus = "acknowledged"
	StatusFailed       ConnectionStatus = "failed"
)

// ConnectionResult is the decoded device answer to a ConnectionRequest.
// A device-reported rejection is a Failed result, not an error.
type ConnectionResult struct {
	Status  ConnectionStatus `json:"status"`
	Source  int              `json:"source"`
	Target  int              `json:"target"`
	Pending bool             `json:"pending,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	State   *MatrixState     `json:"state,omitempty"`
}

func (r *ConnectionResult) Acknowledged() bool {
	return r.Status == StatusAcknowledged
}

func acknowledged(source, target int, pending bool, state *MatrixState) *ConnectionResult {
	return &ConnectionResult{Status: StatusAcknowledged, Source: source, Target: target, Pending: pending, State: state}
}

func failed(source, target int, reason string, state *MatrixState) *ConnectionResult {
	return &ConnectionResult{Status: StatusFailed, Source: source, Target: target, Reason: reason, State: state}
}

// ParseIndex converts a port index as received from JSON or a command line
// (number or decimal string) into a non-negative int.
func ParseIndex(name string, v any) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, validationErrorf("%s is missing", name)
	case int:
		if val < 0 {
			return 0, validationErrorf("%s %d is negative", name, val)
		}
		return val, nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.IsNaN(val) {
			return 0, validationErrorf("%s %v is not an integer", name, val)
		}
		if val < 0 {
			return 0, validationErrorf("%s %v is negative", name, val)
		}
		if val > 1<<53 {
			return 0, validationErrorf("%s %v is out of range", name, val)
		}
		return int(val), nil
	case json.Number:
		return ParseIndex(name, val.String())
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, validationErrorf("%s %q is not an integer", name, val)
		}
		return ParseIndex(name, n)
	default:
		return 0, validationErrorf("%s has unsupported type %T", name, v)
	}
}
