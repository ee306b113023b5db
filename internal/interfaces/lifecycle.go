package interfaces

import (
	"context"

	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/devices"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string `json:"state"`
	DeviceCount   int    `json:"device_count"`
	PollerRunning bool   `json:"poller_running"`
	Uptime        string `json:"uptime"`
	Error         string `json:"error,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	DeviceService() *devices.Service
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
