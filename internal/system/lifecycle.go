package system

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/api/rest"
	"github.com/KevinKickass/vprocontrol/internal/api/websocket"
	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/interfaces"
	"github.com/KevinKickass/vprocontrol/internal/mqtt"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zcfg.Build()
}

// NewDeviceService builds the device registry and the matrix service from
// the configuration. The inventory file (if any) is loaded first, then the
// inline device list.
func NewDeviceService(cfg *config.Config, logger *zap.Logger) (*devices.Service, error) {
	manager, err := devices.NewManager(cfg.Devices.SearchPaths, cfg.VPro.Port, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Devices.Inventory != "" {
		if err := manager.LoadInventory(cfg.Devices.Inventory); err != nil {
			return nil, err
		}
	}
	for _, def := range cfg.Devices.Devices {
		if _, err := manager.Register(def); err != nil {
			return nil, fmt.Errorf("failed to register device %q: %w", def.Name, err)
		}
	}

	transport := vpro.NewTransport(vpro.TransportConfig{
		ConnectTimeout: cfg.VPro.ConnectTimeout,
		ReadTimeout:    cfg.VPro.ReadTimeout,
		WriteTimeout:   cfg.VPro.WriteTimeout,
	}, nil, logger)

	factory := devices.NewClientFactory(vpro.Config{
		MatrixPath:       cfg.VPro.MatrixPath,
		TargetLabelsPath: cfg.VPro.TargetLabelsPath,
		SourceLabelsPath: cfg.VPro.SourceLabelsPath,
		FetchLabels:      cfg.VPro.FetchLabels,
	}, transport, logger)

	// Build the default client once so a bad path fails at startup.
	if _, err := factory(""); err != nil {
		return nil, fmt.Errorf("invalid vpro settings: %w", err)
	}

	return devices.NewService(manager, factory, cfg.VPro.Parallelism, logger), nil
}

type LifecycleManager struct {
	config  *config.Config
	service *devices.Service
	logger  *zap.Logger

	wsHub      *websocket.Hub
	publisher  *mqtt.Publisher
	poller     *devices.Poller
	restServer *rest.Server

	hubCtx    context.Context
	hubCancel context.CancelFunc

	states    *fsm.FSM
	stateMu   sync.RWMutex
	lastError error
	startedAt time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	service, err := NewDeviceService(cfg, logger)
	if err != nil {
		return nil, err
	}

	lm := &LifecycleManager{
		config:       cfg,
		service:      service,
		logger:       logger,
		wsHub:        websocket.NewHub(logger),
		shutdownChan: make(chan struct{}),
	}
	lm.states = newStateMachine(func(from, to SystemState) {
		logger.Info("System state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})

	sinks := devices.Sinks{lm.wsHub}
	if cfg.MQTT.Enabled {
		publisher, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		lm.publisher = publisher
		sinks = append(sinks, publisher)
	}

	if cfg.VPro.PollInterval > 0 {
		lm.poller = devices.NewPoller(service, sinks, cfg.VPro.PollInterval, logger)
	}
	lm.restServer = rest.NewServer(cfg, lm, logger, lm.wsHub)
	lm.restServer.SetConnectionSink(sinks)

	return lm, nil
}

// Start brings up the live hub, the poller and the REST API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting VPRO control service",
		zap.Int("devices", lm.service.Manager().Count()))

	lm.hubCtx, lm.hubCancel = context.WithCancel(context.Background())
	go lm.wsHub.Run(lm.hubCtx)

	if lm.poller != nil {
		if err := lm.poller.Start(); err != nil {
			lm.setError(fmt.Errorf("failed to start poller: %w", err))
			return err
		}
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.transition(EventStarted)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("polling", lm.poller != nil),
		zap.Bool("mqtt", lm.publisher != nil))

	return nil
}

// Shutdown stops the REST API, the poller, the MQTT publisher and the hub. Only the first call
// does any work.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.transition(EventStop)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.transition(EventStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	if lm.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.poller.Stop()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		select {
		case err = <-errChan:
		default:
			lm.logger.Info("Graceful shutdown completed")
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	if lm.publisher != nil {
		lm.publisher.Close()
	}
	if lm.hubCancel != nil {
		lm.hubCancel()
	}
	return err
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) transition(event string) {
	if err := fire(lm.states, event); err != nil {
		lm.logger.Warn("Unexpected state transition",
			zap.String("event", event),
			zap.String("state", lm.states.Current()),
			zap.Error(err))
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.lastError = err
	lm.stateMu.Unlock()
	lm.transition(EventFail)
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	return SystemState(lm.states.Current())
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:         lm.states.Current(),
		DeviceCount:   lm.service.Manager().Count(),
		PollerRunning: lm.poller != nil && lm.poller.IsRunning(),
	}
	if !lm.startedAt.IsZero() {
		status.Uptime = time.Since(lm.startedAt).Round(time.Second).String()
	}
	if lm.lastError != nil {
		status.Error = lm.lastError.Error()
	}
	return status
}

// DeviceService returns the matrix service
func (lm *LifecycleManager) DeviceService() *devices.Service {
	return lm.service
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// RESTHandler exposes the HTTP handler, mainly for tests.
func (lm *LifecycleManager) RESTHandler() http.Handler {
	return lm.restServer.Handler()
}
