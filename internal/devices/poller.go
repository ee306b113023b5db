package devices

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"go.uber.org/zap"
)

// EventSink receives matrix changes observed by the poller.
type EventSink interface {
	MatrixChanged(device string, state *vpro.MatrixState)
	DeviceError(device string, err error)
}

// ConnectionSink is told about the outcome of connect commands.
type ConnectionSink interface {
	ConnectionMade(device string, result *vpro.ConnectionResult)
}

// Sinks fans events out to every member. Members that also implement
// ConnectionSink receive connection events.
type Sinks []EventSink

func (s Sinks) MatrixChanged(device string, state *vpro.MatrixState) {
	for _, sink := range s {
		sink.MatrixChanged(device, state)
	}
}

func (s Sinks) DeviceError(device string, err error) {
	for _, sink := range s {
		sink.DeviceError(device, err)
	}
}

func (s Sinks) ConnectionMade(device string, result *vpro.ConnectionResult) {
	for _, sink := range s {
		if cs, ok := sink.(ConnectionSink); ok {
			cs.ConnectionMade(device, result)
		}
	}
}

// Poller periodically queries every registered device and reports routing
// changes.
type Poller struct {
	service  *Service
	sink     EventSink
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	last map[string][]vpro.Connection
}

func NewPoller(service *Service, sink EventSink, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		service:  service,
		sink:     sink,
		interval: interval,
		logger:   logger,
		last:     make(map[string][]vpro.Connection),
	}
}

// Start begins polling. It is a no-op when already running.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))

	return nil
}

// Stop halts polling and waits for an in-flight round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	p.Poll(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one polling round.
func (p *Poller) Poll(ctx context.Context) {
	for _, snap := range p.service.QueryAll(ctx) {
		name := snap.Device.Name
		if snap.Err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Poll failed",
				zap.String("device", name),
				zap.Error(snap.Err))
			p.sink.DeviceError(name, snap.Err)
			continue
		}

		p.mu.Lock()
		prev, seen := p.last[name]
		changed := !seen || !sameConnections(prev, snap.State.Connections)
		p.last[name] = snap.State.Connections
		p.mu.Unlock()

		if changed {
			p.logger.Debug("Matrix changed", zap.String("device", name))
			p.sink.MatrixChanged(name, snap.State)
		}
	}
}

func sameConnections(a, b []vpro.Connection) bool {
	return slices.EqualFunc(a, b, func(x, y vpro.Connection) bool {
		return x.Target == y.Target && slices.Equal(x.Sources, y.Sources)
	})
}
