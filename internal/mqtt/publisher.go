package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

// broker is the part of pahomqtt.Client the publisher uses.
type broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors matrix events to an MQTT broker. It implements the
// poller's event sink, so it can run next to the websocket hub.
type Publisher struct {
	client   broker
	topics   Topics
	qos      byte
	clientID string
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	closeOnce sync.Once
}

// Connect dials the broker and announces the service as online.
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg)
	opts.SetWill(topics.Status(), statusPayload(cfg.ClientID, "offline", "unexpected_disconnect"), byte(cfg.QoS), true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(client, cfg, logger)
	if err := p.publish(topics.Status(), []byte(statusPayload(cfg.ClientID, "online", "")), true); err != nil {
		logger.Warn("Failed to publish online status", zap.Error(err))
	}

	logger.Info("MQTT publisher connected",
		zap.String("broker", cfg.Broker),
		zap.String("prefix", cfg.TopicPrefix))
	return p, nil
}

func newPublisher(client broker, cfg config.MQTTConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topics:   Topics{Prefix: cfg.TopicPrefix},
		qos:      byte(cfg.QoS),
		clientID: cfg.ClientID,
		logger:   logger,
	}
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

// MatrixChanged publishes the routing table as a retained message.
func (p *Publisher) MatrixChanged(device string, state *vpro.MatrixState) {
	p.publishJSON(p.topics.Matrix(device), true, map[string]any{
		"device":    device,
		"routes":    state.Routes(),
		"state":     state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// DeviceError publishes a query failure.
func (p *Publisher) DeviceError(device string, err error) {
	body := map[string]any{
		"device":    device,
		"message":   err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	var e *vpro.Error
	if errors.As(err, &e) {
		body["kind"] = e.Kind.Error()
		body["phase"] = e.Phase
	}
	p.publishJSON(p.topics.Error(device), false, body)
}

// ConnectionMade publishes the outcome of a connect command in the
// background. It runs on the HTTP request path and must not wait for the
// broker.
func (p *Publisher) ConnectionMade(device string, result *vpro.ConnectionResult) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	topic := p.topics.Connection(device)
	go func() {
		defer p.inflight.Done()
		p.publishJSON(topic, false, result)
	}()
}

func (p *Publisher) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to encode MQTT payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := p.publish(topic, payload, retained); err != nil {
		p.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close waits for background publishes, announces a graceful shutdown and
// disconnects.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.inflight.Wait()

		if p.client.IsConnected() {
			_ = p.publish(p.topics.Status(), []byte(statusPayload(p.clientID, "offline", "graceful_shutdown")), true)
		}
		p.client.Disconnect(defaultDisconnectQuiesce)
	})
}

func statusPayload(clientID, status, reason string) string {
	payload, _ := json.Marshal(map[string]string{
		"status":    status,
		"client_id": clientID,
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}
