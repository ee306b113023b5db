package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeToken completes at once, or when release is closed if it is set.
type fakeToken struct {
	err     error
	release chan struct{}
}

func (t *fakeToken) Wait() bool {
	if t.release != nil {
		<-t.release
	}
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.Wait() }

func (t *fakeToken) Error() error { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	err          error
	release      chan struct{}
	messages     []published
	disconnected int
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: b.err, release: b.release}
}

func (b *fakeBroker) Messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.messages...)
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected++
	b.connected = false
}

func newTestPublisher(t *testing.T) (*Publisher, *fakeBroker) {
	t.Helper()
	b := &fakeBroker{connected: true}
	cfg := config.MQTTConfig{ClientID: "test", TopicPrefix: "vpro", QoS: 1}
	return newPublisher(b, cfg, zaptest.NewLogger(t)), b
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "vpro"}

	assert.Equal(t, "vpro/status", topics.Status())
	assert.Equal(t, "vpro/Studio-A/matrix", topics.Matrix("Studio A"))
	assert.Equal(t, "vpro/a_b_c/error", topics.Error("a/b+c"))
	assert.Equal(t, "vpro/_/connection", topics.Connection(" "))
}

func TestPublishMatrixChanged(t *testing.T) {
	p, b := newTestPublisher(t)

	p.MatrixChanged("Studio", &vpro.MatrixState{
		Connections: []vpro.Connection{{Target: 0, Sources: []int{3}}},
	})

	require.Len(t, b.messages, 1)
	msg := b.messages[0]
	assert.Equal(t, "vpro/Studio/matrix", msg.topic)
	assert.True(t, msg.retained)
	assert.Equal(t, byte(1), msg.qos)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, map[string]any{"0": float64(3)}, body["routes"])
}

func TestPublishDeviceError(t *testing.T) {
	p, b := newTestPublisher(t)

	p.DeviceError("Studio", &vpro.Error{Kind: vpro.ErrProtocolTimeout, Phase: vpro.PhaseExchange})

	require.Len(t, b.messages, 1)
	assert.False(t, b.messages[0].retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(b.messages[0].payload, &body))
	assert.Equal(t, vpro.ErrProtocolTimeout.Error(), body["kind"])
	assert.Equal(t, string(vpro.PhaseExchange), body["phase"])
}

func TestPublishConnection(t *testing.T) {
	p, b := newTestPublisher(t)

	p.ConnectionMade("Studio", &vpro.ConnectionResult{Status: vpro.StatusAcknowledged, Source: 2, Target: 1})
	p.inflight.Wait()

	require.Len(t, b.Messages(), 1)
	assert.Equal(t, "vpro/Studio/connection", b.Messages()[0].topic)
}

func TestConnectionMadeDoesNotWaitForBroker(t *testing.T) {
	p, b := newTestPublisher(t)
	b.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		p.ConnectionMade("Studio", &vpro.ConnectionResult{Status: vpro.StatusAcknowledged, Source: 2, Target: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConnectionMade blocked on a slow broker")
	}

	close(b.release)
	p.Close()

	messages := b.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "vpro/Studio/connection", messages[0].topic)
	assert.Equal(t, "vpro/status", messages[1].topic)
}

func TestConnectionMadeAfterCloseIsDropped(t *testing.T) {
	p, b := newTestPublisher(t)
	p.Close()

	p.ConnectionMade("Studio", &vpro.ConnectionResult{Status: vpro.StatusAcknowledged})
	p.inflight.Wait()

	require.Len(t, b.Messages(), 1)
	assert.Equal(t, "vpro/status", b.Messages()[0].topic)
}

func TestPublishWhileDisconnected(t *testing.T) {
	p, b := newTestPublisher(t)
	b.connected = false

	err := p.publish("vpro/x", []byte("{}"), false)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, b.messages)
}

func TestPublishFailure(t *testing.T) {
	p, b := newTestPublisher(t)
	b.err = errors.New("broker said no")

	err := p.publish("vpro/x", []byte("{}"), false)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestCloseAnnouncesOfflineOnce(t *testing.T) {
	p, b := newTestPublisher(t)

	p.Close()
	p.Close()

	require.Len(t, b.messages, 1)
	assert.Equal(t, "vpro/status", b.messages[0].topic)
	assert.Contains(t, string(b.messages[0].payload), "graceful_shutdown")
	assert.Equal(t, 1, b.disconnected)
}

func TestConnectRejectsBadQoS(t *testing.T) {
	_, err := Connect(config.MQTTConfig{Broker: "localhost", Port: 1883, QoS: 5}, nil)
	assert.ErrorIs(t, err, ErrInvalidQoS)
}
