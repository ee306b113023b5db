package websocket

import (
	"errors"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Matrix messages
	MessageTypeMatrixChanged  MessageType = "matrix_changed"
	MessageTypeConnectionMade MessageType = "connection_made"

	// Device messages
	MessageTypeDeviceError MessageType = "device_error"

	// Replies to client commands
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Device    string      `json:"device,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// MatrixChangedData carries the full routing of a device
type MatrixChangedData struct {
	Routes map[int]int       `json:"routes"`
	State  *vpro.MatrixState `json:"state"`
}

// DeviceErrorData describes a failed device query
type DeviceErrorData struct {
	Kind    string `json:"kind,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
}

// ConnectionData describes a connect command and its outcome
type ConnectionData struct {
	Source  int    `json:"source"`
	Target  int    `json:"target"`
	Status  string `json:"status"`
	Pending bool   `json:"pending,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ClientCommand is a message sent by a client.
// {"type": "subscribe", "devices": ["studio-a"]}; an empty list means all.
type ClientCommand struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, device string, data interface{}) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Device:    device,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMatrixChangedMessage(device string, state *vpro.MatrixState) Message {
	return NewMessage(MessageTypeMatrixChanged, device, MatrixChangedData{
		Routes: state.Routes(),
		State:  state,
	})
}

func NewDeviceErrorMessage(device string, err error) Message {
	data := DeviceErrorData{Message: err.Error()}
	var e *vpro.Error
	if errors.As(err, &e) {
		data.Kind = e.Kind.Error()
		data.Phase = string(e.Phase)
	}
	return NewMessage(MessageTypeDeviceError, device, data)
}

func NewConnectionMessage(device string, result *vpro.ConnectionResult) Message {
	return NewMessage(MessageTypeConnectionMade, device, ConnectionData{
		Source:  result.Source,
		Target:  result.Target,
		Status:  string(result.Status),
		Pending: result.Pending,
		Reason:  result.Reason,
	})
}
