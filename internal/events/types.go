// Package events defines event types and payloads for the gateway event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"

	// Decode path
	EventFrameDecoded      EventType = "frame_decoded"
	EventProtocolViolation EventType = "protocol_violation"
	EventHandlerError      EventType = "handler_error"

	// Operator actions
	EventCloseConnection EventType = "cmd_close_connection"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// CloseReason explains why a connection ended.
type CloseReason int

const (
	CloseReasonUnknown CloseReason = iota
	CloseReasonRemote
	CloseReasonViolation
	CloseReasonIdle
	CloseReasonOperator
	CloseReasonShutdown
)

// closeReasonStrings maps CloseReason values to their JSON string representation.
var closeReasonStrings = map[CloseReason]string{
	CloseReasonUnknown:   "unknown",
	CloseReasonRemote:    "remote",
	CloseReasonViolation: "violation",
	CloseReasonIdle:      "idle",
	CloseReasonOperator:  "operator",
	CloseReasonShutdown:  "shutdown",
}

// String returns the string representation of CloseReason.
func (r CloseReason) String() string {
	if str, ok := closeReasonStrings[r]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes CloseReason as a JSON string (e.g. "idle").
func (r CloseReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload accompanies opened and closed events.
type ConnectionPayload struct {
	SessionID string      `json:"session_id"`
	Remote    string      `json:"remote"`
	Device    string      `json:"device"`
	Reason    CloseReason `json:"reason,omitempty"`
	Frames    uint64      `json:"frames"`
	Bytes     uint64      `json:"bytes"`
	At        time.Time   `json:"at"`
}

// FramePayload describes one decoded frame.
type FramePayload struct {
	SessionID string `json:"session_id"`
	Opcode    uint8  `json:"opcode"`
	Message   string `json:"message"`
	Size      int    `json:"size"`
}

// ViolationPayload describes a terminal protocol error.
type ViolationPayload struct {
	SessionID string    `json:"session_id"`
	Remote    string    `json:"remote"`
	Device    string    `json:"device"`
	Kind      string    `json:"kind"`
	Opcode    int       `json:"opcode"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// HandlerErrorPayload describes a handler that failed or panicked.
type HandlerErrorPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Panicked  bool   `json:"panicked"`
}

// CloseConnectionPayload is the operator request to drop a session.
type CloseConnectionPayload struct {
	SessionID string
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
