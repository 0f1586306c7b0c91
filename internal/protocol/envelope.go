package protocol

import (
	"encoding/json"
	"time"
)

// Server frame type names.
const (
	TypeConnectionEstablished = "connection_established"
	TypeSubscribed            = "subscribed"
	TypeUnsubscribed          = "unsubscribed"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypeStreamStarted         = "stream_started"
	TypeStreamStopped         = "stream_stopped"
	TypeMetricsUpdate         = "metrics_update"
	TypeStreamError           = "stream_error"
	TypeMetricsSnapshot       = "metrics_snapshot"
	TypeConnectionInfo        = "connection_info"
	TypeSettingsUpdated       = "settings_updated"
	TypeHeartbeat             = "heartbeat"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Envelope is the canonical shape of every outbound frame.
// Event is the subscription routing key for workspace broadcasts: when
// empty the frame is delivered to every connection in scope, otherwise
// only to connections subscribed to that event type.
type Envelope struct {
	Type      string `json:"type"`
	Event     string `json:"event,omitempty"`
	Data      any    `json:"data,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewEnvelope builds a frame of the given type stamped at the given time.
func NewEnvelope(frameType string, data any, at time.Time) Envelope {
	return Envelope{
		Type:      frameType,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewEventEnvelope builds a workspace-broadcast frame routed by event type.
func NewEventEnvelope(eventType string, data any, at time.Time) Envelope {
	return Envelope{
		Type:      eventType,
		Event:     eventType,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorDetail is the payload of an error frame.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorEnvelope builds a non-fatal error frame.
func NewErrorEnvelope(code int, message string, details any, at time.Time) Envelope {
	return Envelope{
		Type:      TypeError,
		Data:      ErrorDetail{Code: code, Message: message, Details: details},
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}
