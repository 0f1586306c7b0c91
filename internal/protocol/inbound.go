package protocol

import (
	"encoding/json"
	"fmt"
)

// Client frame type names.
const (
	TypeSubscribe         = "subscribe"
	TypeUnsubscribe       = "unsubscribe"
	TypeJoinRoom          = "join_room"
	TypeLeaveRoom         = "leave_room"
	TypeStartStream       = "start_stream"
	TypeStopStream        = "stop_stream"
	TypeGetMetrics        = "get_metrics"
	TypePing              = "ping"
	TypeGetConnectionInfo = "get_connection_info"
	TypeUpdateSettings    = "update_settings"
)

// Inbound is the decoded form of one client frame.
type Inbound interface{ inboundFrame() }

type baseInbound struct{}

func (baseInbound) inboundFrame() {}

type SubscribeFrame struct {
	baseInbound
	EventTypes []string
}

type UnsubscribeFrame struct {
	baseInbound
	EventTypes []string
}

type JoinRoomFrame struct {
	baseInbound
	Room string
}

type LeaveRoomFrame struct {
	baseInbound
	Room string
}

type StartStreamFrame struct {
	baseInbound
	StreamType string
	Interval   int // milliseconds
	Filters    map[string]any
}

type StopStreamFrame struct {
	baseInbound
	StreamType string
}

type GetMetricsFrame struct {
	baseInbound
	Metrics   []string
	Timeframe string
}

type PingFrame struct{ baseInbound }

type GetConnectionInfoFrame struct{ baseInbound }

type UpdateSettingsFrame struct {
	baseInbound
	Settings map[string]any
}

// MalformedError reports an undecodable frame. Non-fatal.
type MalformedError struct {
	cause error
}

func (e *MalformedError) Error() string { return fmt.Sprintf("malformed message: %v", e.cause) }
func (e *MalformedError) Unwrap() error { return e.cause }

// UnknownTypeError reports a frame with an unrecognized type tag. Non-fatal.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string { return fmt.Sprintf("unknown message type %q", e.Type) }

// rawInbound is the superset of fields across all client frames.
// Older clients send "channels" instead of "event_types"; both are accepted.
type rawInbound struct {
	Type       string         `json:"type"`
	EventTypes []string       `json:"event_types"`
	Channels   []string       `json:"channels"`
	Room       string         `json:"room"`
	StreamType string         `json:"stream_type"`
	Interval   int            `json:"interval"`
	Filters    map[string]any `json:"filters"`
	Metrics    []string       `json:"metrics"`
	Timeframe  string         `json:"timeframe"`
	Settings   map[string]any `json:"settings"`
}

func (r *rawInbound) eventTypes() []string {
	if len(r.EventTypes) > 0 {
		return r.EventTypes
	}
	return r.Channels
}

// DecodeInbound parses one client frame.
// Returns *MalformedError for invalid JSON and *UnknownTypeError for an
// unrecognized type tag; both are recoverable by the caller.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedError{cause: err}
	}

	switch raw.Type {
	case TypeSubscribe:
		return &SubscribeFrame{EventTypes: raw.eventTypes()}, nil
	case TypeUnsubscribe:
		return &UnsubscribeFrame{EventTypes: raw.eventTypes()}, nil
	case TypeJoinRoom:
		return &JoinRoomFrame{Room: raw.Room}, nil
	case TypeLeaveRoom:
		return &LeaveRoomFrame{Room: raw.Room}, nil
	case TypeStartStream:
		return &StartStreamFrame{StreamType: raw.StreamType, Interval: raw.Interval, Filters: raw.Filters}, nil
	case TypeStopStream:
		return &StopStreamFrame{StreamType: raw.StreamType}, nil
	case TypeGetMetrics:
		return &GetMetricsFrame{Metrics: raw.Metrics, Timeframe: raw.Timeframe}, nil
	case TypePing:
		return &PingFrame{}, nil
	case TypeGetConnectionInfo:
		return &GetConnectionInfoFrame{}, nil
	case TypeUpdateSettings:
		return &UpdateSettingsFrame{Settings: raw.Settings}, nil
	default:
		return nil, &UnknownTypeError{Type: raw.Type}
	}
}

// FrameType returns the wire name of an inbound frame, used as the
// rate-limit action key.
func FrameType(f Inbound) string {
	switch f.(type) {
	case *SubscribeFrame:
		return TypeSubscribe
	case *UnsubscribeFrame:
		return TypeUnsubscribe
	case *JoinRoomFrame:
		return TypeJoinRoom
	case *LeaveRoomFrame:
		return TypeLeaveRoom
	case *StartStreamFrame:
		return TypeStartStream
	case *StopStreamFrame:
		return TypeStopStream
	case *GetMetricsFrame:
		return TypeGetMetrics
	case *PingFrame:
		return TypePing
	case *GetConnectionInfoFrame:
		return TypeGetConnectionInfo
	case *UpdateSettingsFrame:
		return TypeUpdateSettings
	default:
		return "unknown"
	}
}
