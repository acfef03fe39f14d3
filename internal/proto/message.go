package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin = "join"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventVisitors = "visitors"
)

// JoinData announces the identity of the connected viewer.
type JoinData struct {
	IP          string      `json:"ip"`
	Location    *string     `json:"location,omitempty"`
	Coordinates *[2]float64 `json:"coordinates,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Visitor is one entry of the visitors event. Absent fields are sent as null.
type Visitor struct {
	IP          string      `json:"ip"`
	Location    *string     `json:"location"`
	Coordinates *[2]float64 `json:"coordinates"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
