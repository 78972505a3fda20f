// Package protocol defines the wire format of the OpenClaw gateway
// WebSocket RPC channel: request/response/event frames and the method and
// event names the control plane uses.
package protocol

import "encoding/json"

// Frame type discriminators.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is a client→server RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the server's reply to a RequestFrame with the same ID.
type ResponseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape carries a failed response's message.
type ErrorShape struct {
	Message string `json:"message"`
}

// EventFrame is a server-push notification, interleaved between a request
// and its response.
type EventFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// ParseFrameType peeks at a raw frame's type discriminator without
// decoding the full payload.
func ParseFrameType(raw []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}
