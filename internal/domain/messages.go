package domain

import "encoding/json"

// Signaling message kinds. The relay never inspects payloads; kinds only
// drive routing and the event name on the wire.
const (
	KindOffer        = "offer"
	KindAnswer       = "answer"
	KindICECandidate = "ice-candidate"
	KindJoin         = "join"
	KindLeave        = "leave"
	KindError        = "error"
)

// IsSignalKind reports whether kind is one of the peer-originated
// negotiation kinds a client may submit.
func IsSignalKind(kind string) bool {
	switch kind {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// SignalingMessage is the unit routed by the relay: an opaque WebRTC
// negotiation payload scoped to a room and attributed to a sender.
type SignalingMessage struct {
	RoomID   string          `json:"roomId"`
	SenderID string          `json:"senderId"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// WebSocket wire frames. Client -> server frames carry a type plus the
// fields for that type; server -> peer frames reuse the same type names.

// BaseFrame is decoded first to discriminate the frame type.
type BaseFrame struct {
	Type string `json:"type"`
}

// JoinFrame is sent by a client to enter a room. Join-before-use: no frame
// other than join is accepted until the client is in a room.
type JoinFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// SignalFrame carries an offer/answer/ice-candidate payload. On the way to
// peers it additionally carries the sender's connection id.
type SignalFrame struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// JoinedFrame is the server's acknowledgement of a join. The connection id
// is the client's handle for subsequent requests.
type JoinedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	RoomID       string `json:"roomId"`
}

// ErrorFrame is sent when a client frame cannot be processed.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    KindError,
		Code:    code,
		Message: message,
	}
}

// PostMessageRequest is the body of the SSE companion POST endpoint.
type PostMessageRequest struct {
	ConnectionID string          `json:"connectionId"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// FrameFor converts a routed message into the frame peers receive.
func FrameFor(msg *SignalingMessage) *SignalFrame {
	return &SignalFrame{
		Type:     msg.Kind,
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Payload:  msg.Payload,
	}
}
