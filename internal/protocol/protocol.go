// Package protocol defines the JSON frames exchanged over a chat connection.
//
// Every frame is a single JSON object of the form
//
//	{"event": "<name>", "payload": {...}}
//
// Inbound frames decode into one of a closed set of Event kinds. Names the
// server does not know decode into Unknown so that newer clients keep working.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Event names used on the wire.
const (
	EventJoin          = "join"
	EventChatMessage   = "chat message"
	EventDisconnect    = "disconnect"
	EventServerMessage = "server message"
	EventError         = "error"
)

// MessageTypeText is the only message type produced by the server.
const MessageTypeText = "text"

var (
	// ErrMalformedFrame marks frames that are not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingField marks frames lacking a required field.
	ErrMissingField = errors.New("missing field")
)

// ProtocolError describes why an inbound frame was rejected. The connection
// that sent it stays open.
type ProtocolError struct {
	Event  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("protocol: %s", e.Reason)
	}
	return fmt.Sprintf("protocol: %s: %s", e.Event, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Envelope is the top-level wire format.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is implemented by every inbound event kind.
type Event interface {
	Name() string
	isEvent()
}

// Join asks the server to move the connection into a room.
type Join struct {
	UserID int64
	RoomID int64
}

// ChatMessage posts text to a room.
type ChatMessage struct {
	UserID int64
	RoomID int64
	Text   string
}

// Disconnect asks the server to close the connection.
type Disconnect struct{}

// Unknown carries any event name this server does not handle.
type Unknown struct {
	Event string
}

func (Join) Name() string        { return EventJoin }
func (ChatMessage) Name() string { return EventChatMessage }
func (Disconnect) Name() string  { return EventDisconnect }
func (u Unknown) Name() string   { return u.Event }

func (Join) isEvent()        {}
func (ChatMessage) isEvent() {}
func (Disconnect) isEvent()  {}
func (Unknown) isEvent()     {}

type userRef struct {
	ID *int64 `json:"id"`
}

type joinPayload struct {
	User   *userRef `json:"user"`
	RoomID *int64   `json:"roomId"`
}

type chatPayload struct {
	User   *userRef `json:"user"`
	RoomID *int64   `json:"roomId"`
	Text   *string  `json:"text"`
}

// Decode parses one text frame. Errors are always *ProtocolError.
func Decode(frame []byte) (Event, error) {
	if !utf8.Valid(frame) {
		return nil, &ProtocolError{Reason: "invalid utf-8", Err: ErrMalformedFrame}
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid json: " + err.Error(), Err: ErrMalformedFrame}
	}
	if env.Event == "" {
		return nil, missing("", "event")
	}

	switch env.Event {
	case EventJoin:
		return decodeJoin(env.Payload)
	case EventChatMessage:
		return decodeChatMessage(env.Payload)
	case EventDisconnect:
		return Disconnect{}, nil
	default:
		return Unknown{Event: env.Event}, nil
	}
}

func decodeJoin(raw json.RawMessage) (Event, error) {
	var p joinPayload
	if err := unmarshalPayload(EventJoin, raw, &p); err != nil {
		return nil, err
	}
	if p.RoomID == nil {
		return nil, missing(EventJoin, "payload.roomId")
	}
	if p.User == nil || p.User.ID == nil {
		return nil, missing(EventJoin, "payload.user.id")
	}
	return Join{UserID: *p.User.ID, RoomID: *p.RoomID}, nil
}

func decodeChatMessage(raw json.RawMessage) (Event, error) {
	var p chatPayload
	if err := unmarshalPayload(EventChatMessage, raw, &p); err != nil {
		return nil, err
	}
	if p.RoomID == nil {
		return nil, missing(EventChatMessage, "payload.roomId")
	}
	if p.User == nil || p.User.ID == nil {
		return nil, missing(EventChatMessage, "payload.user.id")
	}
	if p.Text == nil || strings.TrimSpace(*p.Text) == "" {
		return nil, missing(EventChatMessage, "payload.text")
	}
	return ChatMessage{UserID: *p.User.ID, RoomID: *p.RoomID, Text: *p.Text}, nil
}

func unmarshalPayload(event string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return missing(event, "payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ProtocolError{Event: event, Reason: "invalid payload: " + err.Error(), Err: ErrMalformedFrame}
	}
	return nil
}

func missing(event, field string) error {
	return &ProtocolError{Event: event, Reason: field + " is required", Err: ErrMissingField}
}
