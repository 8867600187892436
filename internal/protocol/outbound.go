package protocol

import "encoding/json"

// User is the public profile embedded in outbound messages.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture"`
}

// OutboundMessage is the payload of a "server message" frame.
type OutboundMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
	User User   `json:"user"`
}

// ErrorPayload is the payload of an "error" frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeServerMessage returns the frame delivered to room members.
func EncodeServerMessage(m OutboundMessage) ([]byte, error) {
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	return encode(EventServerMessage, m)
}

// EncodeError returns an error frame for the originating connection.
func EncodeError(message string) ([]byte, error) {
	return encode(EventError, ErrorPayload{Message: message})
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
