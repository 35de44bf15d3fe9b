package chat

import (
	"encoding/json"
	"fmt"

	"relaychat/internal/app/message"
)

// Event names carried in the "type" field of every frame.
const (
	EventChatMessage    = "chat:message"
	EventChatHistory    = "chat_history"
	EventChatError      = "chat:error"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventPresenceUpdate = "presence:update"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Frame is the JSON envelope exchanged with WebSocket clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundChatPayload is the body of a client's chat:message.
type InboundChatPayload struct {
	Text string `json:"text"`
}

// ChatMessagePayload is a chat message as clients see it. At is the persisted
// timestamp in Unix milliseconds.
type ChatMessagePayload struct {
	User string `json:"user"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// ErrorPayload is the body of chat:error.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UserEventPayload is the body of user:online and user:offline.
type UserEventPayload struct {
	UserID string `json:"userId"`
}

// PresencePayload is the body of presence:update.
type PresencePayload struct {
	OnlineUsers []string `json:"onlineUsers"`
}

// NewChatMessagePayload converts a persisted message to its wire form.
func NewChatMessagePayload(m message.Message) ChatMessagePayload {
	return ChatMessagePayload{
		User: m.UserID,
		Text: m.Content,
		At:   m.CreatedAt.UnixMilli(),
	}
}

// HistoryPayload converts messages (oldest first) to the chat_history body.
func HistoryPayload(msgs []message.Message) []ChatMessagePayload {
	out := make([]ChatMessagePayload, len(msgs))
	for i, m := range msgs {
		out[i] = NewChatMessagePayload(m)
	}
	return out
}

// encodeFrame marshals an event and its payload into a single text frame.
func encodeFrame(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = b
	}

	b, err := json.Marshal(Frame{Type: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}
	return b, nil
}
