// Package protocol defines the WebSocket message protocol between the chat client and the backend.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType is the tag of a server-to-client event.
type EventType string

// Event types from backend to client
const (
	TypeRagContext            EventType = "rag_context"
	TypeToolSearch            EventType = "tool_search"
	TypeToolCall              EventType = "tool_call"
	TypeToolResult            EventType = "tool_result"
	TypeReply                 EventType = "reply"
	TypeError                 EventType = "error"
	TypeConnectionStatus      EventType = "connection_status"
	TypeConnectionRequired    EventType = "connection_required"
	TypeConnectionWaiting     EventType = "connection_waiting"
	TypeConnectionEstablished EventType = "connection_established"
)

// Message types from client to backend
const (
	TypeAuthCompleted = "auth_completed"
)

var eventTypes = []EventType{
	TypeRagContext,
	TypeToolSearch,
	TypeToolCall,
	TypeToolResult,
	TypeReply,
	TypeError,
	TypeConnectionStatus,
	TypeConnectionRequired,
	TypeConnectionWaiting,
	TypeConnectionEstablished,
}

// AllEventTypes returns the closed set of inbound event tags.
func AllEventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// Valid reports whether t is one of the known event tags.
func (t EventType) Valid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsActivity reports whether events of this type become activity records
// rather than chat messages.
func (t EventType) IsActivity() bool {
	return t.Valid() && t != TypeReply && t != TypeError
}

// PinsConversation reports whether the conversation id carried by events of
// this type is adopted as the active conversation.
func (t EventType) PinsConversation() bool {
	switch t {
	case TypeRagContext, TypeToolSearch, TypeToolCall, TypeToolResult,
		TypeConnectionStatus, TypeConnectionRequired, TypeReply:
		return true
	}
	return false
}

// Event is a decoded server-to-client event: a tag plus its tag-specific payload.
type Event struct {
	Type EventType `json:"type"`
	Data Payload   `json:"data"`
}

// NewEvent builds an event, normalizing a nil payload to an empty one.
func NewEvent(t EventType, data Payload) Event {
	if data == nil {
		data = Payload{}
	}
	return Event{Type: t, Data: data}
}

// ChatMessage is an ordinary chat turn sent by the client.
type ChatMessage struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// AuthCompletedMessage tells the backend the user finished an out-of-band
// authorization step and the paused conversation can resume.
type AuthCompletedMessage struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// NewAuthCompleted builds the resume signal for a conversation.
func NewAuthCompleted(userID, conversationID string) AuthCompletedMessage {
	return AuthCompletedMessage{
		Type:           TypeAuthCompleted,
		UserID:         userID,
		ConversationID: conversationID,
	}
}

// Payload returns the message in the untyped form accepted by SendRaw.
func (m AuthCompletedMessage) Payload() map[string]any {
	return map[string]any{
		"type":            m.Type,
		"user_id":         m.UserID,
		"conversation_id": m.ConversationID,
	}
}

// ClientMessage is any frame sent by a client, as seen by the backend.
type ClientMessage struct {
	Type           string `json:"type,omitempty"`
	Message        string `json:"message,omitempty"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// IsAuthCompleted reports whether the frame is a resume signal.
func (m ClientMessage) IsAuthCompleted() bool {
	return m.Type == TypeAuthCompleted
}

// DecodeClientMessage parses a client frame on the backend side.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if msg.UserID == "" {
		return ClientMessage{}, fmt.Errorf("%w: user_id is required", ErrMalformedEvent)
	}
	if msg.Type != "" && !msg.IsAuthCompleted() {
		return ClientMessage{}, fmt.Errorf("%w: unknown message type %q", ErrMalformedEvent, msg.Type)
	}
	return msg, nil
}

// Encode marshals any outbound frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
