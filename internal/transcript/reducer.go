package transcript

import (
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/chatlink/internal/protocol"
)

const (
	// DefaultErrorText is shown when an error event carries no message.
	DefaultErrorText = "Something went wrong"
	// DefaultAuthMessage is shown when a connection_required event carries no message.
	DefaultAuthMessage = "Please authorize to continue"
)

// AuthPhase is the position in the external authorization interrupt.
type AuthPhase string

const (
	AuthIdle                 AuthPhase = "idle"
	AuthAwaitingAction       AuthPhase = "awaiting_action"
	AuthAwaitingConfirmation AuthPhase = "awaiting_confirmation"
)

// AuthPrompt is the pending authorization request, if any.
type AuthPrompt struct {
	Phase       AuthPhase `json:"phase"`
	Toolkit     string    `json:"toolkit,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Pending reports whether an authorization is outstanding.
func (p AuthPrompt) Pending() bool {
	return p.Phase == AuthAwaitingAction || p.Phase == AuthAwaitingConfirmation
}

// State is the conversation state derived alongside the transcript.
type State struct {
	ActiveConversationID string     `json:"active_conversation_id,omitempty"`
	Loading              bool       `json:"loading"`
	Auth                 AuthPrompt `json:"auth"`
}

// NewState returns the state of a fresh conversation.
func NewState() State {
	return State{Auth: AuthPrompt{Phase: AuthIdle}}
}

// Reducer turns events into transcript items. It holds no transcript and
// performs no I/O; Now and NewID default to the wall clock and random UUIDs.
type Reducer struct {
	Now   func() time.Time
	NewID func(prefix string) string
}

// Fold applies one decoded event to the prior state and returns the item to
// append together with the new state. Events outside the known tag set
// return a nil item and the unchanged state.
func (r *Reducer) Fold(prev State, ev protocol.Event) (Item, State) {
	next := prev
	data := ev.Data
	if data == nil {
		data = protocol.Payload{}
	}

	switch ev.Type {
	case protocol.TypeReply:
		next.Loading = false
		if id := data.ConversationID(); id != "" {
			next.ActiveConversationID = id
		}
		return MessageItem{
			ID:        r.newID("msg"),
			Role:      RoleAssistant,
			Content:   data.Reply().Content,
			Timestamp: r.now(),
		}, next

	case protocol.TypeError:
		next.Loading = false
		msg := data.Error().Message
		if msg == "" {
			msg = DefaultErrorText
		}
		return MessageItem{
			ID:        r.newID("err"),
			Role:      RoleAssistant,
			Content:   "Error: " + msg,
			Timestamp: r.now(),
		}, next
	}

	if !ev.Type.IsActivity() {
		return nil, prev
	}

	if ev.Type.PinsConversation() {
		if id := data.ConversationID(); id != "" {
			next.ActiveConversationID = id
		}
	}

	if ev.Type == protocol.TypeConnectionRequired {
		req := data.ConnectionRequired()
		msg := req.Message
		if msg == "" {
			msg = DefaultAuthMessage
		}
		next.Auth = AuthPrompt{
			Phase:       AuthAwaitingAction,
			Toolkit:     req.Toolkit,
			RedirectURL: req.RedirectURL,
			Message:     msg,
		}
	}

	return ActivityItem{
		ID:        r.newID("act"),
		Kind:      ev.Type,
		Data:      data,
		Timestamp: r.now(),
	}, next
}

// UserMessage builds the optimistic item for a locally sent message.
func (r *Reducer) UserMessage(text string) MessageItem {
	return MessageItem{
		ID:        r.newID("msg"),
		Role:      RoleUser,
		Content:   text,
		Timestamp: r.now(),
	}
}

func (r *Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reducer) newID(prefix string) string {
	if r.NewID != nil {
		return r.NewID(prefix)
	}
	return prefix + "-" + uuid.New().String()
}
