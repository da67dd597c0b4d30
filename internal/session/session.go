// Package session bridges user actions to the connection manager and folds
// inbound events into the conversation transcript.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/conn"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
	"github.com/xiaot623/gogo/chatlink/internal/rag"
	"github.com/xiaot623/gogo/chatlink/internal/transcript"
)

var (
	ErrEmptyUserID     = errors.New("user id is empty")
	ErrUserAlreadySet  = errors.New("user id already set for this session")
	ErrNoUser          = errors.New("no user id set")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNoConversation  = errors.New("no active conversation")
	ErrNoPendingAuth   = errors.New("no authorization pending")
	ErrUploadsDisabled = errors.New("file upload is not configured")
)

// Sender is the outbound side of the connection. *conn.Manager implements it.
type Sender interface {
	Connect(ctx context.Context)
	Send(message, userID, conversationID string) error
	SendRaw(payload map[string]any) error
	Status() conn.Status
}

// Uploader receives files selected by the user. *rag.Client implements it.
type Uploader interface {
	UploadPDF(ctx context.Context, path string) (*rag.PDFUploadResponse, error)
}

// Observer is notified after each change, in the order changes were applied.
// Callbacks must not call back into the Session's mutating methods.
type Observer struct {
	OnAppend      func(transcript.Item)
	OnStateChange func(transcript.State)
	OnReset       func()
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	UserID string
	Items  []transcript.Item
	State  transcript.State
	Status conn.Status
}

// Session holds the user identity, the transcript and the derived conversation state.
type Session struct {
	sender   Sender
	uploader Uploader
	reducer  *transcript.Reducer
	logger   *zap.Logger
	observer Observer

	mu     sync.Mutex
	userID string
	items  transcript.Transcript
	state  transcript.State

	// notifyMu keeps observer calls in the order the changes were applied.
	notifyMu sync.Mutex
}

// New creates a session. uploader may be nil, which disables SelectFile.
func New(sender Sender, uploader Uploader, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		sender:   sender,
		uploader: uploader,
		reducer:  &transcript.Reducer{},
		logger:   logger.Named("session"),
		state:    transcript.NewState(),
	}
}

// Observe installs the change observer. Call before any other method.
func (s *Session) Observe(o Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observer = o
}

// SubmitUserID sets the session's user and asks the connection to open.
func (s *Session) SubmitUserID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyUserID
	}

	s.mu.Lock()
	if s.userID != "" {
		s.mu.Unlock()
		return ErrUserAlreadySet
	}
	s.userID = id
	s.mu.Unlock()

	s.logger.Info("user set", zap.String("user_id", id))
	s.sender.Connect(ctx)
	return nil
}

// SendText appends the user's message, marks the conversation as loading and
// sends it. Blank text and a missing user are no-ops.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return ErrNoUser
	}
	item := s.reducer.UserMessage(text)
	s.items.Append(item)
	s.state.Loading = true
	state := s.state
	userID := s.userID
	s.mu.Unlock()

	s.emitAppend(item)
	s.emitState(state)

	return s.sender.Send(text, userID, state.ActiveConversationID)
}

// SelectFile hands the file to the uploader. Nothing is recorded in the transcript.
func (s *Session) SelectFile(ctx context.Context, path string) (*rag.PDFUploadResponse, error) {
	if s.uploader == nil {
		return nil, ErrUploadsDisabled
	}
	return s.uploader.UploadPDF(ctx, path)
}

// OpenAuthWindow records that the user started the out-of-band authorization
// and returns the URL to visit.
func (s *Session) OpenAuthWindow() (string, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	switch s.state.Auth.Phase {
	case transcript.AuthAwaitingAction:
		s.state.Auth.Phase = transcript.AuthAwaitingConfirmation
	case transcript.AuthAwaitingConfirmation:
		url := s.state.Auth.RedirectURL
		s.mu.Unlock()
		return url, nil
	default:
		s.mu.Unlock()
		return "", ErrNoPendingAuth
	}
	state := s.state
	s.mu.Unlock()

	s.emitState(state)
	return state.Auth.RedirectURL, nil
}

// ConfirmAuthCompleted sends the resume signal for the active conversation.
// It is a no-op without a user or a pinned conversation.
func (s *Session) ConfirmAuthCompleted() error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return ErrNoUser
	}
	if s.state.ActiveConversationID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	s.state.Loading = true
	s.state.Auth = transcript.AuthPrompt{Phase: transcript.AuthIdle}
	state := s.state
	msg := protocol.NewAuthCompleted(s.userID, state.ActiveConversationID)
	s.mu.Unlock()

	s.emitState(state)
	return s.sender.SendRaw(msg.Payload())
}

// NewChat clears the transcript and the conversation state. The connection is left as is.
func (s *Session) NewChat() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.items.Reset()
	s.state = transcript.NewState()
	state := s.state
	s.mu.Unlock()

	if s.observer.OnReset != nil {
		s.observer.OnReset()
	}
	s.emitState(state)
}

// HandleEvent folds an inbound event into the transcript.
func (s *Session) HandleEvent(ev protocol.Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	item, next := s.reducer.Fold(s.state, ev)
	if item == nil {
		s.mu.Unlock()
		s.logger.Warn("ignoring event with unknown type", zap.String("type", string(ev.Type)))
		return
	}
	s.items.Append(item)
	changed := next != s.state
	s.state = next
	s.mu.Unlock()

	s.emitAppend(item)
	if changed {
		s.emitState(next)
	}
}

// UserID returns the session's user, or "" before SubmitUserID.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the current conversation state.
func (s *Session) State() transcript.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the authorization prompt.
func (s *Session) Pending() transcript.AuthPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Auth
}

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		UserID: s.userID,
		Items:  s.items.Items(),
		State:  s.state,
	}
	s.mu.Unlock()
	snap.Status = s.sender.Status()
	return snap
}

func (s *Session) emitAppend(item transcript.Item) {
	if s.observer.OnAppend != nil {
		s.observer.OnAppend(item)
	}
}

func (s *Session) emitState(state transcript.State) {
	if s.observer.OnStateChange != nil {
		s.observer.OnStateChange(state)
	}
}
