package devserver

import (
	"strings"
	"sync"
)

// pendingTurn is a chat turn paused until the user authorizes a toolkit.
type pendingTurn struct {
	UserID  string
	Toolkit string
	Message string
}

// script holds the scripted backend's per-user state.
type script struct {
	toolkits []string

	mu         sync.Mutex
	authorized map[string]map[string]bool // user_id -> toolkit
	pending    map[string]pendingTurn     // conversation_id -> turn
}

func newScript(toolkits []string) *script {
	normalized := make([]string, 0, len(toolkits))
	for _, tk := range toolkits {
		if tk = strings.ToLower(strings.TrimSpace(tk)); tk != "" {
			normalized = append(normalized, tk)
		}
	}
	return &script{
		toolkits:   normalized,
		authorized: make(map[string]map[string]bool),
		pending:    make(map[string]pendingTurn),
	}
}

// mentionedToolkit returns the first configured toolkit named in the message.
func (s *script) mentionedToolkit(message string) string {
	lower := strings.ToLower(message)
	for _, tk := range s.toolkits {
		if strings.Contains(lower, tk) {
			return tk
		}
	}
	return ""
}

func (s *script) isAuthorized(userID, toolkit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[userID][toolkit]
}

func (s *script) authorize(userID, toolkit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authorized[userID] == nil {
		s.authorized[userID] = make(map[string]bool)
	}
	s.authorized[userID][toolkit] = true
}

func (s *script) park(conversationID string, turn pendingTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[conversationID] = turn
}

// resume removes and returns the paused turn for a conversation.
func (s *script) resume(conversationID, userID string) (pendingTurn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.pending[conversationID]
	if !ok || turn.UserID != userID {
		return pendingTurn{}, false
	}
	delete(s.pending, conversationID)
	return turn, true
}
