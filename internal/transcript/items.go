// Package transcript folds inbound chat events into an ordered transcript of
// messages and tool/connection activity.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/chatlink/internal/protocol"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Item is a transcript entry: either a MessageItem or an ActivityItem.
type Item interface {
	ItemID() string
	At() time.Time
	isItem()
}

// MessageItem is a user-visible chat message.
type MessageItem struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (m MessageItem) ItemID() string { return m.ID }
func (m MessageItem) At() time.Time  { return m.Timestamp }
func (MessageItem) isItem()          {}

// ActivityItem records tool usage, knowledge-base retrieval or external
// connection progress.
type ActivityItem struct {
	ID        string             `json:"id"`
	Kind      protocol.EventType `json:"kind"`
	Data      protocol.Payload   `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

func (a ActivityItem) ItemID() string { return a.ID }
func (a ActivityItem) At() time.Time  { return a.Timestamp }
func (ActivityItem) isItem()          {}

// Label returns the one-line description shown for the activity.
func (a ActivityItem) Label() string {
	d := a.Data
	switch a.Kind {
	case protocol.TypeRagContext:
		n := d.RagContext().ResultsCount
		suffix := "s"
		if n == 1 {
			suffix = ""
		}
		return fmt.Sprintf("RAG: %d result%s used from knowledge base", n, suffix)
	case protocol.TypeToolSearch:
		s := d.ToolSearch()
		label := fmt.Sprintf("Searching tools: %q, found %d", s.Query, s.ToolsFound)
		if len(s.Toolkits) > 0 {
			label += " (" + strings.Join(s.Toolkits, ", ") + ")"
		}
		return label
	case protocol.TypeToolCall:
		return "Calling: " + d.ToolCall().Name
	case protocol.TypeToolResult:
		return "Result from: " + d.ToolResult().Name
	case protocol.TypeConnectionStatus:
		s := d.ConnectionStatus()
		if s.Connected {
			return s.Toolkit + ": Connected"
		}
		return s.Toolkit + ": Not connected"
	case protocol.TypeConnectionRequired:
		return d.ConnectionRequired().Toolkit + ": Authentication required"
	case protocol.TypeConnectionWaiting:
		return d.ConnectionWaiting().Message
	case protocol.TypeConnectionEstablished:
		return d.ConnectionEstablished().Message
	}
	return string(a.Kind)
}

// Details returns the indented JSON body for tool calls and results, or "" for other kinds.
func (a ActivityItem) Details() string {
	var body map[string]any
	switch a.Kind {
	case protocol.TypeToolCall:
		body = a.Data.ToolCall().Arguments
	case protocol.TypeToolResult:
		body = a.Data.ToolResult().Result
	default:
		return ""
	}
	if len(body) == 0 {
		return ""
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}

// Transcript is the append-only ordered sequence of items.
type Transcript struct {
	items []Item
}

// Append adds an item at the end.
func (t *Transcript) Append(item Item) {
	t.items = append(t.items, item)
}

// Items returns a copy of the items in order.
func (t *Transcript) Items() []Item {
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

// Len returns the number of items.
func (t *Transcript) Len() int {
	return len(t.items)
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.items = nil
}
