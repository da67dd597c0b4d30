package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Payload is the tag-specific body of an event. Accessors never fail: a
// missing or mistyped field reads as its zero value.
type Payload map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (p Payload) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Int returns the field as an int. JSON numbers and numeric strings are accepted.
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case float64:
		if math.IsNaN(v) || v >= math.MaxInt || v <= math.MinInt {
			return 0
		}
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

// Bool returns the field as a bool, or false when absent or not a bool.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the string elements of an array field.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns an object field, or nil.
func (p Payload) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// ConversationID returns data.conversation_id.
func (p Payload) ConversationID() string {
	return p.String("conversation_id")
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RagContext is the rag_context payload.
type RagContext struct {
	ResultsCount int
}

// ToolSearch is the tool_search payload.
type ToolSearch struct {
	Query      string
	ToolsFound int
	Toolkits   []string
}

// ToolCall is the tool_call payload.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ToolResult is the tool_result payload.
type ToolResult struct {
	Name   string
	Result map[string]any
}

// ConnectionStatus is the connection_status payload.
type ConnectionStatus struct {
	Toolkit      string
	Connected    bool
	RequiresAuth bool
}

// ConnectionRequired is the connection_required payload.
type ConnectionRequired struct {
	Toolkit             string
	RedirectURL         string
	ConnectionRequestID string
	Message             string
}

// ConnectionWaiting is the connection_waiting payload.
type ConnectionWaiting struct {
	Toolkit string
	Message string
}

// ConnectionEstablished is the connection_established payload.
type ConnectionEstablished struct {
	Toolkit string
	Message string
}

// Reply is the reply payload.
type Reply struct {
	Content        string
	ConversationID string
}

// ErrorData is the error payload.
type ErrorData struct {
	Message string
}

func (p Payload) RagContext() RagContext {
	return RagContext{ResultsCount: p.Int("results_count")}
}

func (p Payload) ToolSearch() ToolSearch {
	return ToolSearch{
		Query:      p.String("query"),
		ToolsFound: p.Int("tools_found"),
		Toolkits:   p.Strings("toolkits"),
	}
}

func (p Payload) ToolCall() ToolCall {
	return ToolCall{Name: p.String("name"), Arguments: p.Map("arguments")}
}

func (p Payload) ToolResult() ToolResult {
	return ToolResult{Name: p.String("name"), Result: p.Map("result")}
}

func (p Payload) ConnectionStatus() ConnectionStatus {
	return ConnectionStatus{
		Toolkit:      p.String("toolkit"),
		Connected:    p.Bool("connected"),
		RequiresAuth: p.Bool("requires_auth"),
	}
}

func (p Payload) ConnectionRequired() ConnectionRequired {
	return ConnectionRequired{
		Toolkit:             p.String("toolkit"),
		RedirectURL:         p.String("redirect_url"),
		ConnectionRequestID: p.String("connection_request_id"),
		Message:             p.String("message"),
	}
}

func (p Payload) ConnectionWaiting() ConnectionWaiting {
	return ConnectionWaiting{Toolkit: p.String("toolkit"), Message: p.String("message")}
}

func (p Payload) ConnectionEstablished() ConnectionEstablished {
	return ConnectionEstablished{Toolkit: p.String("toolkit"), Message: p.String("message")}
}

func (p Payload) Reply() Reply {
	return Reply{Content: p.String("content"), ConversationID: p.ConversationID()}
}

func (p Payload) Error() ErrorData {
	return ErrorData{Message: p.String("message")}
}
