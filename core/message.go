package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the conversational role of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Well known metadata keys attached to Messages.
const (
	MetaTruncated  = "truncated"
	MetaError      = "error"
	MetaErrorKind  = "error_kind"
	MetaIterations = "iterations"
	MetaCancelled  = "cancelled"
	MetaTaskID     = "task_id"
	MetaSubtask    = "subtask"
)

// Message is the unit of communication between agents, tools and users.
// Messages are values: constructors copy their inputs and the With* helpers
// return modified copies. After construction a Message must be treated as
// immutable.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewID returns a random unique identifier.
func NewID() string { return uuid.NewString() }

// NewMessage creates a message with the supplied parts.
func NewMessage(sender string, role Role, parts ...Part) Message {
	cp := make([]Part, len(parts))
	for i, p := range parts {
		cp[i] = clonePart(p)
	}
	return Message{
		ID:        NewID(),
		Sender:    sender,
		Role:      role,
		Parts:     cp,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTextMessage creates a single text part message.
func NewTextMessage(sender string, role Role, text string) Message {
	return NewMessage(sender, role, TextPart{Text: text})
}

// NewToolCallMessage creates an assistant message carrying a tool invocation request.
// An optional thought is kept as a leading text part.
func NewToolCallMessage(sender string, thought string, call ToolCall) Message {
	parts := make([]Part, 0, 2)
	if thought != "" {
		parts = append(parts, TextPart{Text: thought})
	}
	parts = append(parts, ToolCallPart{Call: call})
	return NewMessage(sender, RoleAssistant, parts...)
}

// NewToolResultMessage creates a tool role message carrying a tool result.
func NewToolResultMessage(sender string, result ToolResult) Message {
	return NewMessage(sender, RoleTool, ToolResultPart{Result: result})
}

// Text concatenates all text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns all tool invocation requests contained in the message.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if cp, ok := p.(ToolCallPart); ok {
			calls = append(calls, cp.Call)
		}
	}
	return calls
}

// ToolResults returns all tool results contained in the message.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if rp, ok := p.(ToolResultPart); ok {
			results = append(results, rp.Result)
		}
	}
	return results
}

// Meta returns the metadata value stored under key.
func (m Message) Meta(key string) (any, bool) {
	v, ok := m.Metadata[key]
	return v, ok
}

// WithMetadata returns a copy of the message with key set to value.
// The receiver is left untouched.
func (m Message) WithMetadata(key string, value any) Message {
	md := cloneMap(m.Metadata)
	if md == nil {
		md = make(map[string]any, 1)
	}
	md[key] = value
	m.Metadata = md
	return m
}

// WithText returns a copy of the message (new id) whose text parts are
// replaced by a single text part. Non-text parts are kept in order.
func (m Message) WithText(text string) Message {
	parts := make([]Part, 0, len(m.Parts)+1)
	parts = append(parts, TextPart{Text: text})
	for _, p := range m.Parts {
		if _, ok := p.(TextPart); ok {
			continue
		}
		parts = append(parts, clonePart(p))
	}
	out := NewMessage(m.Sender, m.Role, parts...)
	out.Metadata = cloneMap(m.Metadata)
	return out
}

// Truncated reports whether the message was produced after hitting the
// iteration cap.
func (m Message) Truncated() bool {
	v, _ := m.Metadata[MetaTruncated].(bool)
	return v
}

// ErrorKind returns the failure kind annotation, if any.
func (m Message) ErrorKind() (ErrorKind, bool) {
	switch v := m.Metadata[MetaErrorKind].(type) {
	case ErrorKind:
		return v, true
	case string:
		return ErrorKind(v), true
	default:
		return "", false
	}
}

// IsZero reports whether the message was never constructed.
func (m Message) IsZero() bool { return m.ID == "" }
