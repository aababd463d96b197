package testutil

import (
	"github.com/hupe1980/researchmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().Sender("alice").UserText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	sender string
	role   core.Role
	id     string
	parts  []core.Part
	meta   map[string]any
}

// NewMessageBuilder creates a builder with default sender "user".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{sender: "user", role: core.RoleUser}
}

// Sender sets the sender name (chainable).
func (b *MessageBuilder) Sender(s string) *MessageBuilder { b.sender = s; return b }

// ID overrides the generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// UserText appends a text part and sets role to user (chainable).
func (b *MessageBuilder) UserText(t string) *MessageBuilder {
	b.role = core.RoleUser
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// AssistantText appends a text part and sets role to assistant (chainable).
func (b *MessageBuilder) AssistantText(t string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// ToolCall appends a tool call part and sets role to assistant (chainable).
func (b *MessageBuilder) ToolCall(id, name string, args map[string]any) *MessageBuilder {
	b.role = core.RoleAssistant
	b.parts = append(b.parts, core.ToolCallPart{Call: core.ToolCall{ID: id, Name: name, Arguments: args}})
	return b
}

// ToolResult appends a successful tool result part (chainable).
func (b *MessageBuilder) ToolResult(callID, name string, data any) *MessageBuilder {
	b.role = core.RoleTool
	b.parts = append(b.parts, core.ToolResultPart{Result: core.ToolResult{CallID: callID, Name: name, Data: data, Success: true}})
	return b
}

// Meta sets a metadata entry (chainable).
func (b *MessageBuilder) Meta(key string, value any) *MessageBuilder {
	if b.meta == nil {
		b.meta = map[string]any{}
	}
	b.meta[key] = value
	return b
}

// Build creates the message.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.sender, b.role, b.parts...)
	if b.id != "" {
		msg.ID = b.id
	}
	for k, v := range b.meta {
		msg = msg.WithMetadata(k, v)
	}
	return msg
}
