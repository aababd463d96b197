package core

// Part represents a polymorphic content block of a Message. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ToolCall describes a tool invocation request produced while reasoning.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`        // Correlates the call with its result
	Name      string         `json:"name"`                // Tool name as registered
	Arguments map[string]any `json:"arguments,omitempty"` // Decoded argument payload
}

// ToolCallPart wraps a ToolCall as a content block.
type ToolCallPart struct {
	Call ToolCall
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ToolResult is the structured outcome of a tool execution. Tools never throw
// past the registry: failures are reported with Success=false and Error set.
type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"` // NOT_FOUND, VALIDATION_ERROR, EXECUTION_ERROR, PANIC, TIMEOUT
}

// ToolResultPart wraps a ToolResult as a content block.
type ToolResultPart struct {
	Result ToolResult
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}

// clonePart returns a copy of p that shares no mutable maps with the original.
func clonePart(p Part) Part {
	switch v := p.(type) {
	case ToolCallPart:
		v.Call.Arguments = cloneMap(v.Call.Arguments)
		return v
	default:
		return p
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
