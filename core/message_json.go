package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// wirePart is the tagged JSON form of a Part.
type wirePart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

type wireMessage struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Role      Role           `json:"role"`
	Parts     []wirePart     `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MarshalJSON encodes parts as tagged objects.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Role:      m.Role,
		Parts:     make([]wirePart, 0, len(m.Parts)),
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			w.Parts = append(w.Parts, wirePart{Type: "text", Text: v.Text})
		case ToolCallPart:
			call := v.Call
			w.Parts = append(w.Parts, wirePart{Type: "tool_call", ToolCall: &call})
		case ToolResultPart:
			res := v.Result
			w.Parts = append(w.Parts, wirePart{Type: "tool_result", ToolResult: &res})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged part form produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parts := make([]Part, 0, len(w.Parts))
	for i, wp := range w.Parts {
		switch wp.Type {
		case "text", "":
			parts = append(parts, TextPart{Text: wp.Text})
		case "tool_call":
			if wp.ToolCall == nil {
				return fmt.Errorf("part %d: tool_call payload missing", i)
			}
			parts = append(parts, ToolCallPart{Call: *wp.ToolCall})
		case "tool_result":
			if wp.ToolResult == nil {
				return fmt.Errorf("part %d: tool_result payload missing", i)
			}
			parts = append(parts, ToolResultPart{Result: *wp.ToolResult})
		default:
			return fmt.Errorf("part %d: unknown type %q", i, wp.Type)
		}
	}
	*m = Message{
		ID:        w.ID,
		Sender:    w.Sender,
		Role:      w.Role,
		Parts:     parts,
		Metadata:  w.Metadata,
		CreatedAt: w.CreatedAt,
	}
	return nil
}
