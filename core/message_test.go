package core

import (
	"encoding/json"
	"testing"
)

func TestMessage_ConstructorsAndAccessors(t *testing.T) {
	m := NewTextMessage("alice", RoleUser, "hello")
	if m.ID == "" || m.CreatedAt.IsZero() || m.Sender != "alice" || m.Role != RoleUser {
		t.Fatalf("NewTextMessage did not initialize fields correctly: %+v", m)
	}
	if m.Text() != "hello" {
		t.Fatalf("Text() = %q, want hello", m.Text())
	}

	call := NewToolCallMessage("agent", "need data", ToolCall{ID: "c1", Name: "search", Arguments: map[string]any{"q": "go"}})
	if call.Role != RoleAssistant || len(call.ToolCalls()) != 1 || call.Text() != "need data" {
		t.Fatalf("NewToolCallMessage malformed: %+v", call)
	}

	res := NewToolResultMessage("search", ToolResult{CallID: "c1", Name: "search", Success: true, Data: "ok"})
	if res.Role != RoleTool || len(res.ToolResults()) != 1 || !res.ToolResults()[0].Success {
		t.Fatalf("NewToolResultMessage malformed: %+v", res)
	}
}

func TestMessage_Immutability(t *testing.T) {
	args := map[string]any{"q": "first"}
	m := NewToolCallMessage("agent", "", ToolCall{Name: "search", Arguments: args})
	args["q"] = "mutated"
	if got := m.ToolCalls()[0].Arguments["q"]; got != "first" {
		t.Fatalf("constructor must copy arguments, got %v", got)
	}

	annotated := m.WithMetadata(MetaTruncated, true)
	if m.Truncated() {
		t.Fatal("WithMetadata must not modify the receiver")
	}
	if !annotated.Truncated() {
		t.Fatal("expected annotated copy to be truncated")
	}

	second := annotated.WithMetadata(MetaErrorKind, KindTimeout)
	if _, ok := annotated.Meta(MetaErrorKind); ok {
		t.Fatal("metadata map must not be shared between copies")
	}
	if kind, ok := second.ErrorKind(); !ok || kind != KindTimeout {
		t.Fatalf("ErrorKind() = %v, %v", kind, ok)
	}
}

func TestMessage_WithText(t *testing.T) {
	m := NewToolCallMessage("agent", "old", ToolCall{Name: "search"}).WithMetadata("k", "v")
	replaced := m.WithText("new")
	if replaced.ID == m.ID {
		t.Fatal("WithText must produce a new message id")
	}
	if replaced.Text() != "new" || len(replaced.ToolCalls()) != 1 {
		t.Fatalf("WithText malformed: %+v", replaced)
	}
	if v, _ := replaced.Meta("k"); v != "v" {
		t.Fatalf("metadata not carried over: %v", replaced.Metadata)
	}
}

func TestMessage_JSONRoundTripKeepsPartTypes(t *testing.T) {
	m := NewMessage("agent", RoleAssistant,
		TextPart{Text: "thinking"},
		ToolCallPart{Call: ToolCall{ID: "c1", Name: "search", Arguments: map[string]any{"q": "x"}}},
		ToolResultPart{Result: ToolResult{Name: "search", Success: false, Error: "boom", Code: "EXECUTION_ERROR"}},
	)

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(decoded.Parts))
	}
	if _, ok := decoded.Parts[1].(ToolCallPart); !ok {
		t.Fatalf("part 1 has type %T, want ToolCallPart", decoded.Parts[1])
	}
	if r := decoded.ToolResults(); len(r) != 1 || r[0].Error != "boom" {
		t.Fatalf("tool result not decoded: %+v", r)
	}
}

func TestMessage_UnmarshalRejectsUnknownPart(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"1","role":"user","parts":[{"type":"video"}]}`), &m)
	if err == nil {
		t.Fatal("expected error for unknown part type")
	}
}
