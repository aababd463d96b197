package model

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/researchmesh/core"
)

// RenderToolResult serializes a tool result for providers that only accept
// text tool outputs.
func RenderToolResult(r core.ToolResult) string {
	if !r.Success {
		b, _ := json.Marshal(map[string]string{"error": r.Error, "code": r.Code})
		return string(b)
	}
	switch v := r.Data.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// EncodeArguments serializes tool call arguments as a JSON object.
func EncodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeArguments parses a JSON object of tool call arguments. Invalid or
// empty input yields an empty map.
func DecodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
