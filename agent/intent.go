package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hupe1980/researchmesh/core"
)

// Intent is the parsed decision of one thinking step: either a final answer
// or a single tool call.
type Intent struct {
	// Call is set when the model requested a tool.
	Call *core.ToolCall
	// Thought is free text accompanying a tool call.
	Thought string
	// Answer is the final answer when Call is nil.
	Answer string
	// Malformed is set when an intent block was present but could not be
	// parsed. Answer then carries the raw text.
	Malformed bool
	// Err describes why the intent block was malformed.
	Err error
}

// Final reports whether the intent ends the loop.
func (i Intent) Final() bool { return i.Call == nil }

const (
	markerAction      = "action:"
	markerActionInput = "action input:"
	markerFinal       = "final answer:"
	markerThought     = "thought:"
)

var errEmptyToolName = errors.New("tool call without a tool name")

// ParseIntent extracts the intent from a completion. Native tool calls take
// precedence, then a JSON intent object ({"tool": ..., "arguments": ...} or
// {"tool_calls": [...]}), then ReAct style "Action:" / "Action Input:"
// lines. Anything else is a final answer.
func ParseIntent(msg core.Message) Intent {
	text := strings.TrimSpace(msg.Text())

	if calls := msg.ToolCalls(); len(calls) > 0 {
		c := calls[0]
		return Intent{Call: &c, Thought: text}
	}
	if text == "" {
		return Intent{}
	}

	if block, rest, ok := jsonBlock(text); ok {
		call, err := parseJSONIntent(block)
		switch {
		case err != nil:
			return Intent{Answer: text, Malformed: true, Err: err}
		case call != nil:
			return Intent{Call: call, Thought: strings.TrimSpace(rest)}
		}
	}

	lower := strings.ToLower(text)
	if idx := strings.Index(lower, markerFinal); idx >= 0 {
		return Intent{Answer: strings.TrimSpace(text[idx+len(markerFinal):])}
	}
	if idx := lineMarker(lower, markerAction); idx >= 0 {
		return parseReAct(text, lower, idx)
	}

	return Intent{Answer: text}
}

// jsonBlock returns a JSON object candidate: a fenced ```json block or the
// whole text when it is an object. rest is the surrounding text.
func jsonBlock(text string) (block, rest string, ok bool) {
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		end := strings.Index(body, "```")
		if end >= 0 {
			inner := strings.TrimSpace(body[:end])
			inner = strings.TrimSpace(strings.TrimPrefix(inner, "json"))
			if strings.HasPrefix(inner, "{") {
				return inner, text[:start] + body[end+3:], true
			}
		}
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text, "", true
	}
	return "", "", false
}

type jsonCall struct {
	Tool      string         `json:"tool"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseJSONIntent returns (nil, nil) when the object is valid JSON but not
// an intent, so plain JSON answers stay answers.
func parseJSONIntent(block string) (*core.ToolCall, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		if strings.Contains(block, `"tool`) {
			return nil, err
		}
		return nil, nil
	}

	if calls, ok := raw["tool_calls"]; ok {
		var list []jsonCall
		if err := json.Unmarshal(calls, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, errEmptyToolName
		}
		return list[0].toolCall()
	}
	if _, ok := raw["tool"]; ok {
		var c jsonCall
		if err := json.Unmarshal([]byte(block), &c); err != nil {
			return nil, err
		}
		return c.toolCall()
	}
	return nil, nil
}

func (c jsonCall) toolCall() (*core.ToolCall, error) {
	name := c.Tool
	if name == "" {
		name = c.Name
	}
	if strings.TrimSpace(name) == "" {
		return nil, errEmptyToolName
	}
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return &core.ToolCall{Name: strings.TrimSpace(name), Arguments: args}, nil
}

// lineMarker finds marker at the start of a line.
func lineMarker(lower, marker string) int {
	for offset := 0; offset < len(lower); {
		idx := strings.Index(lower[offset:], marker)
		if idx < 0 {
			return -1
		}
		pos := offset + idx
		if pos == 0 || lower[pos-1] == '\n' {
			return pos
		}
		offset = pos + len(marker)
	}
	return -1
}

func parseReAct(text, lower string, actionIdx int) Intent {
	thought := strings.TrimSpace(text[:actionIdx])
	if strings.HasPrefix(strings.ToLower(thought), markerThought) {
		thought = strings.TrimSpace(thought[len(markerThought):])
	}

	after := text[actionIdx+len(markerAction):]
	name := after
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		name = after[:nl]
	}
	name = strings.Trim(strings.TrimSpace(name), "`\"'")
	if name == "" {
		return Intent{Answer: text, Malformed: true, Err: errEmptyToolName}
	}

	args := map[string]any{}
	if inputIdx := lineMarker(lower, markerActionInput); inputIdx > actionIdx {
		input := strings.TrimSpace(text[inputIdx+len(markerActionInput):])
		if nl := strings.Index(input, "\nObservation"); nl >= 0 {
			input = strings.TrimSpace(input[:nl])
		}
		if input != "" {
			if strings.HasPrefix(input, "{") {
				if err := json.Unmarshal([]byte(input), &args); err != nil {
					return Intent{Answer: text, Malformed: true, Err: err}
				}
			} else {
				args["input"] = input
			}
		}
	}

	return Intent{Call: &core.ToolCall{Name: name, Arguments: args}, Thought: thought}
}
