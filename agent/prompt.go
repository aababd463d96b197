package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/model"
)

const defaultSystemPrompt = "You are {{.name}}{{if .role}}, {{.role}}{{end}}."

const toolProtocol = `To use a tool, reply with a single JSON object and nothing else:
{"tool": "<tool name>", "arguments": {<arguments>}}
Call at most one tool per reply. When you have enough information, reply with the final answer as plain text.`

const malformedIntentPrompt = "Your last reply contained a tool call that could not be parsed (%v). " +
	"Reply either with a single valid JSON tool call object or with the final answer as plain text."

// buildSystemPrompt renders the configured system prompt with the agent's
// name, role, capabilities and tools, then appends the tool protocol.
func buildSystemPrompt(cfg core.AgentConfig, defs []model.ToolDefinition) (string, error) {
	text := cfg.SystemPrompt
	if strings.TrimSpace(text) == "" {
		text = defaultSystemPrompt
	}

	vars := map[string]any{
		"name":         cfg.Name,
		"role":         cfg.Role,
		"capabilities": cfg.Capabilities,
		"tools":        cfg.Tools,
	}
	rendered, err := util.RenderTemplate(text, vars)
	if err != nil {
		return "", err
	}

	if len(cfg.Capabilities) > 0 && !strings.Contains(text, "capabilities") {
		rendered += "\nYour capabilities: " + strings.Join(cfg.Capabilities, ", ") + "."
	}
	if len(defs) == 0 {
		return rendered, nil
	}

	var sb strings.Builder
	sb.WriteString(rendered)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s: %s", d.Function.Name, d.Function.Description)
		if params := describeParameters(d.Function.Parameters); params != "" {
			fmt.Fprintf(&sb, " (arguments: %s)", params)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(toolProtocol)
	return sb.String(), nil
}

// describeParameters lists schema properties as name:type pairs in
// required-first order.
func describeParameters(schema map[string]any) string {
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return ""
	}

	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}

	seen := make(map[string]bool, len(props))
	var parts []string
	add := func(name string, req bool) {
		if seen[name] {
			return
		}
		p, ok := props[name].(map[string]any)
		if !ok {
			return
		}
		seen[name] = true
		typ, _ := p["type"].(string)
		entry := name + ":" + typ
		if !req {
			entry += "?"
		}
		parts = append(parts, entry)
	}
	for _, name := range required {
		add(name, true)
	}
	for _, name := range sortedKeys(props) {
		add(name, false)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
