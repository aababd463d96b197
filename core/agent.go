package core

import (
	"context"
	"time"
)

// AgentVariant tags the closed set of agent implementations.
type AgentVariant string

const (
	VariantReasoning AgentVariant = "reasoning"
	VariantResearch  AgentVariant = "research"
)

// AgentConfig defines agent behavior. It is immutable after the agent is
// constructed.
type AgentConfig struct {
	Name          string       `json:"name" yaml:"name"`
	Role          string       `json:"role,omitempty" yaml:"role"`
	Variant       AgentVariant `json:"variant,omitempty" yaml:"variant"`
	SystemPrompt  string       `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Capabilities  []string     `json:"capabilities,omitempty" yaml:"capabilities"`
	Tools         []string     `json:"tools,omitempty" yaml:"tools"`
	Temperature   float64      `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens     int          `json:"max_tokens,omitempty" yaml:"max_tokens"`
	MaxIterations int          `json:"max_iterations,omitempty" yaml:"max_iterations"`
}

// DefaultMaxIterations applies when AgentConfig.MaxIterations is zero.
const DefaultMaxIterations = 10

// Normalize validates the configuration and returns a copy with defaults
// applied. Capabilities and tools are deduplicated keeping first appearance.
func (c AgentConfig) Normalize() (AgentConfig, error) {
	if c.Name == "" {
		return c, NewConfigurationError("name", "must not be empty")
	}
	if c.MaxIterations < 0 {
		return c, NewConfigurationError("max_iterations", "must not be negative, got %d", c.MaxIterations)
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return c, NewConfigurationError("temperature", "must be within [0, 2], got %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return c, NewConfigurationError("max_tokens", "must not be negative, got %d", c.MaxTokens)
	}
	switch c.Variant {
	case "":
		c.Variant = VariantReasoning
	case VariantReasoning, VariantResearch:
	default:
		return c, NewConfigurationError("variant", "unknown variant %q", c.Variant)
	}
	c.Capabilities = dedupe(c.Capabilities)
	c.Tools = dedupe(c.Tools)
	return c, nil
}

// HasCapability reports whether the capability tag is set.
func (c AgentConfig) HasCapability(tag string) bool {
	for _, t := range c.Capabilities {
		if t == tag {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// AgentStatus is the lifecycle status of an agent's reasoning loop.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusThinking  AgentStatus = "thinking"
	StatusActing    AgentStatus = "acting"
	StatusObserving AgentStatus = "observing"
	StatusDone      AgentStatus = "done"
	StatusFailed    AgentStatus = "failed"
	StatusCancelled AgentStatus = "cancelled"
)

// Terminal reports whether the status ends a reply.
func (s AgentStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// AgentState is a snapshot of the runtime state owned by an agent.
type AgentState struct {
	Status         AgentStatus `json:"status"`
	IterationCount int         `json:"iteration_count"`
	LastError      error       `json:"-"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Agent is the contract shared by all agent variants.
type Agent interface {
	// ID returns the unique agent identifier.
	ID() string
	// Config returns the normalized configuration.
	Config() AgentConfig
	// Reply runs the agent on input and always returns a usable Message.
	// A non-nil error classifies a failed or truncated run.
	Reply(ctx context.Context, input Message) (Message, error)
	// Observe appends msg to the agent's memory without replying.
	Observe(msg Message)
	// Status returns a snapshot of the agent state.
	Status() AgentState
}
