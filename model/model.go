package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/researchmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized completion input: system prompt, message
// history and the tools the model may request.
type Request struct {
	SystemPrompt string           `json:"system_prompt"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"` // nil keeps the provider default
	MaxTokens    int              `json:"max_tokens,omitempty"`  // 0 keeps the provider default
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Message holds
// assistant text parts and, for final chunks, any tool call parts.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Text returns the response text.
func (r Response) Text() string { return r.Message.Text() }

// ToolCall returns the first requested tool call, if any.
func (r Response) ToolCall() (core.ToolCall, bool) {
	calls := r.Message.ToolCalls()
	if len(calls) == 0 {
		return core.ToolCall{}, false
	}
	return calls[0], true
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the completion capability consumed by agents.
type Model interface {
	// Generate streams partial responses followed by exactly one final
	// response, or reports an error on the error channel.
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoFinalResponse is returned when a model closes its stream without a final chunk.
var ErrNoFinalResponse = errors.New("model returned no final response")

// Complete drains Generate and returns the final response.
func Complete(ctx context.Context, m Model, req Request) (*Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				rc := r
				final = &rc
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}

	if final == nil {
		return nil, fmt.Errorf("%s: %w", m.Info().Name, ErrNoFinalResponse)
	}
	return final, nil
}
