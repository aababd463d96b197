package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

// MockStep is one scripted completion: a response, an error, or both after a delay.
type MockStep struct {
	Text     string
	ToolCall *core.ToolCall
	Err      error
	Delay    time.Duration
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted steps are consumed in order; once exhausted the model answers
// from canned prompt responses or echoes the last message.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	script    []MockStep
	responses map[string]string
	fallback  func(req Request) (MockStep, bool)
	calls     []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// Enqueue appends scripted steps.
func (m *MockModel) Enqueue(steps ...MockStep) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// EnqueueText appends final text answers.
func (m *MockModel) EnqueueText(texts ...string) *MockModel {
	for _, t := range texts {
		m.Enqueue(MockStep{Text: t})
	}
	return m
}

// EnqueueToolCall appends a native tool call request.
func (m *MockModel) EnqueueToolCall(name string, args map[string]any) *MockModel {
	return m.Enqueue(MockStep{ToolCall: &core.ToolCall{ID: core.NewID(), Name: name, Arguments: args}})
}

// EnqueueError appends a provider failure.
func (m *MockModel) EnqueueError(err error) *MockModel {
	return m.Enqueue(MockStep{Err: err})
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetFallback installs a function consulted when the script is exhausted.
func (m *MockModel) SetFallback(fn func(req Request) (MockStep, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// Calls returns the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

func (m *MockModel) next(req Request) MockStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step
	}
	if m.fallback != nil {
		if step, ok := m.fallback(req); ok {
			return step
		}
	}
	var input string
	if n := len(req.Messages); n > 0 {
		input = req.Messages[n-1].Text()
	}
	if resp, ok := m.responses[input]; ok {
		return MockStep{Text: resp}
	}
	return MockStep{Text: fmt.Sprintf("Mock response to: %s", input)}
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		step := m.next(req)
		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-timer.C:
			}
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if req.Stream {
			for _, r := range step.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Message: core.NewTextMessage(m.info.Name, core.RoleAssistant, string(r))}:
				}
			}
		}

		var parts []core.Part
		if step.Text != "" {
			parts = append(parts, core.TextPart{Text: step.Text})
		}
		finish := "stop"
		if step.ToolCall != nil {
			parts = append(parts, core.ToolCallPart{Call: *step.ToolCall})
			finish = "tool_calls"
		}
		final := Response{
			ID:           core.NewID(),
			Message:      core.NewMessage(m.info.Name, core.RoleAssistant, parts...),
			FinishReason: finish,
			Usage:        &TokenUsage{PromptTokens: len(req.Messages), CompletionTokens: len(step.Text), TotalTokens: len(req.Messages) + len(step.Text)},
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
