package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingTool is a tool.Tool returning a fixed result and recording the
// arguments of every call. Delay makes the call wait, honoring ctx.
type RecordingTool struct {
	ToolName string
	Result   any
	Err      error
	Delay    time.Duration

	mu    sync.Mutex
	calls []map[string]any
}

// NewRecordingTool creates a tool named name that returns result.
func NewRecordingTool(name string, result any) *RecordingTool {
	return &RecordingTool{ToolName: name, Result: result}
}

// Name implements tool.Tool.
func (t *RecordingTool) Name() string { return t.ToolName }

// Description implements tool.Tool.
func (t *RecordingTool) Description() string { return "test tool " + t.ToolName }

// Parameters implements tool.Tool.
func (t *RecordingTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call implements tool.Tool.
func (t *RecordingTool) Call(ctx context.Context, args map[string]any) (any, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	t.mu.Unlock()

	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Result, nil
}

// Calls returns the number of calls made.
func (t *RecordingTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Args returns a copy of the recorded arguments.
func (t *RecordingTool) Args() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.calls...)
}
