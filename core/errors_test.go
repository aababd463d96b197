package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"execution", &AgentExecutionError{AgentID: "a", Kind: KindToolFailure}, KindToolFailure},
		{"wrapped execution", fmt.Errorf("outer: %w", &AgentExecutionError{Kind: KindHookFailure}), KindHookFailure},
		{"iteration limit", &IterationLimitError{AgentID: "a", Limit: 3}, KindIterationLimit},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCancelled},
		{"task cancelled", ErrTaskCancelled, KindCancelled},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestCollaborationError_Unwrap(t *testing.T) {
	inner := &AgentExecutionError{AgentID: "coord", Kind: KindTimeout, Err: context.DeadlineExceeded}
	err := &CollaborationError{TaskID: "t1", Phase: "synthesis", Err: inner}

	var execErr *AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "coord", execErr.AgentID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "synthesis")
}

func TestAgentConfig_Normalize(t *testing.T) {
	cfg, err := AgentConfig{
		Name:         "researcher",
		Capabilities: []string{"search", "search", "summarize"},
		Tools:        []string{"web", "", "web", "calc"},
	}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, VariantReasoning, cfg.Variant)
	assert.Equal(t, []string{"search", "summarize"}, cfg.Capabilities)
	assert.Equal(t, []string{"web", "calc"}, cfg.Tools)
	assert.True(t, cfg.HasCapability("summarize"))

	_, err = AgentConfig{}.Normalize()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "name", cfgErr.Field)

	_, err = AgentConfig{Name: "x", MaxIterations: -1}.Normalize()
	require.ErrorAs(t, err, &cfgErr)

	_, err = AgentConfig{Name: "x", Variant: "planner"}.Normalize()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "variant", cfgErr.Field)
}
