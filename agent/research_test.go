package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/hook"
	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/tool"
)

func TestResearchAgent_ConductResearch(t *testing.T) {
	search := testutil.NewRecordingTool("search", map[string]any{
		"summary": "Rust 1.0 was released in May 2015.",
		"source":  "https://blog.rust-lang.org/2015/05/15/Rust-1.0.html",
	})
	llm := model.NewMockModel("mock", "mock").
		EnqueueToolCall("search", map[string]any{"q": "rust 1.0"}).
		EnqueueText("Rust reached 1.0 in May 2015.")
	reg := tool.NewRegistry([]tool.Tool{search})

	a, err := NewResearchAgent(core.AgentConfig{Name: "scout", Tools: []string{"search"}}, llm, reg, fastRetry)
	require.NoError(t, err)
	assert.Equal(t, core.VariantResearch, a.Config().Variant)
	assert.Contains(t, a.SystemPrompt(), "research specialist")

	var forwarded int
	ctx := core.ContextWithEvidenceSink(context.Background(), core.EvidenceSinkFunc(func(context.Context, core.EvidenceItem) {
		forwarded++
	}))

	report, err := a.ConductResearch(ctx, "  Rust 1.0 release  ")
	require.NoError(t, err)
	assert.Equal(t, "Rust 1.0 release", report.Topic)
	assert.Equal(t, "Rust reached 1.0 in May 2015.", report.Summary.Text())
	assert.False(t, report.Truncated)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "https://blog.rust-lang.org/2015/05/15/Rust-1.0.html", report.Findings[0].Citation)
	assert.Equal(t, 1, forwarded)

	prompt := llm.Calls()[0].Messages[0].Text()
	assert.Contains(t, prompt, "Rust 1.0 release")
}

func TestResearchAgent_TruncatedReport(t *testing.T) {
	search := testutil.NewRecordingTool("search", "partial data")
	llm := model.NewMockModel("mock", "mock")
	llm.SetFallback(func(model.Request) (model.MockStep, bool) {
		return model.MockStep{ToolCall: &core.ToolCall{Name: "search"}}, true
	})
	a, err := NewResearchAgent(core.AgentConfig{Name: "scout", Tools: []string{"search"}, MaxIterations: 2}, llm, tool.NewRegistry([]tool.Tool{search}), fastRetry)
	require.NoError(t, err)

	report, err := a.ConductResearch(context.Background(), "everything")
	var limitErr *core.IterationLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, report.Truncated)
	assert.Len(t, report.Findings, 2)
	assert.Contains(t, report.Summary.Text(), "partial data")
}

func TestResearchAgent_EmptyTopic(t *testing.T) {
	a, err := NewResearchAgent(core.AgentConfig{Name: "scout"}, model.NewMockModel("mock", "mock"), nil)
	require.NoError(t, err)

	_, err = a.ConductResearch(context.Background(), " ")
	assert.Error(t, err)
}

func TestResearchAgent_HooksSeeResearchAgent(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").EnqueueText("done")
	a, err := NewResearchAgent(core.AgentConfig{Name: "scout"}, llm, nil)
	require.NoError(t, err)

	var seen core.Agent
	require.NoError(t, a.Hooks().Register(hook.BeforeThink, "capture", func(_ context.Context, hc *hook.Context) (core.Message, error) {
		seen = hc.Agent
		return core.Message{}, nil
	}))

	_, err = a.ConductResearch(context.Background(), "topic")
	require.NoError(t, err)
	assert.Same(t, a, seen)
}
