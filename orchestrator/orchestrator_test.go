package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/store"
	"github.com/hupe1980/researchmesh/tool"
)

func fastRetry(o *agent.Options) {
	o.RetryPolicy = model.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

type fixture struct {
	orch   *Orchestrator
	tools  *tool.Registry
	models map[string]*model.MockModel
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	tools := tool.NewRegistry([]tool.Tool{
		testutil.NewRecordingTool("search", map[string]any{
			"claim": "The Eiffel Tower is 330 metres tall.",
			"url":   "https://www.toureiffel.paris/en",
		}),
	})
	return &fixture{
		orch:   New(tools, optFns...),
		tools:  tools,
		models: map[string]*model.MockModel{},
	}
}

// add registers an agent with id and returns its scripted model.
func (f *fixture) add(t *testing.T, id string, toolNames ...string) *model.MockModel {
	t.Helper()
	llm := model.NewMockModel("mock-"+id, "mock")
	a, err := agent.NewReasoningAgent(core.AgentConfig{Name: id, Role: id + " role", Tools: toolNames}, llm, f.tools, fastRetry, func(o *agent.Options) {
		o.ID = id
	})
	require.NoError(t, err)
	require.NoError(t, f.orch.Register(a))
	f.models[id] = llm
	return llm
}

func failing(llm *model.MockModel) {
	boom := errors.New("provider down")
	llm.EnqueueError(boom).EnqueueError(boom)
}

func TestCollaborate_Validation(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "a")

	_, err := f.orch.Collaborate(context.Background(), []string{"a", "ghost", "phantom"}, core.NewTask("x"), Parallel)
	var notFound *core.AgentNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"ghost", "phantom"}, notFound.IDs)
	assert.Empty(t, a.Calls())
	assert.Empty(t, f.orch.Tasks())

	_, err = f.orch.Collaborate(context.Background(), nil, core.NewTask("x"), Parallel)
	assert.ErrorIs(t, err, ErrNoAgents)

	_, err = f.orch.Collaborate(context.Background(), []string{"a"}, core.NewTask("x"), Strategy("round_robin"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = f.orch.Collaborate(context.Background(), []string{"a", "a"}, core.NewTask("x"), Parallel)
	assert.ErrorIs(t, err, ErrDuplicateParticipant)

	_, err = f.orch.Collaborate(context.Background(), []string{"a"}, core.NewTask(" "), Parallel)
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCollaborate_SequentialHandsOff(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a").EnqueueText("draft from a")
	b := f.add(t, "b")
	b.EnqueueText("refined by b")
	c := f.add(t, "c")
	c.EnqueueText("final from c")

	res, err := f.orch.Collaborate(context.Background(), []string{"a", "b", "c"}, core.NewTask("write a report"), Sequential)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "final from c", res.Output.Text())
	assert.Len(t, res.Outputs, 3)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Steps[0].AgentID, res.Steps[1].AgentID, res.Steps[2].AgentID})

	bInput := b.Calls()[0].Messages
	assert.Contains(t, bInput[len(bInput)-1].Text(), "draft from a")
	cInput := c.Calls()[0].Messages
	assert.Contains(t, cInput[len(cInput)-1].Text(), "refined by b")

	task, err := f.orch.Task(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.Status)
	assert.Equal(t, "final from c", task.Result)
	assert.Equal(t, res.ChainID, task.ChainID)
}

func TestCollaborate_SequentialStopsOnFailure(t *testing.T) {
	f := newFixture(t)
	failing(f.add(t, "a"))
	b := f.add(t, "b")
	c := f.add(t, "c")

	res, err := f.orch.Collaborate(context.Background(), []string{"a", "b", "c"}, core.NewTask("chain"), Sequential)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Empty(t, b.Calls())
	assert.Empty(t, c.Calls())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a", res.Failures[0].AgentID)
	assert.Equal(t, core.KindModelFailure, res.Failures[0].Kind)

	task, err := f.orch.Task(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.NotEmpty(t, task.Error)
}

func TestCollaborate_SequentialKeepsPartialResults(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a").EnqueueText("first step done")
	failing(f.add(t, "b"))
	c := f.add(t, "c")

	res, err := f.orch.Collaborate(context.Background(), []string{"a", "b", "c"}, core.NewTask("chain"), Sequential)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, "first step done", res.Outputs["a"].Text())
	assert.Equal(t, "b", res.Failures[0].AgentID)
	assert.Empty(t, c.Calls())
}

func TestCollaborate_ParallelIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.add(t, "one").EnqueueText("answer one")
	failing(f.add(t, "two"))
	f.add(t, "three").EnqueueText("answer three")

	res, err := f.orch.Collaborate(context.Background(), []string{"one", "two", "three"}, core.NewTask("same question"), Parallel)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, "answer one", res.Outputs["one"].Text())
	assert.Equal(t, "answer three", res.Outputs["three"].Text())
	assert.NotContains(t, res.Outputs, "two")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "two", res.Failures[0].AgentID)
	assert.Equal(t, PhaseParallel, res.Failures[0].Phase)
	assert.True(t, res.Output.IsZero())

	for _, id := range []string{"one", "two", "three"} {
		calls := f.models[id].Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, "same question", calls[0].Messages[0].Text())
	}
}

func TestCollaborate_ParallelStepTimeoutIsPerAgent(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.StepTimeout = 50 * time.Millisecond
		o.MaxConcurrency = 2
	})
	f.add(t, "fast").EnqueueText("quick")
	f.add(t, "slow").Enqueue(model.MockStep{Text: "late", Delay: time.Second})

	res, err := f.orch.Collaborate(context.Background(), []string{"fast", "slow"}, core.NewTask("race"), Parallel)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, "quick", res.Outputs["fast"].Text())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, core.KindTimeout, res.Failures[0].Kind)
}

func TestCollaborate_HierarchicalDelegates(t *testing.T) {
	f := newFixture(t)
	lead := f.add(t, "lead")
	lead.EnqueueText(`{"assignments": [
		{"agent_id": "historian", "subtask": "find the construction date"},
		{"agent_id": "ghost", "subtask": "ignored"},
		{"agent_id": "lead", "subtask": "ignored too"}
	]}`)
	lead.EnqueueText("The tower was completed in 1889.")
	historian := f.add(t, "historian")
	historian.EnqueueText("Completed March 1889.")
	idle := f.add(t, "idle")

	res, err := f.orch.Collaborate(context.Background(), []string{"lead", "historian", "idle"}, core.NewTask("When was the Eiffel Tower built?"), Hierarchical)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Nil(t, res.Fatal)
	assert.Equal(t, "The tower was completed in 1889.", res.Output.Text())
	assert.Empty(t, idle.Calls())

	hInput := historian.Calls()[0].Messages
	assert.Contains(t, hInput[len(hInput)-1].Text(), "find the construction date")

	synth := lead.Calls()[1].Messages
	assert.Contains(t, synth[len(synth)-1].Text(), "Completed March 1889.")

	phases := make([]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		phases = append(phases, s.Phase)
	}
	assert.Equal(t, []string{PhaseDecomposition, PhaseSubtask, PhaseSynthesis}, phases)
}

func TestCollaborate_HierarchicalWithoutAssignmentsStillSynthesizes(t *testing.T) {
	f := newFixture(t)
	lead := f.add(t, "lead")
	lead.EnqueueText("I already know: it is 330 metres tall.")
	lead.EnqueueText("330 metres.")
	worker := f.add(t, "worker")

	res, err := f.orch.Collaborate(context.Background(), []string{"lead", "worker"}, core.NewTask("How tall is the Eiffel Tower?"), Hierarchical)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "330 metres.", res.Output.Text())
	assert.Empty(t, worker.Calls())
	require.Len(t, lead.Calls(), 2)

	synth := lead.Calls()[1].Messages
	last := synth[len(synth)-1].Text()
	assert.Contains(t, last, "No sub-tasks were delegated")
	assert.Contains(t, last, "330 metres tall")
}

func TestCollaborate_HierarchicalDecompositionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	failing(f.add(t, "lead"))
	worker := f.add(t, "worker")

	res, err := f.orch.Collaborate(context.Background(), []string{"lead", "worker"}, core.NewTask("plan"), Hierarchical)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	require.NotNil(t, res.Fatal)
	assert.Equal(t, PhaseDecomposition, res.Fatal.Phase)
	assert.Equal(t, core.KindModelFailure, core.KindOf(res.Fatal))
	assert.Empty(t, worker.Calls())
}

func TestCollaborate_HierarchicalSynthesisTimeoutIsFatal(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.StepTimeout = 50 * time.Millisecond })
	lead := f.add(t, "lead")
	lead.EnqueueText("worker: collect data")
	lead.Enqueue(model.MockStep{Text: "too slow", Delay: time.Second})
	f.add(t, "worker").EnqueueText("data collected")

	res, err := f.orch.Collaborate(context.Background(), []string{"lead", "worker"}, core.NewTask("report"), Hierarchical)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	require.NotNil(t, res.Fatal)
	assert.Equal(t, PhaseSynthesis, res.Fatal.Phase)
	assert.Equal(t, core.KindTimeout, core.KindOf(res.Fatal))
	assert.Equal(t, "data collected", res.Outputs["worker"].Text())
}

func TestCollaborate_CancelByTaskID(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a").Enqueue(model.MockStep{Text: "never", Delay: 5 * time.Second})
	f.add(t, "b").Enqueue(model.MockStep{Text: "never", Delay: 5 * time.Second})

	task := core.NewTask("long running")
	type outcome struct {
		res *CollaborationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.orch.Collaborate(context.Background(), []string{"a", "b"}, task, Parallel)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		running, err := f.orch.Task(context.Background(), task.ID)
		return err == nil && running.Status == core.TaskRunning
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.orch.Cancel(task.ID))

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, OutcomeFailure, out.res.Outcome)
		require.Len(t, out.res.Failures, 2)
		for _, fail := range out.res.Failures {
			assert.Equal(t, core.KindCancelled, fail.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collaboration did not stop after cancel")
	}

	got, err := f.orch.Task(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
	assert.ErrorIs(t, f.orch.Cancel(task.ID), ErrTaskNotRunning)
	assert.ErrorIs(t, f.orch.Cancel("unknown"), core.ErrNotFound)
}

func TestStart_RegistersTaskBeforeReturning(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a").Enqueue(model.MockStep{Text: "never", Delay: 5 * time.Second})

	run, err := f.orch.Start(context.Background(), []string{"a"}, core.NewTask("long running"), Parallel)
	require.NoError(t, err)
	require.NotEmpty(t, run.TaskID)
	require.NotEmpty(t, run.ChainID)

	got, err := f.orch.Task(context.Background(), run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskRunning, got.Status)
	assert.Equal(t, run.ChainID, got.ChainID)

	require.NoError(t, f.orch.Cancel(run.TaskID))
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("collaboration did not stop after cancel")
	}
	assert.Equal(t, OutcomeFailure, run.Wait().Outcome)
}

func TestStart_RejectsRunningTaskID(t *testing.T) {
	f := newFixture(t)
	llm := f.add(t, "a")
	llm.Enqueue(model.MockStep{Text: "never", Delay: 5 * time.Second})

	task := core.NewTask("long running")
	first, err := f.orch.Start(context.Background(), []string{"a"}, task, Parallel)
	require.NoError(t, err)

	_, err = f.orch.Start(context.Background(), []string{"a"}, task, Parallel)
	assert.ErrorIs(t, err, ErrTaskRunning)
	_, err = f.orch.Collaborate(context.Background(), []string{"a"}, task, Sequential)
	assert.ErrorIs(t, err, ErrTaskRunning)

	// The first run is still the one Cancel reaches.
	require.NoError(t, f.orch.Cancel(task.ID))
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not stop after cancel")
	}

	got, err := f.orch.Task(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
	assert.Equal(t, first.ChainID, got.ChainID)
	assert.LessOrEqual(t, len(llm.Calls()), 1)
	assert.ErrorIs(t, f.orch.Cancel(task.ID), ErrTaskNotRunning)
}

func TestCollaborate_EvidenceIsCollectedAndPersisted(t *testing.T) {
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.Store = st })
	f.add(t, "scout", "search").
		EnqueueToolCall("search", map[string]any{"q": "eiffel tower height"}).
		EnqueueText("The Eiffel Tower is 330 metres tall.")
	failing(f.add(t, "flaky"))

	res, err := f.orch.Collaborate(context.Background(), []string{"scout", "flaky"}, core.NewTask("How tall is the Eiffel Tower?"), Parallel)
	require.NoError(t, err)

	chain := res.Evidence
	assert.True(t, chain.Finalized)
	require.Len(t, chain.Items, 2)
	assert.Equal(t, core.SourceTool, chain.Items[0].SourceKind)
	assert.Equal(t, core.SourceAgent, chain.Items[1].SourceKind)
	for _, item := range chain.Items {
		assert.Equal(t, "scout", item.AgentID)
		assert.True(t, item.Used)
	}
	assert.Greater(t, chain.ConfidenceLevel, 0.0)
	assert.InDelta(t, 1.0, res.Analysis.Coverage, 1e-9)

	// the chain was handed to the store and is served from there
	got, err := f.orch.EvidenceChain(context.Background(), res.ChainID)
	require.NoError(t, err)
	assert.Equal(t, chain.ID, got.ID)
	assert.Len(t, got.Items, 2)

	saved, err := st.LoadTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, saved.Status)

	_, err = f.orch.EvidenceChain(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOrchestrator_CreateAndCallAgent(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.AddResponse("ping", "pong")
	orch := New(nil, func(o *Options) { o.Model = llm })

	id, err := orch.CreateAgent(core.AgentConfig{Name: "echo"})
	require.NoError(t, err)

	reply, err := orch.CallAgent(context.Background(), id, core.NewTextMessage("user", core.RoleUser, "ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Text())

	_, err = orch.CallAgent(context.Background(), "nobody", core.NewTextMessage("user", core.RoleUser, "ping"))
	var notFound *core.AgentNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = orch.CreateAgent(core.AgentConfig{Name: "tooler", Tools: []string{"missing"}})
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	research, err := orch.CreateAgent(core.AgentConfig{Name: "scout", Variant: core.VariantResearch})
	require.NoError(t, err)
	a, err := orch.Agent(research)
	require.NoError(t, err)
	assert.IsType(t, &agent.ResearchAgent{}, a)
	assert.Len(t, orch.Agents(), 2)

	_, err = New(nil).CreateAgent(core.AgentConfig{Name: "x"})
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestOrchestrator_RegisterDuplicate(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a")
	a, err := f.orch.Agent("a")
	require.NoError(t, err)
	assert.ErrorIs(t, f.orch.Register(a), ErrDuplicateAgent)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Parallel ")
	require.NoError(t, err)
	assert.Equal(t, Parallel, s)

	_, err = ParseStrategy("mesh")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
