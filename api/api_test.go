package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/orchestrator"
	"github.com/hupe1980/researchmesh/store"
)

func newTestServer(t *testing.T, llm *model.MockModel) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	orch := orchestrator.New(nil, func(o *orchestrator.Options) {
		o.Model = llm
		o.Store = st
		o.AgentOptions = []func(*agent.Options){func(ao *agent.Options) {
			ao.RetryPolicy = model.RetryPolicy{MaxRetries: 0}
		}}
	})
	srv := httptest.NewServer(NewRouter(orch, func(o *Options) { o.Version = "test" }))
	t.Cleanup(srv.Close)
	return srv, orch
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw := new(bytes.Buffer)
	_, _ = raw.ReadFrom(resp.Body)
	if raw.Len() > 0 && raw.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(raw.Bytes(), &out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, model.NewMockModel("mock", "mock"))
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestAgents_CreateGetCall(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.EnqueueText("4")
	srv, _ := newTestServer(t, llm)

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", map[string]any{
		"name": "calculator",
		"role": "arithmetic helper",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := got["config"].(map[string]any)
	assert.Equal(t, "calculator", cfg["name"])
	assert.Equal(t, "idle", got["state"].(map[string]any)["status"])

	resp, reply := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/messages", map[string]any{"content": "What is 2+2?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := reply["message"].(map[string]any)
	assert.Equal(t, "assistant", msg["role"])
	parts := msg["parts"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "4", parts[0].(map[string]any)["text"])
	assert.Nil(t, reply["error"])

	listResp, err := http.Get(srv.URL + "/api/v1/agents")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []agentView
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, core.StatusDone, list[0].State.Status)
}

func TestAgents_Errors(t *testing.T) {
	srv, _ := newTestServer(t, model.NewMockModel("mock", "mock"))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", map[string]any{"name": "x", "tools": []string{"missing"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "missing")

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", map[string]any{"name": "x", "unknown_field": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/nope/messages", map[string]any{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallAgent_FailureIsReportedInBody(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	srv, orch := newTestServer(t, llm)
	id, err := orch.CreateAgent(core.AgentConfig{Name: "fragile"})
	require.NoError(t, err)
	llm.EnqueueError(errors.New("provider down"))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/messages", map[string]any{"content": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "model_failure", body["error_kind"])
	assert.NotEmpty(t, body["message"])
}

func TestCollaborations_SyncAndLookups(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	srv, orch := newTestServer(t, llm)
	a, err := orch.CreateAgent(core.AgentConfig{Name: "alpha"})
	require.NoError(t, err)
	b, err := orch.CreateAgent(core.AgentConfig{Name: "beta"})
	require.NoError(t, err)
	llm.EnqueueText("alpha found that the sky is blue.", "beta confirms the sky is blue.")

	resp, res := doJSON(t, http.MethodPost, srv.URL+"/api/v1/collaborations", map[string]any{
		"agent_ids": []string{a, b},
		"task":      "What colour is the sky?",
		"strategy":  "sequential",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", res["outcome"])
	taskID := res["task_id"].(string)
	chainID := res["chain_id"].(string)

	resp, task := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", task["status"])
	assert.Equal(t, "beta confirms the sky is blue.", task["result"])

	resp, chain := doJSON(t, http.MethodGet, srv.URL+"/api/v1/evidence-chains/"+chainID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, chain["finalized"])
	assert.Len(t, chain["items"], 2)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCollaborations_Validation(t *testing.T) {
	srv, orch := newTestServer(t, model.NewMockModel("mock", "mock"))
	a, err := orch.CreateAgent(core.AgentConfig{Name: "alpha"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown agent", map[string]any{"agent_ids": []string{a, "ghost"}, "task": "t", "strategy": "parallel"}, http.StatusNotFound},
		{"unknown strategy", map[string]any{"agent_ids": []string{a}, "task": "t", "strategy": "swarm"}, http.StatusBadRequest},
		{"no agents", map[string]any{"agent_ids": []string{}, "task": "t", "strategy": "parallel"}, http.StatusBadRequest},
		{"empty task", map[string]any{"agent_ids": []string{a}, "task": "", "strategy": "parallel"}, http.StatusBadRequest},
		{"async unknown agent", map[string]any{"agent_ids": []string{"ghost"}, "task": "t", "strategy": "parallel", "async": true}, http.StatusNotFound},
		{"async duplicate agent", map[string]any{"agent_ids": []string{a, a}, "task": "t", "strategy": "parallel", "async": true}, http.StatusBadRequest},
		{"async no agents", map[string]any{"agent_ids": []string{}, "task": "t", "strategy": "parallel", "async": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/collaborations", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCollaborations_AsyncCancel(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	srv, orch := newTestServer(t, llm)
	a, err := orch.CreateAgent(core.AgentConfig{Name: "slowpoke"})
	require.NoError(t, err)
	llm.Enqueue(model.MockStep{Text: "eventually", Delay: 5 * time.Second})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/collaborations", map[string]any{
		"agent_ids": []string{a},
		"task":      "take your time",
		"strategy":  "parallel",
		"task_id":   "task-async",
		"async":     true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "task-async", body["task_id"])
	assert.NotEmpty(t, body["chain_id"])

	resp, task := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/task-async", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", task["status"])
	assert.Equal(t, body["chain_id"], task["chain_id"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/collaborations", map[string]any{
		"agent_ids": []string{a},
		"task":      "again",
		"strategy":  "sequential",
		"task_id":   "task-async",
		"async":     true,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/task-async/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, task := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/task-async", nil)
		return task["status"] == "cancelled"
	}, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, len(llm.Calls()), 1)
}

func TestLookups_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, model.NewMockModel("mock", "mock"))

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/evidence-chains/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
