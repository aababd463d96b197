package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/evidence"
	"github.com/hupe1980/researchmesh/orchestrator"
)

type handlers struct {
	backend Backend
	logger  zerolog.Logger
	maxBody int64
	version string
}

type agentStateView struct {
	Status         core.AgentStatus `json:"status"`
	IterationCount int              `json:"iteration_count"`
	LastError      string           `json:"last_error,omitempty"`
	LastErrorKind  core.ErrorKind   `json:"last_error_kind,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type agentView struct {
	ID     string           `json:"id"`
	Config core.AgentConfig `json:"config"`
	State  agentStateView   `json:"state"`
}

func newAgentView(a core.Agent) agentView {
	st := a.Status()
	v := agentView{
		ID:     a.ID(),
		Config: a.Config(),
		State: agentStateView{
			Status:         st.Status,
			IterationCount: st.IterationCount,
			UpdatedAt:      st.UpdatedAt,
		},
	}
	if st.LastError != nil {
		v.State.LastError = st.LastError.Error()
		v.State.LastErrorKind = core.KindOf(st.LastError)
	}
	return v
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "researchmesh",
		"version": h.version,
	})
}

func (h *handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents := h.backend.Agents()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, newAgentView(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handlers) createAgent(w http.ResponseWriter, r *http.Request) {
	var cfg core.AgentConfig
	if !h.decode(w, r, &cfg) {
		return
	}
	id, err := h.backend.CreateAgent(cfg)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	a, err := h.backend.Agent(id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.logger.Info().Str("agent", id).Str("name", cfg.Name).Msg("agent created")
	respondJSON(w, http.StatusCreated, newAgentView(a))
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.backend.Agent(chi.URLParam(r, "agentID"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newAgentView(a))
}

type callAgentRequest struct {
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
}

type callAgentResponse struct {
	Message   core.Message   `json:"message"`
	Truncated bool           `json:"truncated"`
	Error     string         `json:"error,omitempty"`
	ErrorKind core.ErrorKind `json:"error_kind,omitempty"`
}

// callAgent returns 200 with the annotated reply also for failed runs;
// the error fields carry the failure.
func (h *handlers) callAgent(w http.ResponseWriter, r *http.Request) {
	var req callAgentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	sender := req.Sender
	if sender == "" {
		sender = "user"
	}

	msg := core.NewTextMessage(sender, core.RoleUser, req.Content)
	reply, err := h.backend.CallAgent(r.Context(), chi.URLParam(r, "agentID"), msg)
	var notFound *core.AgentNotFoundError
	if errors.As(err, &notFound) {
		h.respondErr(w, err)
		return
	}

	resp := callAgentResponse{Message: reply, Truncated: reply.Truncated()}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = core.KindOf(err)
	}
	respondJSON(w, http.StatusOK, resp)
}

type collaborateRequest struct {
	AgentIDs []string `json:"agent_ids"`
	Task     string   `json:"task"`
	TaskID   string   `json:"task_id,omitempty"`
	Strategy string   `json:"strategy"`
	// Async starts the collaboration in the background and returns the
	// task id immediately.
	Async bool `json:"async,omitempty"`
}

type collaborationResponse struct {
	*orchestrator.CollaborationResult
	Fatal     string         `json:"fatal,omitempty"`
	FatalKind core.ErrorKind `json:"fatal_kind,omitempty"`
}

func (h *handlers) collaborate(w http.ResponseWriter, r *http.Request) {
	var req collaborateRequest
	if !h.decode(w, r, &req) {
		return
	}
	strategy, err := orchestrator.ParseStrategy(req.Strategy)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		respondError(w, http.StatusBadRequest, "task is required")
		return
	}

	task := core.NewTask(req.Task)
	if req.TaskID != "" {
		task.ID = req.TaskID
	}

	if req.Async {
		run, err := h.backend.Start(context.WithoutCancel(r.Context()), req.AgentIDs, task, strategy)
		if err != nil {
			h.respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"task_id": run.TaskID, "chain_id": run.ChainID, "status": string(core.TaskRunning)})
		return
	}

	res, err := h.backend.Collaborate(r.Context(), req.AgentIDs, task, strategy)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	resp := collaborationResponse{CollaborationResult: res}
	if res.Fatal != nil {
		resp.Fatal = res.Fatal.Error()
		resp.FatalKind = core.KindOf(res.Fatal)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *handlers) listTasks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.backend.Tasks())
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.backend.Task(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := h.backend.Cancel(id); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "cancelling"})
}

func (h *handlers) getEvidenceChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.backend.EvidenceChain(r.Context(), chi.URLParam(r, "chainID"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// respondErr maps domain errors to status codes.
func (h *handlers) respondErr(w http.ResponseWriter, err error) {
	var (
		notFound *core.AgentNotFoundError
		cfgErr   *core.ConfigurationError
	)
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, evidence.ErrChainNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr),
		errors.Is(err, orchestrator.ErrNoAgents),
		errors.Is(err, orchestrator.ErrDuplicateParticipant),
		errors.Is(err, orchestrator.ErrUnknownStrategy):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrDuplicateAgent),
		errors.Is(err, orchestrator.ErrTaskNotRunning),
		errors.Is(err, orchestrator.ErrTaskRunning):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNoModel):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
