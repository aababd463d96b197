package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/evidence"
	"github.com/hupe1980/researchmesh/hook"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/memory"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/telemetry"
	"github.com/hupe1980/researchmesh/tool"
)

// IntentPolicy decides what happens when a completion carries an intent
// block that cannot be parsed.
type IntentPolicy int

const (
	// IntentFailOpen treats a malformed intent as the final answer.
	IntentFailOpen IntentPolicy = iota
	// IntentRetryThenFail re-prompts the model up to MaxIntentRetries times
	// and then fails the reply with kind model_failure.
	IntentRetryThenFail
)

// DefaultToolTimeout bounds a single tool call.
const DefaultToolTimeout = 30 * time.Second

// Options configures a ReasoningAgent.
//
// Use functional options with NewReasoningAgent to override defaults.
type Options struct {
	// ID fixes the agent id. Empty generates a random id.
	ID string
	// Logger receives loop events. Defaults to logging.NoOpLogger.
	Logger logging.Logger
	// Hooks is the hook pipeline. A fresh pipeline is created when nil.
	Hooks *hook.Pipeline
	// MemoryCapacity bounds the verbatim message window.
	MemoryCapacity int
	// Summarizer folds evicted messages. Nil keeps the memory default.
	Summarizer memory.Summarizer
	// DisableSummarization evicts overflowing messages without a summary.
	DisableSummarization bool
	// RetryPolicy bounds retries of provider errors per completion.
	RetryPolicy model.RetryPolicy
	// ToolTimeout bounds a single tool call. Zero disables the bound.
	ToolTimeout time.Duration
	// IntentPolicy handles malformed intent blocks.
	IntentPolicy IntentPolicy
	// MaxIntentRetries applies to IntentRetryThenFail.
	MaxIntentRetries int
	// MaxToolFailures aborts the reply with kind tool_failure after that
	// many consecutive failed tool calls. Zero never aborts.
	MaxToolFailures int
	// Stream requests streaming completions from the model.
	Stream bool
}

// ReasoningAgent runs the observe-think-act loop: it asks the model for the
// next step, executes requested tools through the registry and feeds the
// results back until the model answers or max_iterations is reached.
//
// Replies on one agent are serialized; memory and state are owned by the
// agent. Different agents run concurrently and share only the registry.
type ReasoningAgent struct {
	id           string
	cfg          core.AgentConfig
	llm          model.Model
	tools        *tool.Registry
	toolDefs     []model.ToolDefinition
	allowed      map[string]struct{}
	systemPrompt string
	hooks        *hook.Pipeline
	mem          *memory.Memory
	logger       logging.Logger
	opts         Options

	// self is the outermost variant, passed to hooks.
	self core.Agent

	runMu sync.Mutex

	mu    sync.RWMutex
	state core.AgentState
}

// NewReasoningAgent validates cfg against the registry and builds the agent.
// Unknown tool names, a nil model or an invalid prompt template yield a
// *core.ConfigurationError.
func NewReasoningAgent(cfg core.AgentConfig, llm model.Model, tools *tool.Registry, optFns ...func(o *Options)) (*ReasoningAgent, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, core.NewConfigurationError("model", "must not be nil")
	}
	if tools == nil {
		tools = tool.NewRegistry(nil)
	}
	if missing := tools.Missing(cfg.Tools...); len(missing) > 0 {
		return nil, core.NewConfigurationError("tools", "unknown tool(s): %s", strings.Join(missing, ", "))
	}

	opts := Options{
		Logger:           logging.NoOpLogger{},
		MemoryCapacity:   memory.DefaultCapacity,
		RetryPolicy:      model.DefaultRetryPolicy(),
		ToolTimeout:      DefaultToolTimeout,
		IntentPolicy:     IntentFailOpen,
		MaxIntentRetries: 2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Hooks == nil {
		opts.Hooks = hook.NewPipeline(func(o *hook.Options) { o.Logger = opts.Logger })
	}
	if opts.MaxIntentRetries < 0 {
		return nil, core.NewConfigurationError("max_intent_retries", "must not be negative, got %d", opts.MaxIntentRetries)
	}

	defs := tools.Definitions(cfg.Tools...)
	systemPrompt, err := buildSystemPrompt(cfg, defs)
	if err != nil {
		return nil, core.NewConfigurationError("system_prompt", "invalid template: %v", err)
	}

	id := opts.ID
	if id == "" {
		id = core.NewID()
	}

	allowed := make(map[string]struct{}, len(cfg.Tools))
	for _, name := range cfg.Tools {
		allowed[name] = struct{}{}
	}

	a := &ReasoningAgent{
		id:           id,
		cfg:          cfg,
		llm:          llm,
		tools:        tools,
		toolDefs:     defs,
		allowed:      allowed,
		systemPrompt: systemPrompt,
		hooks:        opts.Hooks,
		mem: memory.New(func(o *memory.Options) {
			o.Capacity = opts.MemoryCapacity
			if opts.Summarizer != nil {
				o.Summarizer = opts.Summarizer
			}
			if opts.DisableSummarization {
				o.Summarizer = nil
			}
		}),
		logger: opts.Logger,
		opts:   opts,
		state:  core.AgentState{Status: core.StatusIdle, UpdatedAt: time.Now().UTC()},
	}
	a.self = a
	return a, nil
}

// ID returns the agent id.
func (a *ReasoningAgent) ID() string { return a.id }

// Config returns the normalized configuration.
func (a *ReasoningAgent) Config() core.AgentConfig {
	cfg := a.cfg
	cfg.Capabilities = append([]string(nil), a.cfg.Capabilities...)
	cfg.Tools = append([]string(nil), a.cfg.Tools...)
	return cfg
}

// Hooks returns the agent's hook pipeline for registration.
func (a *ReasoningAgent) Hooks() *hook.Pipeline { return a.hooks }

// Memory returns the agent's memory.
func (a *ReasoningAgent) Memory() *memory.Memory { return a.mem }

// SystemPrompt returns the rendered system prompt.
func (a *ReasoningAgent) SystemPrompt() string { return a.systemPrompt }

// Observe appends msg to memory without replying.
func (a *ReasoningAgent) Observe(msg core.Message) {
	a.mem.Add(msg)
}

// Status returns a snapshot of the agent state.
func (a *ReasoningAgent) Status() core.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Reply runs the loop on input. It always returns a usable assistant
// Message; the error is *core.AgentExecutionError for failed runs and
// *core.IterationLimitError for truncated ones.
func (a *ReasoningAgent) Reply(ctx context.Context, input core.Message) (core.Message, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "agent.reply", trace.WithAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("agent.name", a.cfg.Name),
		attribute.String("agent.variant", string(a.cfg.Variant)),
		attribute.Int("agent.max_iterations", a.cfg.MaxIterations),
	))

	reply, err := a.run(ctx, input)

	span.SetAttributes(attribute.Int("agent.iterations", a.Status().IterationCount))
	telemetry.EndSpan(span, err)
	return reply, err
}

// loop carries the per-reply bookkeeping.
type loop struct {
	start         time.Time
	current       core.Message // as stored in memory
	observation   core.Message // as seen by the next prompt
	lastThought   string
	lastSuccess   *core.ToolResult
	toolFailures  int
	intentRetries int
}

func (a *ReasoningAgent) run(ctx context.Context, input core.Message) (core.Message, error) {
	a.reset()
	a.logger.Debug("agent.reply.start", "agent", a.id, "name", a.cfg.Name, "input_id", input.ID)

	a.mem.Add(input)
	l := &loop{start: time.Now(), current: input, observation: input}

	for {
		// Iteration boundary: cancellation and deadlines are observed here.
		if ctx.Err() != nil {
			return a.abort(core.ContextErrorKind(ctx), context.Cause(ctx), l)
		}

		a.setStatus(core.StatusThinking)
		obs, err := a.runHook(ctx, hook.BeforeThink, l.observation)
		if err != nil {
			return a.abort(core.KindHookFailure, err, l)
		}

		resp, err := a.think(ctx, l.current, obs)
		if err != nil {
			if ctx.Err() != nil {
				return a.abort(core.ContextErrorKind(ctx), context.Cause(ctx), l)
			}
			return a.abort(core.KindModelFailure, err, l)
		}

		intent := ParseIntent(resp.Message)
		if intent.Malformed {
			a.logger.Warn("agent.intent.malformed", "agent", a.id, "error", intent.Err)
			if a.opts.IntentPolicy == IntentRetryThenFail {
				if l.intentRetries >= a.opts.MaxIntentRetries {
					return a.abort(core.KindModelFailure, fmt.Errorf("malformed tool call after %d retries: %w", l.intentRetries, intent.Err), l)
				}
				l.intentRetries++
				a.mem.Add(resp.Message)
				corrective := core.NewTextMessage(a.cfg.Name, core.RoleUser, fmt.Sprintf(malformedIntentPrompt, intent.Err))
				a.mem.Add(corrective)
				l.current, l.observation = corrective, corrective
				continue
			}
		}
		if intent.Final() {
			return a.finish(ctx, intent.Answer, l)
		}

		if intent.Thought != "" {
			l.lastThought = intent.Thought
		}
		result := a.act(ctx, *intent.Call, intent.Thought)

		a.setStatus(core.StatusObserving)
		rawResult := core.NewToolResultMessage(a.cfg.Name, result)
		resultMsg, err := a.runHook(ctx, hook.BeforeObserve, rawResult)
		if err != nil {
			// The tool call in memory still needs its result for later replies.
			a.mem.Add(rawResult)
			return a.abort(core.KindHookFailure, err, l)
		}
		a.mem.Add(resultMsg)
		iterations := a.incrementIteration()

		if result.Success {
			r := result
			l.lastSuccess = &r
			l.toolFailures = 0
		} else {
			l.toolFailures++
		}

		obs, err = a.runHook(ctx, hook.AfterObserve, resultMsg)
		if err != nil {
			return a.abort(core.KindHookFailure, err, l)
		}
		l.current, l.observation = resultMsg, obs

		if iterations >= a.cfg.MaxIterations {
			return a.truncate(ctx, l)
		}
		if a.opts.MaxToolFailures > 0 && l.toolFailures >= a.opts.MaxToolFailures {
			return a.abort(core.KindToolFailure, fmt.Errorf("%d consecutive tool failures, last: %s", l.toolFailures, result.Error), l)
		}
	}
}

// think composes the prompt from memory, replacing the stored current
// message with the (possibly hooked) observation, and requests a completion.
func (a *ReasoningAgent) think(ctx context.Context, current, observation core.Message) (*model.Response, error) {
	history := a.mem.Messages()
	if n := len(history); n > 0 && history[n-1].ID == current.ID {
		history[n-1] = observation
	} else {
		history = append(history, observation)
	}

	req := model.Request{
		SystemPrompt: a.systemPrompt,
		Messages:     history,
		Tools:        a.toolDefs,
		MaxTokens:    a.cfg.MaxTokens,
		Stream:       a.opts.Stream,
	}
	if a.cfg.Temperature > 0 {
		temperature := a.cfg.Temperature
		req.Temperature = &temperature
	}

	start := time.Now()
	resp, attempts, err := model.CompleteWithRetry(ctx, a.llm, req, a.opts.RetryPolicy)
	tokens := 0
	if resp != nil && resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	logging.RecordModelCall(a.logger, a.llm.Info().Name, tokens, attempts, time.Since(start), err)
	return resp, err
}

// act records the tool call in memory and executes it. Tools outside the
// agent's configured set are reported as not found.
func (a *ReasoningAgent) act(ctx context.Context, call core.ToolCall, thought string) core.ToolResult {
	a.setStatus(core.StatusActing)
	if call.ID == "" {
		call.ID = core.NewID()
	}
	a.mem.Add(core.NewToolCallMessage(a.cfg.Name, thought, call))

	if _, ok := a.allowed[call.Name]; !ok {
		a.logger.Warn("agent.tool.unavailable", "agent", a.id, "tool", call.Name)
		return core.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("tool %q not found", call.Name),
			Code:   tool.CodeNotFound,
		}
	}

	toolCtx, cancel := a.toolContext(ctx)
	defer cancel()

	result := a.tools.Execute(toolCtx, call)
	a.logger.Debug("agent.tool.executed", "agent", a.id, "tool", call.Name, "success", result.Success, "code", result.Code)

	if result.Success {
		if sink, ok := core.EvidenceSinkFromContext(ctx); ok {
			if item, ok := evidence.FromToolResult(a.id, result); ok {
				sink.Emit(ctx, item)
			}
		}
	}
	return result
}

// toolContext detaches the tool call from cancellation so it is observed at
// the next iteration boundary, while keeping the caller's deadline and the
// tool timeout.
func (a *ReasoningAgent) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	deadline, hasDeadline := ctx.Deadline()
	if a.opts.ToolTimeout > 0 {
		if t := time.Now().Add(a.opts.ToolTimeout); !hasDeadline || t.Before(deadline) {
			deadline, hasDeadline = t, true
		}
	}
	if hasDeadline {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

func (a *ReasoningAgent) finish(ctx context.Context, answer string, l *loop) (core.Message, error) {
	if strings.TrimSpace(answer) == "" {
		answer = l.lastThought
	}
	reply := core.NewTextMessage(a.cfg.Name, core.RoleAssistant, answer).
		WithMetadata(core.MetaIterations, a.Status().IterationCount)

	reply, err := a.runHook(ctx, hook.AfterReply, reply)
	if err != nil {
		return a.abort(core.KindHookFailure, err, l)
	}
	a.mem.Add(reply)
	a.setTerminal(core.StatusDone, nil)

	a.logger.Info("agent.reply.done",
		"agent", a.id,
		"iterations", a.Status().IterationCount,
		"duration_ms", time.Since(l.start).Milliseconds(),
	)
	return reply, nil
}

// truncate returns the best partial answer after max_iterations.
func (a *ReasoningAgent) truncate(ctx context.Context, l *loop) (core.Message, error) {
	limitErr := &core.IterationLimitError{AgentID: a.id, Limit: a.cfg.MaxIterations}

	reply := core.NewTextMessage(a.cfg.Name, core.RoleAssistant, a.partialAnswer(l)).
		WithMetadata(core.MetaTruncated, true).
		WithMetadata(core.MetaErrorKind, string(core.KindIterationLimit)).
		WithMetadata(core.MetaIterations, a.Status().IterationCount)

	reply, err := a.runHook(ctx, hook.AfterReply, reply)
	if err != nil {
		return a.abort(core.KindHookFailure, err, l)
	}
	a.mem.Add(reply)
	a.setTerminal(core.StatusDone, limitErr)

	a.logger.Warn("agent.reply.truncated", "agent", a.id, "max_iterations", a.cfg.MaxIterations)
	return reply, limitErr
}

func (a *ReasoningAgent) partialAnswer(l *loop) string {
	switch {
	case l.lastThought != "" && l.lastSuccess != nil:
		return l.lastThought + "\n\nLatest findings: " + model.RenderToolResult(*l.lastSuccess)
	case l.lastThought != "":
		return l.lastThought
	case l.lastSuccess != nil:
		return "Latest findings: " + model.RenderToolResult(*l.lastSuccess)
	default:
		return fmt.Sprintf("No final answer after %d iterations.", a.cfg.MaxIterations)
	}
}

// abort ends the reply with an annotated error Message.
func (a *ReasoningAgent) abort(kind core.ErrorKind, cause error, l *loop) (core.Message, error) {
	execErr := &core.AgentExecutionError{AgentID: a.id, Kind: kind, Err: cause}

	text := fmt.Sprintf("%s could not complete the request (%s).", a.cfg.Name, kind)
	if l.lastThought != "" {
		text += "\n" + l.lastThought
	}
	reply := core.NewTextMessage(a.cfg.Name, core.RoleAssistant, text).
		WithMetadata(core.MetaError, execErr.Error()).
		WithMetadata(core.MetaErrorKind, string(kind)).
		WithMetadata(core.MetaIterations, a.Status().IterationCount)

	status := core.StatusFailed
	if kind == core.KindCancelled {
		status = core.StatusCancelled
		reply = reply.WithMetadata(core.MetaCancelled, true)
	}
	a.setTerminal(status, execErr)

	a.logger.Warn("agent.reply.failed",
		"agent", a.id,
		"kind", string(kind),
		"error", execErr.Error(),
		"iterations", a.Status().IterationCount,
	)
	return reply, execErr
}

func (a *ReasoningAgent) runHook(ctx context.Context, point hook.Point, msg core.Message) (core.Message, error) {
	return a.hooks.Run(ctx, hook.Context{
		Agent:     a.self,
		AgentID:   a.id,
		AgentName: a.cfg.Name,
		Point:     point,
		State:     a.Status(),
		Message:   msg,
	})
}

func (a *ReasoningAgent) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = core.AgentState{Status: core.StatusIdle, UpdatedAt: time.Now().UTC()}
}

func (a *ReasoningAgent) setStatus(s core.AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Status = s
	a.state.UpdatedAt = time.Now().UTC()
}

func (a *ReasoningAgent) setTerminal(s core.AgentStatus, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Status = s
	a.state.LastError = err
	a.state.UpdatedAt = time.Now().UTC()
}

func (a *ReasoningAgent) incrementIteration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.IterationCount++
	a.state.UpdatedAt = time.Now().UTC()
	return a.state.IterationCount
}
