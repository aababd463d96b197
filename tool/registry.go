package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/telemetry"
)

// ErrDuplicateTool is returned when registering a name twice.
var ErrDuplicateTool = errors.New("tool already registered")

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry maps tool names to executable tools. It is constructed once,
// passed to agents explicitly and is safe for concurrent use: lookups take a
// read lock, registration a write lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates a registry pre-populated with tools.
// Duplicate names in tools cause a panic, as this is a programming error.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: opts.Logger}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Unregister removes a tool and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Missing returns the subset of names that are not registered, in input order.
func (r *Registry) Missing(names ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Definitions returns model facing declarations for the named tools in the
// given order. Unknown names are skipped.
func (r *Registry) Definitions(names ...string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the call and always returns a structured result: lookup
// misses, validation failures, execution errors and panics are reported via
// Success=false rather than returned as errors.
func (r *Registry) Execute(ctx context.Context, call core.ToolCall) (res core.ToolResult) {
	ctx, span := telemetry.Tracer().Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	res = core.ToolResult{CallID: call.ID, Name: call.Name}

	t, ok := r.Get(call.Name)
	if !ok {
		res.Error = fmt.Sprintf("tool %q not found", call.Name)
		res.Code = CodeNotFound
		r.logger.Warn("tool.lookup.miss", "tool", call.Name)
		span.SetStatus(codes.Error, res.Error)
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			res.Success = false
			res.Data = nil
			res.Error = fmt.Sprintf("panic: %v", rec)
			res.Code = CodePanic
			r.logger.Error("tool.call.panic", "tool", call.Name, "recover", rec, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	data, err := t.Call(ctx, args)
	dur := time.Since(start)
	if err != nil {
		res.Error = err.Error()
		res.Code = CodeExecution
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			res.Error = toolErr.Message
			res.Code = toolErr.Code
		} else if errors.Is(err, context.DeadlineExceeded) {
			res.Code = CodeTimeout
		}
		logging.RecordToolCall(r.logger, call.Name, dur, false, err)
		span.SetStatus(codes.Error, res.Error)
		return res
	}

	res.Success = true
	res.Data = data
	logging.RecordToolCall(r.logger, call.Name, dur, true, nil)
	return res
}
