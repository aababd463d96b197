package hook

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// Point defines the lifecycle point of a reasoning loop where hooks run.
type Point string

const (
	// BeforeThink runs before the prompt is composed. The returned Message
	// replaces the current observation used in the prompt.
	BeforeThink Point = "before_think"

	// AfterReply runs on the final reply before it is stored and returned.
	AfterReply Point = "after_reply"

	// BeforeObserve runs on a tool result Message before it is appended to memory.
	BeforeObserve Point = "before_observe"

	// AfterObserve runs after the tool result has been stored. The returned
	// Message becomes the observation for the next thinking step.
	AfterObserve Point = "after_observe"
)

// Points lists all lifecycle points in loop order.
func Points() []Point {
	return []Point{BeforeThink, BeforeObserve, AfterObserve, AfterReply}
}

// Valid reports whether p is a known lifecycle point.
func (p Point) Valid() bool {
	switch p {
	case BeforeThink, AfterReply, BeforeObserve, AfterObserve:
		return true
	}
	return false
}

// ErrUnknownPoint is returned when registering a hook at an undefined point.
var ErrUnknownPoint = errors.New("unknown hook point")

// Context carries the agent and the Message a hook may replace.
type Context struct {
	// Agent is the agent running the loop. Hooks must not call Reply on it.
	Agent core.Agent

	AgentID   string
	AgentName string
	Point     Point

	// State is a snapshot taken when the hook point was reached.
	State core.AgentState

	// Message is the current Message at this point.
	Message core.Message
}

// Func is a hook callback. Returning a zero Message keeps the current one;
// returning an error aborts the step.
type Func func(ctx context.Context, hc *Context) (core.Message, error)

// HookError reports a failing or panicking hook.
type HookError struct {
	Point Point
	Name  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s at %s: %v", e.Name, e.Point, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

type entry struct {
	name string
	fn   Func
}

// Options configure a Pipeline.
type Options struct {
	Logger logging.Logger
}

// Pipeline keeps an ordered, name-keyed hook table per lifecycle point.
//
// Registering a name that already exists at a point replaces that hook in
// place, so exactly one hook per name runs and its position is kept.
// Execution works on a snapshot, so hooks may be registered or removed
// concurrently with running loops.
type Pipeline struct {
	mu     sync.RWMutex
	points map[Point][]entry
	logger logging.Logger
}

// NewPipeline creates an empty hook pipeline.
func NewPipeline(optFns ...func(o *Options)) *Pipeline {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pipeline{
		points: make(map[Point][]entry),
		logger: opts.Logger,
	}
}

// Register adds fn under name at point, replacing an existing hook of the
// same name at that point.
func (p *Pipeline) Register(point Point, name string, fn Func) error {
	if !point.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPoint, point)
	}
	if name == "" {
		return fmt.Errorf("hook name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("hook %s: func must not be nil", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.points[point]
	for i := range entries {
		if entries[i].name == name {
			entries[i].fn = fn
			p.logger.Debug("hook.replaced", "point", string(point), "name", name)
			return nil
		}
	}
	p.points[point] = append(entries, entry{name: name, fn: fn})
	p.logger.Debug("hook.registered", "point", string(point), "name", name)
	return nil
}

// Unregister removes the named hook and reports whether it existed.
func (p *Pipeline) Unregister(point Point, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.points[point]
	for i := range entries {
		if entries[i].name == name {
			p.points[point] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns hook names at point in execution order.
func (p *Pipeline) Names(point Point) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := p.points[point]
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of hooks registered at point.
func (p *Pipeline) Len(point Point) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.points[point])
}

// Run executes the hooks at hc.Point in registration order, threading the
// Message through each hook. The first failure stops the pipeline and is
// returned as *HookError together with the Message as it was before the
// failing hook. A nil Pipeline returns hc.Message unchanged.
func (p *Pipeline) Run(ctx context.Context, hc Context) (core.Message, error) {
	if p == nil {
		return hc.Message, nil
	}

	p.mu.RLock()
	entries := append([]entry(nil), p.points[hc.Point]...)
	p.mu.RUnlock()

	current := hc.Message
	for _, e := range entries {
		hc.Message = current
		out, err := p.call(ctx, e, &hc)
		if err != nil {
			p.logger.Warn("hook.failed", "point", string(hc.Point), "name", e.name, "agent", hc.AgentID, "error", err)
			return current, &HookError{Point: hc.Point, Name: e.name, Err: err}
		}
		if !out.IsZero() {
			current = out
		}
	}
	return current, nil
}

func (p *Pipeline) call(ctx context.Context, e entry, hc *Context) (out core.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("hook.panic", "point", string(hc.Point), "name", e.name, "recover", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return e.fn(ctx, hc)
}
