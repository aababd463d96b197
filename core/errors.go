package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the machine readable classification of an agent failure.
type ErrorKind string

const (
	KindModelFailure ErrorKind = "model_failure"
	KindToolFailure  ErrorKind = "tool_failure"
	KindTimeout      ErrorKind = "timeout"
	KindHookFailure  ErrorKind = "hook_failure"
	KindCancelled    ErrorKind = "cancelled"
	// KindIterationLimit marks a truncated reply.
	KindIterationLimit ErrorKind = "iteration_limit"
	// KindUnknown is used for failures that carry no classification.
	KindUnknown ErrorKind = "unknown"
)

var (
	// ErrNotFound is returned by stores when no record exists for an id.
	ErrNotFound = errors.New("not found")
	// ErrTaskCancelled is the cancellation cause recorded for cancelled tasks.
	ErrTaskCancelled = errors.New("task cancelled")
)

// ConfigurationError reports an invalid configuration detected at construction time.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AgentExecutionError is a recoverable failure of a single agent run.
type AgentExecutionError struct {
	AgentID string
	Kind    ErrorKind
	Err     error
}

func (e *AgentExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.AgentID, e.Kind)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Kind, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// IterationLimitError reports that an agent hit max_iterations without a
// terminal answer. The accompanying reply carries the best partial answer.
type IterationLimitError struct {
	AgentID string
	Limit   int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("agent %s: iteration limit of %d reached", e.AgentID, e.Limit)
}

// AgentNotFoundError lists agent ids that are not registered.
type AgentNotFoundError struct {
	IDs []string
}

func (e *AgentNotFoundError) Error() string {
	return "agent not found: " + strings.Join(e.IDs, ", ")
}

// CollaborationError wraps a fatal failure in hierarchical coordination.
type CollaborationError struct {
	TaskID string
	Phase  string // decomposition or synthesis
	Err    error
}

func (e *CollaborationError) Error() string {
	return fmt.Sprintf("collaboration %s failed during %s: %v", e.TaskID, e.Phase, e.Err)
}

func (e *CollaborationError) Unwrap() error { return e.Err }

// KindOf maps err to a machine readable kind. Nil maps to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var execErr *AgentExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	var limitErr *IterationLimitError
	if errors.As(err, &limitErr) {
		return KindIterationLimit
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrTaskCancelled):
		return KindCancelled
	}
	return KindUnknown
}

// ContextErrorKind classifies a done context: deadline means timeout,
// anything else means cancellation.
func ContextErrorKind(ctx context.Context) ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCancelled
}
