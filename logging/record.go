package logging

import "time"

// Recorder is implemented by loggers that render domain events with typed
// attributes, such as StructuredLogger.
type Recorder interface {
	LogToolCall(tool string, dur time.Duration, success bool, err error)
	LogModelCall(model string, tokens int, attempts int, dur time.Duration, err error)
	LogStrategyExecution(strategy string, agents, failures int, dur time.Duration, outcome string)
}

// RecordToolCall logs a tool invocation through l, using the typed helper
// when l implements Recorder.
func RecordToolCall(l Logger, tool string, dur time.Duration, success bool, err error) {
	if r, ok := l.(Recorder); ok {
		r.LogToolCall(tool, dur, success, err)
		return
	}
	if !success {
		l.Warn("tool.call.failed", "tool_name", tool, "duration_ms", dur.Milliseconds(), "error", errString(err))
		return
	}
	l.Info("tool.call.completed", "tool_name", tool, "duration_ms", dur.Milliseconds())
}

// RecordModelCall logs a completion request through l.
func RecordModelCall(l Logger, model string, tokens, attempts int, dur time.Duration, err error) {
	if r, ok := l.(Recorder); ok {
		r.LogModelCall(model, tokens, attempts, dur, err)
		return
	}
	if err != nil {
		l.Error("model.call.failed", "model", model, "attempts", attempts, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("model.call.completed", "model", model, "token_count", tokens, "attempts", attempts, "duration_ms", dur.Milliseconds())
}

// RecordStrategyExecution logs the aggregate outcome of a collaboration.
func RecordStrategyExecution(l Logger, strategy string, agents, failures int, dur time.Duration, outcome string) {
	if r, ok := l.(Recorder); ok {
		r.LogStrategyExecution(strategy, agents, failures, dur, outcome)
		return
	}
	args := []any{"strategy", strategy, "agent_count", agents, "failure_count", failures, "duration_ms", dur.Milliseconds(), "outcome", outcome}
	if failures > 0 {
		l.Warn("orchestrator.strategy.completed", args...)
		return
	}
	l.Info("orchestrator.strategy.completed", args...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
