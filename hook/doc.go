// Package hook provides the ordered, named interceptors invoked at the
// lifecycle points of an agent's reasoning loop.
//
// Four points are defined: BeforeThink, BeforeObserve, AfterObserve and
// AfterReply. Each point owns an ordered table keyed by hook name; hooks run
// synchronously in registration order and may replace the Message they are
// given:
//
//	hooks := hook.NewPipeline()
//	_ = hooks.Register(hook.AfterReply, "redact", func(ctx context.Context, hc *hook.Context) (core.Message, error) {
//		return hc.Message.WithText(redact(hc.Message.Text())), nil
//	})
//
// A hook error or panic aborts the current step; the agent reports it as an
// AgentExecutionError of kind hook_failure.
package hook
