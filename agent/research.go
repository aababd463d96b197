package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/tool"
)

const researchSystemPrompt = `You are {{.name}}{{if .role}}, {{.role}}{{end}}, a research specialist.
Gather evidence with your tools before answering. Prefer primary sources and cite them.
Finish with a concise summary of what the evidence shows and where it disagrees.`

const researchTaskPrompt = "Research the following topic and report your findings with sources:\n%s"

// ResearchReport is the outcome of ConductResearch.
type ResearchReport struct {
	Topic string `json:"topic"`
	// Summary is the agent's final (or partial) reply.
	Summary core.Message `json:"summary"`
	// Findings are evidence items extracted from successful tool results
	// during the run, in call order.
	Findings  []core.EvidenceItem `json:"findings"`
	Truncated bool                `json:"truncated"`
}

// ResearchAgent is the research variant of ReasoningAgent. It uses a
// research system prompt and adds ConductResearch.
type ResearchAgent struct {
	*ReasoningAgent
}

var _ core.Agent = (*ResearchAgent)(nil)

// NewResearchAgent builds a research agent. An empty system prompt is
// replaced by the research prompt.
func NewResearchAgent(cfg core.AgentConfig, llm model.Model, tools *tool.Registry, optFns ...func(o *Options)) (*ResearchAgent, error) {
	cfg.Variant = core.VariantResearch
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = researchSystemPrompt
	}
	base, err := NewReasoningAgent(cfg, llm, tools, optFns...)
	if err != nil {
		return nil, err
	}
	ra := &ResearchAgent{ReasoningAgent: base}
	base.self = ra
	return ra, nil
}

// ConductResearch runs the loop on topic and collects the findings. A
// truncated run still returns a report together with the
// *core.IterationLimitError.
func (a *ResearchAgent) ConductResearch(ctx context.Context, topic string) (ResearchReport, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ResearchReport{}, errors.New("research topic must not be empty")
	}

	var (
		mu       sync.Mutex
		findings []core.EvidenceItem
	)
	outer, hasOuter := core.EvidenceSinkFromContext(ctx)
	ctx = core.ContextWithEvidenceSink(ctx, core.EvidenceSinkFunc(func(ctx context.Context, item core.EvidenceItem) {
		mu.Lock()
		findings = append(findings, item)
		mu.Unlock()
		if hasOuter {
			outer.Emit(ctx, item)
		}
	}))

	input := core.NewTextMessage("user", core.RoleUser, fmt.Sprintf(researchTaskPrompt, topic))
	summary, err := a.Reply(ctx, input)

	mu.Lock()
	defer mu.Unlock()
	return ResearchReport{
		Topic:     topic,
		Summary:   summary,
		Findings:  findings,
		Truncated: summary.Truncated(),
	}, err
}

// New builds the agent variant named by cfg.Variant.
func New(cfg core.AgentConfig, llm model.Model, tools *tool.Registry, optFns ...func(o *Options)) (core.Agent, error) {
	switch cfg.Variant {
	case core.VariantResearch:
		return NewResearchAgent(cfg, llm, tools, optFns...)
	case "", core.VariantReasoning:
		return NewReasoningAgent(cfg, llm, tools, optFns...)
	default:
		return nil, core.NewConfigurationError("variant", "unknown variant %q", cfg.Variant)
	}
}
