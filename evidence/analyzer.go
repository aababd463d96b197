package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

var (
	// ErrChainNotFound is returned for unknown chain ids.
	ErrChainNotFound = errors.New("evidence chain not found")
	// ErrChainFinalized is returned when mutating a finalized chain.
	ErrChainFinalized = errors.New("evidence chain finalized")
	// ErrEmptyClaim is returned when ingesting an item without a claim.
	ErrEmptyClaim = errors.New("evidence item has no claim")
	// ErrItemNotFound is returned when an item or edge id is unknown.
	ErrItemNotFound = errors.New("evidence item not found")
)

// Scoring weights.
const (
	weightReliability = 0.4
	weightSpecificity = 0.3
	weightConsistency = 0.3

	reliabilityTool  = 1.0
	reliabilityAgent = 0.6

	specificityBase       = 0.3
	specificitySupporting = 0.4
	specificityCitation   = 0.3

	supportWeight        = 0.5
	contradictionPenalty = 0.25

	weightConfidence = 0.7
	weightCoverage   = 0.3
)

// Analysis is the derived view of a chain.
type Analysis struct {
	ConfidenceLevel float64             `json:"confidence_level"`
	QualityScore    float64             `json:"quality_score"`
	Coverage        float64             `json:"coverage"`
	Relationships   []core.Relationship `json:"relationships"`
}

// Options configure an Analyzer.
type Options struct {
	Classifier Classifier
	Logger     logging.Logger
}

// Analyzer scores and links evidence items into chains. All mutations are
// serialized by a single mutex so concurrent agents can emit evidence into
// the same chain.
type Analyzer struct {
	mu         sync.Mutex
	chains     map[string]*core.EvidenceChain
	classifier Classifier
	logger     logging.Logger
}

// NewAnalyzer creates an Analyzer using the heuristic classifier by default.
func NewAnalyzer(optFns ...func(o *Options)) *Analyzer {
	opts := Options{
		Classifier: NewHeuristicClassifier(),
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Analyzer{
		chains:     make(map[string]*core.EvidenceChain),
		classifier: opts.Classifier,
		logger:     opts.Logger,
	}
}

// CreateChain starts an empty chain for taskID.
func (a *Analyzer) CreateChain(taskID string) core.EvidenceChain {
	now := time.Now().UTC()
	chain := &core.EvidenceChain{
		ID:        core.NewID(),
		TaskID:    taskID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	a.mu.Lock()
	a.chains[chain.ID] = chain
	a.mu.Unlock()

	a.logger.Debug("evidence.chain.created", "chain", chain.ID, "task", taskID)
	return chain.Clone()
}

// Ingest scores item against the chain, infers its relationships to the
// items already present and appends it. Re-ingesting a known item id is a
// no-op that returns the stored item.
func (a *Analyzer) Ingest(chainID string, item core.EvidenceItem) (core.EvidenceItem, error) {
	if item.Claim == "" {
		return core.EvidenceItem{}, ErrEmptyClaim
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	chain, err := a.mutable(chainID)
	if err != nil {
		return core.EvidenceItem{}, err
	}

	if item.ID == "" {
		item.ID = core.NewID()
	}
	for _, existing := range chain.Items {
		if existing.ID == item.ID {
			return existing, nil
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.SourceKind == "" {
		item.SourceKind = core.SourceAgent
	}

	contradictions := 0
	for _, existing := range chain.Items {
		kind, strength, ok := a.classifier.Classify(item, existing)
		if !ok {
			continue
		}
		if kind == core.RelationContradicts {
			contradictions++
		}
		chain.Relationships = append(chain.Relationships, core.Relationship{
			From:     item.ID,
			To:       existing.ID,
			Kind:     kind,
			Strength: clamp01(strength),
		})
	}

	item.QualityScore = itemQuality(item, contradictions)
	chain.Items = append(chain.Items, item)
	a.rescore(chain)

	a.logger.Debug("evidence.ingest",
		"chain", chainID,
		"item", item.ID,
		"source", item.Source,
		"quality", item.QualityScore,
		"contradictions", contradictions,
	)
	return item, nil
}

// Analyze returns the derived scores and relationships of a chain.
func (a *Analyzer) Analyze(chainID string) (Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, ok := a.chains[chainID]
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	return Analysis{
		ConfidenceLevel: chain.ConfidenceLevel,
		QualityScore:    chain.QualityScore,
		Coverage:        coverage(chain.Items),
		Relationships:   append([]core.Relationship(nil), chain.Relationships...),
	}, nil
}

// Chain returns a copy of the chain.
func (a *Analyzer) Chain(chainID string) (core.EvidenceChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, ok := a.chains[chainID]
	if !ok {
		return core.EvidenceChain{}, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	return chain.Clone(), nil
}

// MarkUsed flags the given items as used by the final result.
func (a *Analyzer) MarkUsed(chainID string, itemIDs ...string) error {
	want := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = struct{}{}
	}
	_, err := a.markUsed(chainID, func(item core.EvidenceItem) bool {
		_, ok := want[item.ID]
		return ok
	})
	return err
}

// MarkUsedByAgents flags every item emitted by one of agentIDs as used and
// returns the number of newly marked items.
func (a *Analyzer) MarkUsedByAgents(chainID string, agentIDs ...string) (int, error) {
	want := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		want[id] = struct{}{}
	}
	return a.markUsed(chainID, func(item core.EvidenceItem) bool {
		_, ok := want[item.AgentID]
		return ok
	})
}

func (a *Analyzer) markUsed(chainID string, match func(core.EvidenceItem) bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, err := a.mutable(chainID)
	if err != nil {
		return 0, err
	}
	marked := 0
	for i := range chain.Items {
		if !chain.Items[i].Used && match(chain.Items[i]) {
			chain.Items[i].Used = true
			marked++
		}
	}
	if marked > 0 {
		a.rescore(chain)
	}
	return marked, nil
}

// Resolve marks the contradiction edge between fromID and toID as resolved
// so it no longer lowers the chain confidence.
func (a *Analyzer) Resolve(chainID, fromID, toID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, err := a.mutable(chainID)
	if err != nil {
		return err
	}
	for i, rel := range chain.Relationships {
		if rel.Kind != core.RelationContradicts {
			continue
		}
		if (rel.From == fromID && rel.To == toID) || (rel.From == toID && rel.To == fromID) {
			chain.Relationships[i].Resolved = true
			a.rescore(chain)
			return nil
		}
	}
	return fmt.Errorf("%w: no contradiction between %s and %s", ErrItemNotFound, fromID, toID)
}

// Finalize freezes the chain and returns its final state. Finalizing twice
// returns the frozen chain.
func (a *Analyzer) Finalize(chainID string) (core.EvidenceChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, ok := a.chains[chainID]
	if !ok {
		return core.EvidenceChain{}, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if !chain.Finalized {
		a.rescore(chain)
		chain.Finalized = true
		a.logger.Info("evidence.chain.finalized",
			"chain", chainID,
			"items", len(chain.Items),
			"confidence", chain.ConfidenceLevel,
			"quality", chain.QualityScore,
		)
	}
	return chain.Clone(), nil
}

// Forget drops a chain from memory, typically after it was persisted.
func (a *Analyzer) Forget(chainID string) {
	a.mu.Lock()
	delete(a.chains, chainID)
	a.mu.Unlock()
}

// Sink returns an EvidenceSink that ingests into chainID. Ingest failures
// are logged and dropped so evidence never fails an agent run.
func (a *Analyzer) Sink(chainID string) core.EvidenceSink {
	return core.EvidenceSinkFunc(func(_ context.Context, item core.EvidenceItem) {
		if _, err := a.Ingest(chainID, item); err != nil {
			a.logger.Warn("evidence.ingest.dropped", "chain", chainID, "source", item.Source, "error", err)
		}
	})
}

// mutable must be called with the lock held.
func (a *Analyzer) mutable(chainID string) (*core.EvidenceChain, error) {
	chain, ok := a.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if chain.Finalized {
		return nil, fmt.Errorf("%w: %s", ErrChainFinalized, chainID)
	}
	return chain, nil
}

// rescore recomputes the derived chain scores. Must be called with the lock held.
func (a *Analyzer) rescore(chain *core.EvidenceChain) {
	chain.ConfidenceLevel = Confidence(chain.Items, chain.Relationships)
	chain.QualityScore = Quality(chain.ConfidenceLevel, coverage(chain.Items))
	chain.UpdatedAt = time.Now().UTC()
}

// Confidence is the support-weighted mean of item quality scores, damped by
// the number of unresolved contradiction edges.
func Confidence(items []core.EvidenceItem, rels []core.Relationship) float64 {
	if len(items) == 0 {
		return 0
	}

	supports := make(map[string]int, len(items))
	unresolved := 0
	for _, rel := range rels {
		switch rel.Kind {
		case core.RelationSupports:
			supports[rel.To]++
		case core.RelationContradicts:
			if !rel.Resolved {
				unresolved++
			}
		}
	}

	var sum, weights float64
	for _, item := range items {
		w := 1 + supportWeight*float64(supports[item.ID])
		sum += w * item.QualityScore
		weights += w
	}
	mean := sum / weights
	return clamp01(mean / (1 + contradictionPenalty*float64(unresolved)))
}

// Quality combines confidence with usage coverage.
func Quality(confidence, coverage float64) float64 {
	return clamp01(weightConfidence*confidence + weightCoverage*coverage)
}

func itemQuality(item core.EvidenceItem, contradictions int) float64 {
	reliability := reliabilityAgent
	if item.SourceKind == core.SourceTool {
		reliability = reliabilityTool
	}

	specificity := specificityBase
	if item.SupportingText != "" {
		specificity += specificitySupporting
	}
	if item.Citation != "" {
		specificity += specificityCitation
	}

	consistency := 1 / (1 + float64(contradictions))

	return clamp01(weightReliability*reliability + weightSpecificity*specificity + weightConsistency*consistency)
}

func coverage(items []core.EvidenceItem) float64 {
	if len(items) == 0 {
		return 0
	}
	used := 0
	for _, item := range items {
		if item.Used {
			used++
		}
	}
	return float64(used) / float64(len(items))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
