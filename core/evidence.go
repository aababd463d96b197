package core

import (
	"context"
	"time"
)

// SourceKind distinguishes tool-produced evidence from model-asserted claims.
type SourceKind string

const (
	SourceTool  SourceKind = "tool"
	SourceAgent SourceKind = "agent"
)

// EvidenceItem is a factual claim emitted by an agent or a tool.
type EvidenceItem struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"` // agent id or tool name
	SourceKind     SourceKind `json:"source_kind"`
	AgentID        string     `json:"agent_id,omitempty"` // agent that emitted the item
	Claim          string     `json:"claim"`
	SupportingText string     `json:"supporting_text,omitempty"`
	Citation       string     `json:"citation,omitempty"`
	QualityScore   float64    `json:"quality_score"`
	Used           bool       `json:"used"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RelationKind classifies an edge between two evidence items.
type RelationKind string

const (
	RelationSupports    RelationKind = "supports"
	RelationContradicts RelationKind = "contradicts"
	RelationExtends     RelationKind = "extends"
)

// Relationship is a directed edge from the newer item to an existing one.
type Relationship struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Kind     RelationKind `json:"kind"`
	Strength float64      `json:"strength"`
	Resolved bool         `json:"resolved,omitempty"`
}

// EvidenceChain is the scored collection of evidence for a task.
// ConfidenceLevel and QualityScore are derived, never set by callers.
type EvidenceChain struct {
	ID              string         `json:"id"`
	TaskID          string         `json:"task_id"`
	Items           []EvidenceItem `json:"items"`
	Relationships   []Relationship `json:"relationships"`
	ConfidenceLevel float64        `json:"confidence_level"`
	QualityScore    float64        `json:"quality_score"`
	Finalized       bool           `json:"finalized"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (c EvidenceChain) Clone() EvidenceChain {
	c.Items = append([]EvidenceItem(nil), c.Items...)
	c.Relationships = append([]Relationship(nil), c.Relationships...)
	return c
}

// EvidenceSink receives evidence emitted while an agent runs.
type EvidenceSink interface {
	Emit(ctx context.Context, item EvidenceItem)
}

// EvidenceSinkFunc adapts a function to EvidenceSink.
type EvidenceSinkFunc func(ctx context.Context, item EvidenceItem)

// Emit implements EvidenceSink.
func (f EvidenceSinkFunc) Emit(ctx context.Context, item EvidenceItem) { f(ctx, item) }

type evidenceSinkKey struct{}

// ContextWithEvidenceSink routes evidence emitted under ctx to sink.
func ContextWithEvidenceSink(ctx context.Context, sink EvidenceSink) context.Context {
	return context.WithValue(ctx, evidenceSinkKey{}, sink)
}

// EvidenceSinkFromContext returns the sink attached to ctx, if any.
func EvidenceSinkFromContext(ctx context.Context) (EvidenceSink, bool) {
	sink, ok := ctx.Value(evidenceSinkKey{}).(EvidenceSink)
	return sink, ok && sink != nil
}
