package evidence

import (
	"strings"
	"unicode"

	"github.com/hupe1980/researchmesh/core"
)

// Classifier infers the relationship between an incoming item and an item
// already in the chain. ok is false when the items are unrelated.
type Classifier interface {
	Classify(incoming, existing core.EvidenceItem) (kind core.RelationKind, strength float64, ok bool)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(incoming, existing core.EvidenceItem) (core.RelationKind, float64, bool)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(incoming, existing core.EvidenceItem) (core.RelationKind, float64, bool) {
	return f(incoming, existing)
}

// HeuristicClassifier compares claims by token overlap (Jaccard) and
// negation polarity. Overlapping claims with opposite polarity contradict,
// strongly overlapping claims support each other, weaker overlap extends.
type HeuristicClassifier struct {
	// SupportThreshold is the minimum overlap for a supports edge.
	SupportThreshold float64
	// RelatedThreshold is the minimum overlap for any edge.
	RelatedThreshold float64
}

// NewHeuristicClassifier returns a classifier with default thresholds.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{SupportThreshold: 0.5, RelatedThreshold: 0.2}
}

// Classify implements Classifier.
func (c *HeuristicClassifier) Classify(incoming, existing core.EvidenceItem) (core.RelationKind, float64, bool) {
	a, negA := tokenize(incoming.Claim)
	b, negB := tokenize(existing.Claim)

	overlap := jaccard(a, b)
	if overlap < c.RelatedThreshold {
		return "", 0, false
	}
	switch {
	case negA%2 != negB%2:
		return core.RelationContradicts, overlap, true
	case overlap >= c.SupportThreshold:
		return core.RelationSupports, overlap, true
	default:
		return core.RelationExtends, overlap, true
	}
}

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "none": {}, "cannot": {}, "false": {},
	"isn't": {}, "aren't": {}, "wasn't": {}, "weren't": {}, "doesn't": {},
	"don't": {}, "didn't": {}, "won't": {}, "can't": {}, "neither": {}, "nor": {},
	"without": {},
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "are": {},
	"was": {}, "were": {}, "from": {}, "has": {}, "have": {}, "had": {}, "its": {},
	"but": {}, "into": {}, "than": {}, "then": {}, "also": {}, "which": {},
	"will": {}, "would": {}, "can": {}, "could": {}, "does": {}, "did": {},
	"been": {}, "being": {}, "their": {}, "there": {}, "these": {}, "those": {},
	"about": {}, "is": {}, "of": {}, "to": {}, "in": {}, "on": {}, "a": {}, "an": {},
}

// tokenize returns the content word set of text and the number of negations.
func tokenize(text string) (map[string]struct{}, int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]struct{}, len(words))
	negs := 0
	for _, w := range words {
		w = strings.Trim(w, "'")
		if _, ok := negations[w]; ok {
			negs++
			continue
		}
		if len(w) < 2 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		set[w] = struct{}{}
	}
	return set, negs
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
