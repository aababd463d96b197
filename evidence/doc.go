// Package evidence assembles findings produced during a collaboration into
// scored evidence chains.
//
// Each ingested item receives a quality score from its source reliability
// (tool output ranks above model assertions), its specificity (supporting
// text, citation) and its consistency with the items already present. New
// items are compared pairwise with existing ones by a pluggable Classifier
// that labels edges supports, contradicts or extends.
//
// Chain confidence is derived, never set: the support-weighted mean of item
// scores damped by unresolved contradictions. Chain quality adds coverage,
// the share of items marked used by the final result.
package evidence
