package domain

import (
	"fmt"
	"time"
)

// RelationType describes the logical dependency between two markets.
type RelationType string

const (
	// RelationImplies: the parent resolving YES forces the child to resolve
	// YES, so P(parent) <= P(child) must hold.
	RelationImplies RelationType = "IMPLIES"

	// RelationRequires: the parent can only resolve YES if the child does.
	// Identical price constraint to IMPLIES; kept distinct because detectors
	// report the two directions separately.
	RelationRequires RelationType = "REQUIRES"

	// RelationMutualExclusion: at most one of the two markets resolves YES,
	// so P(a) + P(b) <= 1 must hold.
	RelationMutualExclusion RelationType = "MUTUAL_EXCLUSION"

	// RelationEquivalence: both markets settle on the same event, so their
	// prices must agree.
	RelationEquivalence RelationType = "EQUIVALENCE"
)

// ValidRelationType reports whether s names a known relation type. Used to
// guard relationship payloads coming back from inference providers.
func ValidRelationType(s string) bool {
	switch RelationType(s) {
	case RelationImplies, RelationRequires, RelationMutualExclusion, RelationEquivalence:
		return true
	}
	return false
}

// Directional reports whether the relation distinguishes parent from child.
// IMPLIES and REQUIRES carry the same price constraint downstream.
func (t RelationType) Directional() bool {
	return t == RelationImplies || t == RelationRequires
}

// Confidence grades how certain a detector is about a relationship.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence levels for threshold filtering: low < medium < high.
// Unknown values rank below low so malformed provider output never passes a
// confidence gate.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// RelationSource identifies which detector produced a relationship.
type RelationSource string

const (
	SourcePattern   RelationSource = "pattern"
	SourceInference RelationSource = "inference"
)

// Relationship is a detected logical dependency between two markets in one
// snapshot. For directional types ParentMarketID is the implying/requiring
// market; for symmetric types detectors store the lexically smaller market
// ID as parent so duplicate detections collapse onto one Key.
type Relationship struct {
	ID             string
	Type           RelationType
	ParentMarketID string
	ChildMarketID  string
	Confidence     Confidence
	Reasoning      string
	Source         RelationSource
	DetectedAt     time.Time
}

// Key identifies a relationship for de-duplication when merging detector
// outputs: same markets, same direction, same type.
func (r Relationship) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.ParentMarketID, r.ChildMarketID, r.Type)
}
