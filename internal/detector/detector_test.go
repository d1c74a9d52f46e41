package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

// stubDetector returns canned relationships or a canned error.
type stubDetector struct {
	name  string
	rels  []domain.Relationship
	err   error
	calls int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(_ context.Context, _ []domain.Market) ([]domain.Relationship, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rels, nil
}

func rel(parent, child string, typ domain.RelationType, src domain.RelationSource, conf domain.Confidence) domain.Relationship {
	return domain.Relationship{
		ID:             parent + "-" + child,
		Type:           typ,
		ParentMarketID: parent,
		ChildMarketID:  child,
		Confidence:     conf,
		Source:         src,
		DetectedAt:     time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMergeRelationshipsInferenceWins(t *testing.T) {
	base := []domain.Relationship{
		rel("a", "b", domain.RelationImplies, domain.SourcePattern, domain.ConfidenceHigh),
		rel("c", "d", domain.RelationEquivalence, domain.SourcePattern, domain.ConfidenceHigh),
	}
	extra := []domain.Relationship{
		rel("a", "b", domain.RelationImplies, domain.SourceInference, domain.ConfidenceMedium),
		rel("e", "f", domain.RelationMutualExclusion, domain.SourceInference, domain.ConfidenceLow),
	}

	merged := MergeRelationships(base, extra)

	if len(merged) != 3 {
		t.Fatalf("got %d relationships, want 3: %+v", len(merged), merged)
	}
	// Collision keeps the base position but takes the inference entry.
	if merged[0].Key() != base[0].Key() {
		t.Errorf("position 0 key = %q, want %q", merged[0].Key(), base[0].Key())
	}
	if merged[0].Source != domain.SourceInference {
		t.Errorf("collision source = %s, want inference", merged[0].Source)
	}
	if merged[1].Key() != base[1].Key() {
		t.Errorf("position 1 key = %q, want %q", merged[1].Key(), base[1].Key())
	}
	if merged[2].Key() != extra[1].Key() {
		t.Errorf("position 2 key = %q, want %q", merged[2].Key(), extra[1].Key())
	}
}

func TestMergeRelationshipsIdempotentOnSameInput(t *testing.T) {
	base := []domain.Relationship{
		rel("a", "b", domain.RelationImplies, domain.SourcePattern, domain.ConfidenceHigh),
		rel("c", "d", domain.RelationEquivalence, domain.SourcePattern, domain.ConfidenceHigh),
	}

	merged := MergeRelationships(base, base)

	if len(merged) != len(base) {
		t.Fatalf("got %d relationships, want %d", len(merged), len(base))
	}
	for i := range base {
		if merged[i].Key() != base[i].Key() {
			t.Errorf("position %d: key %q, want %q", i, merged[i].Key(), base[i].Key())
		}
		if merged[i].Source != domain.SourcePattern {
			t.Errorf("position %d: source changed to %s", i, merged[i].Source)
		}
	}
}

func TestFilterByConfidence(t *testing.T) {
	rels := []domain.Relationship{
		rel("a", "b", domain.RelationImplies, domain.SourcePattern, domain.ConfidenceHigh),
		rel("c", "d", domain.RelationImplies, domain.SourceInference, domain.ConfidenceMedium),
		rel("e", "f", domain.RelationImplies, domain.SourceInference, domain.ConfidenceLow),
	}

	tests := []struct {
		min  domain.Confidence
		want int
	}{
		{domain.ConfidenceLow, 3},
		{domain.ConfidenceMedium, 2},
		{domain.ConfidenceHigh, 1},
	}
	for _, tt := range tests {
		if got := FilterByConfidence(rels, tt.min); len(got) != tt.want {
			t.Errorf("FilterByConfidence(min=%s) kept %d, want %d", tt.min, len(got), tt.want)
		}
	}
}

func TestFallbackDetectorPrimarySuccess(t *testing.T) {
	primary := &stubDetector{
		name: "inference",
		rels: []domain.Relationship{rel("a", "b", domain.RelationImplies, domain.SourceInference, domain.ConfidenceMedium)},
	}
	fallback := &stubDetector{name: "pattern"}

	det := NewFallbackDetector(primary, fallback, testLogger())
	got, err := det.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0].Key() != primary.rels[0].Key() {
		t.Errorf("got %+v, want primary result", got)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
	if det.TookFallback() {
		t.Error("TookFallback = true after primary success")
	}
}

func TestFallbackDetectorDegradesOnError(t *testing.T) {
	primary := &stubDetector{name: "inference", err: domain.ErrInferenceUnavailable}
	fallback := &stubDetector{
		name: "pattern",
		rels: []domain.Relationship{rel("a", "b", domain.RelationImplies, domain.SourcePattern, domain.ConfidenceHigh)},
	}

	det := NewFallbackDetector(primary, fallback, testLogger())
	got, err := det.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("degradation must not surface an error, got: %v", err)
	}
	if len(got) != 1 || got[0].Source != domain.SourcePattern {
		t.Errorf("got %+v, want fallback result", got)
	}
	if !det.TookFallback() {
		t.Error("TookFallback = false after primary failure")
	}
}

// A permanently failing inference detector composed over the pattern
// detector must behave exactly like the pattern detector alone.
func TestFallbackEquivalentToPatternWhenInferenceAlwaysFails(t *testing.T) {
	markets := []domain.Market{
		mkMarket("m-100", "Will Bitcoin reach $100k by December 2026?"),
		mkMarket("m-90", "Will Bitcoin reach $90k by December 2026?"),
		mkMarket("m-a", "Will Alice Moreau win the 2028 presidential election?"),
		mkMarket("m-b", "Will Bob Chen win the 2028 presidential election?"),
	}

	pattern := NewPatternDetector(testLogger())
	broken := &stubDetector{name: "inference", err: errors.New("provider down")}
	det := NewFallbackDetector(broken, pattern, testLogger())

	want, err := pattern.Detect(context.Background(), markets)
	if err != nil {
		t.Fatalf("pattern Detect: %v", err)
	}
	got, err := det.Detect(context.Background(), markets)
	if err != nil {
		t.Fatalf("fallback Detect: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d relationships, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i].Key() {
			t.Errorf("position %d: key %q, want %q", i, got[i].Key(), want[i].Key())
		}
	}
}
