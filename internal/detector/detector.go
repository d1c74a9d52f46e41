// Package detector finds logical relationships between prediction markets.
// Two detectors are provided: a deterministic pattern detector driven by a
// fixed rule table, and an inference detector that delegates to an external
// model provider. A fallback decorator composes them so inference outages
// degrade a cycle instead of failing it.
package detector

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dbontempi/arbot/internal/domain"
)

// Detector produces relationships for one market snapshot.
type Detector interface {
	// Name identifies the detector in logs and relationship reasoning.
	Name() string
	// Detect returns every relationship the detector can establish between
	// the given markets. The slice may be empty; order is deterministic for
	// deterministic inputs.
	Detect(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error)
}

// FallbackDetector returns the primary detector's relationships and degrades
// to the fallback when the primary fails for any reason, including timeouts.
// The failure is logged, never propagated: detection degradation is not a
// cycle error.
type FallbackDetector struct {
	primary  Detector
	fallback Detector
	logger   *slog.Logger
	fellBack atomic.Bool
}

// NewFallbackDetector composes primary over fallback.
func NewFallbackDetector(primary, fallback Detector, logger *slog.Logger) *FallbackDetector {
	return &FallbackDetector{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "detector_fallback")),
	}
}

// Name returns both detector names joined for log context.
func (d *FallbackDetector) Name() string {
	return d.primary.Name() + ">" + d.fallback.Name()
}

// Detect runs the primary detector, delegating to the fallback on error.
func (d *FallbackDetector) Detect(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error) {
	rels, err := d.primary.Detect(ctx, markets)
	if err == nil {
		d.fellBack.Store(false)
		return rels, nil
	}

	d.fellBack.Store(true)
	d.logger.WarnContext(ctx, "primary detector failed, using fallback",
		slog.String("primary", d.primary.Name()),
		slog.String("fallback", d.fallback.Name()),
		slog.String("error", err.Error()),
	)
	return d.fallback.Detect(ctx, markets)
}

// TookFallback reports whether the most recent Detect call degraded to the
// fallback detector.
func (d *FallbackDetector) TookFallback() bool {
	return d.fellBack.Load()
}

// MergeRelationships unions two detection results, de-duplicating by
// (parent, child, type). Base entries keep their positions; extras with new
// keys are appended in order. On a key collision an inference-sourced entry
// replaces a pattern-sourced one in place, since inference carries reasoning
// the rule table cannot.
func MergeRelationships(base, extra []domain.Relationship) []domain.Relationship {
	merged := make([]domain.Relationship, len(base))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.Key()] = i
	}

	for _, r := range extra {
		key := r.Key()
		if i, ok := index[key]; ok {
			if r.Source == domain.SourceInference && merged[i].Source != domain.SourceInference {
				merged[i] = r
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// FilterByConfidence drops relationships graded below min. With min set to
// low everything passes, so confidence stays an annotation rather than a
// gate.
func FilterByConfidence(rels []domain.Relationship, min domain.Confidence) []domain.Relationship {
	floor := min.Rank()
	if floor <= domain.ConfidenceLow.Rank() {
		return rels
	}
	kept := make([]domain.Relationship, 0, len(rels))
	for _, r := range rels {
		if r.Confidence.Rank() >= floor {
			kept = append(kept, r)
		}
	}
	return kept
}
