package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/domain"
)

// InferenceProvider asks an external model which relationships hold between
// the given markets. Implementations must honour ctx cancellation; the
// detector imposes its timeout through the context deadline.
type InferenceProvider interface {
	InferRelationships(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error)
}

// InferenceDetector batches markets into a single provider call, bounded by
// a hard timeout, and validates the reply against the batch before anything
// downstream sees it. A TTL cache keyed by the market-ID set short-circuits
// repeated calls over an unchanged universe.
type InferenceDetector struct {
	provider   InferenceProvider
	cache      domain.RelationshipCache // optional
	maxMarkets int
	timeout    time.Duration
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// InferenceDetectorConfig configures an InferenceDetector.
type InferenceDetectorConfig struct {
	Provider   InferenceProvider
	Cache      domain.RelationshipCache
	MaxMarkets int
	Timeout    time.Duration
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// NewInferenceDetector creates an InferenceDetector. Cache may be nil.
func NewInferenceDetector(cfg InferenceDetectorConfig) *InferenceDetector {
	return &InferenceDetector{
		provider:   cfg.Provider,
		cache:      cfg.Cache,
		maxMarkets: cfg.MaxMarkets,
		timeout:    cfg.Timeout,
		cacheTTL:   cfg.CacheTTL,
		logger:     cfg.Logger.With(slog.String("component", "detector_inference")),
	}
}

// Name returns the detector identifier.
func (d *InferenceDetector) Name() string { return "inference" }

// Detect sends one batched request to the provider and returns the validated
// relationships. Markets beyond the batch limit are dropped from this
// detector's view; pattern rules still cover them.
func (d *InferenceDetector) Detect(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error) {
	batch := markets
	if d.maxMarkets > 0 && len(batch) > d.maxMarkets {
		d.logger.DebugContext(ctx, "truncating inference batch",
			slog.Int("markets", len(markets)),
			slog.Int("batch", d.maxMarkets),
		)
		batch = batch[:d.maxMarkets]
	}
	if len(batch) < 2 {
		return nil, nil
	}

	setKey := marketSetKey(batch)
	if d.cache != nil {
		cached, err := d.cache.Get(ctx, setKey)
		switch {
		case err == nil:
			d.logger.DebugContext(ctx, "relationship cache hit",
				slog.String("set_key", setKey),
				slog.Int("relationships", len(cached)),
			)
			return cached, nil
		case !errors.Is(err, domain.ErrNotFound):
			d.logger.WarnContext(ctx, "relationship cache read failed",
				slog.String("error", err.Error()),
			)
		}
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	raw, err := d.provider.InferRelationships(callCtx, batch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("detector: inference timed out after %s: %w", d.timeout, domain.ErrInferenceUnavailable)
		}
		return nil, fmt.Errorf("detector: infer relationships: %w", err)
	}

	rels := d.validate(ctx, raw, batch)

	if d.cache != nil && d.cacheTTL > 0 {
		if err := d.cache.Set(ctx, setKey, rels, d.cacheTTL); err != nil {
			d.logger.WarnContext(ctx, "relationship cache write failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return rels, nil
}

// validate drops provider output that does not type-check against the batch:
// unknown relation types or confidence levels, market IDs outside the batch,
// and self-pairs. Valid entries are stamped with source, ID and timestamp.
func (d *InferenceDetector) validate(ctx context.Context, raw []domain.Relationship, batch []domain.Market) []domain.Relationship {
	inBatch := make(map[string]bool, len(batch))
	for _, m := range batch {
		inBatch[m.ID] = true
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(raw))
	valid := make([]domain.Relationship, 0, len(raw))
	for _, r := range raw {
		reason := ""
		switch {
		case !domain.ValidRelationType(string(r.Type)):
			reason = "unknown relation type"
		case r.Confidence.Rank() == 0:
			reason = "unknown confidence"
		case !inBatch[r.ParentMarketID] || !inBatch[r.ChildMarketID]:
			reason = "market outside batch"
		case r.ParentMarketID == r.ChildMarketID:
			reason = "self pair"
		}
		if reason != "" {
			d.logger.DebugContext(ctx, "dropping inferred relationship",
				slog.String("reason", reason),
				slog.String("parent", r.ParentMarketID),
				slog.String("child", r.ChildMarketID),
				slog.String("type", string(r.Type)),
			)
			continue
		}

		if !r.Type.Directional() && r.ParentMarketID > r.ChildMarketID {
			r.ParentMarketID, r.ChildMarketID = r.ChildMarketID, r.ParentMarketID
		}
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true

		r.Source = domain.SourceInference
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.DetectedAt.IsZero() {
			r.DetectedAt = now
		}
		valid = append(valid, r)
	}
	return valid
}

// marketSetKey digests the sorted market-ID set so the cache key is stable
// under snapshot reordering.
func marketSetKey(markets []domain.Market) string {
	ids := make([]string, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}
