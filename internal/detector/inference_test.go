package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

// scriptedProvider records the batches it receives and replies with canned
// relationships.
type scriptedProvider struct {
	batches [][]domain.Market
	reply   []domain.Relationship
	err     error
	block   bool // wait for ctx cancellation instead of answering
}

func (p *scriptedProvider) InferRelationships(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error) {
	p.batches = append(p.batches, markets)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.reply, nil
}

type fakeRelCache struct {
	data map[string][]domain.Relationship
	gets int
	sets int
}

func newFakeRelCache() *fakeRelCache {
	return &fakeRelCache{data: make(map[string][]domain.Relationship)}
}

func (c *fakeRelCache) Get(_ context.Context, key string) ([]domain.Relationship, error) {
	c.gets++
	if rels, ok := c.data[key]; ok {
		return rels, nil
	}
	return nil, domain.ErrNotFound
}

func (c *fakeRelCache) Set(_ context.Context, key string, rels []domain.Relationship, _ time.Duration) error {
	c.sets++
	c.data[key] = rels
	return nil
}

func (c *fakeRelCache) Invalidate(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func inferenceMarkets() []domain.Market {
	return []domain.Market{
		mkMarket("m-1", "Will the coalition win the 2027 general election?"),
		mkMarket("m-2", "Will the coalition form the next government?"),
		mkMarket("m-3", "Will parliament be dissolved early?"),
	}
}

func TestInferenceValidatesProviderReply(t *testing.T) {
	provider := &scriptedProvider{
		reply: []domain.Relationship{
			{Type: domain.RelationImplies, ParentMarketID: "m-1", ChildMarketID: "m-2", Confidence: domain.ConfidenceMedium, Reasoning: "winning forms the government"},
			{Type: "CAUSES", ParentMarketID: "m-1", ChildMarketID: "m-2", Confidence: domain.ConfidenceHigh},
			{Type: domain.RelationImplies, ParentMarketID: "m-1", ChildMarketID: "m-99", Confidence: domain.ConfidenceHigh},
			{Type: domain.RelationImplies, ParentMarketID: "m-2", ChildMarketID: "m-2", Confidence: domain.ConfidenceHigh},
			{Type: domain.RelationEquivalence, ParentMarketID: "m-1", ChildMarketID: "m-3", Confidence: "certain"},
		},
	}

	det := NewInferenceDetector(InferenceDetectorConfig{
		Provider:   provider,
		MaxMarkets: 50,
		Timeout:    time.Second,
		Logger:     testLogger(),
	})

	rels, err := det.Detect(context.Background(), inferenceMarkets())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d relationships, want 1 (only the schema-valid entry): %+v", len(rels), rels)
	}
	r := rels[0]
	if r.ParentMarketID != "m-1" || r.ChildMarketID != "m-2" || r.Type != domain.RelationImplies {
		t.Errorf("unexpected relationship kept: %+v", r)
	}
	if r.Source != domain.SourceInference {
		t.Errorf("Source = %s, want inference", r.Source)
	}
	if r.ID == "" {
		t.Error("ID not stamped")
	}
	if r.DetectedAt.IsZero() {
		t.Error("DetectedAt not stamped")
	}
}

func TestInferenceTruncatesBatch(t *testing.T) {
	provider := &scriptedProvider{}
	det := NewInferenceDetector(InferenceDetectorConfig{
		Provider:   provider,
		MaxMarkets: 2,
		Timeout:    time.Second,
		Logger:     testLogger(),
	})

	if _, err := det.Detect(context.Background(), inferenceMarkets()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(provider.batches) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.batches))
	}
	batch := provider.batches[0]
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != "m-1" || batch[1].ID != "m-2" {
		t.Errorf("batch kept %s,%s; want the snapshot head", batch[0].ID, batch[1].ID)
	}
}

func TestInferenceTimeoutMapsToUnavailable(t *testing.T) {
	provider := &scriptedProvider{block: true}
	det := NewInferenceDetector(InferenceDetectorConfig{
		Provider:   provider,
		MaxMarkets: 50,
		Timeout:    20 * time.Millisecond,
		Logger:     testLogger(),
	})

	_, err := det.Detect(context.Background(), inferenceMarkets())
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !errors.Is(err, domain.ErrInferenceUnavailable) {
		t.Errorf("error %v is not ErrInferenceUnavailable", err)
	}
}

func TestInferenceUsesCache(t *testing.T) {
	provider := &scriptedProvider{
		reply: []domain.Relationship{
			{Type: domain.RelationImplies, ParentMarketID: "m-1", ChildMarketID: "m-2", Confidence: domain.ConfidenceHigh},
		},
	}
	cache := newFakeRelCache()
	det := NewInferenceDetector(InferenceDetectorConfig{
		Provider:   provider,
		Cache:      cache,
		MaxMarkets: 50,
		Timeout:    time.Second,
		CacheTTL:   time.Minute,
		Logger:     testLogger(),
	})

	markets := inferenceMarkets()
	first, err := det.Detect(context.Background(), markets)
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}

	second, err := det.Detect(context.Background(), markets)
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}
	if len(provider.batches) != 1 {
		t.Errorf("provider called %d times, want 1 (second call served from cache)", len(provider.batches))
	}
	if len(second) != len(first) {
		t.Errorf("cached result has %d relationships, want %d", len(second), len(first))
	}
}

func TestInferenceCacheKeyIgnoresOrder(t *testing.T) {
	markets := inferenceMarkets()
	reversed := []domain.Market{markets[2], markets[1], markets[0]}

	if marketSetKey(markets) != marketSetKey(reversed) {
		t.Error("set key should be independent of snapshot order")
	}
	if marketSetKey(markets) == marketSetKey(markets[:2]) {
		t.Error("different market sets must not share a key")
	}
}

func TestInferenceSkipsTinyBatch(t *testing.T) {
	provider := &scriptedProvider{}
	det := NewInferenceDetector(InferenceDetectorConfig{
		Provider:   provider,
		MaxMarkets: 50,
		Timeout:    time.Second,
		Logger:     testLogger(),
	})

	rels, err := det.Detect(context.Background(), []domain.Market{mkMarket("m-1", "Only market")})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if rels != nil {
		t.Errorf("got %+v, want nil", rels)
	}
	if len(provider.batches) != 0 {
		t.Errorf("provider called %d times, want 0", len(provider.batches))
	}
}
