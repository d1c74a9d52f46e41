package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/evaluator"
	"github.com/dbontempi/arbot/internal/executor"
	"github.com/dbontempi/arbot/internal/scanner"
)

var errStorage = errors.New("storage offline")

type fakeMarkets struct {
	markets []domain.Market
	err     error
	calls   int
}

func (f *fakeMarkets) ListMarkets(context.Context) ([]domain.Market, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

type fakePortfolio struct {
	value float64
	err   error
}

func (f *fakePortfolio) PortfolioValue(context.Context) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.value, nil
}

type stubDetector struct {
	name  string
	rels  []domain.Relationship
	err   error
	calls int
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Detect(context.Context, []domain.Market) ([]domain.Relationship, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.rels, nil
}

type fakeRelStore struct {
	domain.RelationshipStore
	err     error
	batches [][]domain.Relationship
}

func (s *fakeRelStore) UpsertBatch(_ context.Context, rels []domain.Relationship) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, rels)
	return nil
}

type fakeTxStore struct {
	domain.TransactionStore
	err     error
	created []domain.Transaction
}

func (s *fakeTxStore) Create(_ context.Context, tx domain.Transaction) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, tx)
	return nil
}

type fakeCycleStore struct {
	domain.CycleStore
	err     error
	created []domain.CycleResult
}

func (s *fakeCycleStore) Create(_ context.Context, res domain.CycleResult) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, res)
	return nil
}

type fakeAuditStore struct {
	domain.AuditStore
	err    error
	events []string
}

func (s *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type busMsg struct {
	target  string
	payload []byte
}

type fakeBus struct {
	domain.SignalBus
	err       error
	published []busMsg
	appended  []busMsg
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, busMsg{target: channel, payload: payload})
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.appended = append(b.appended, busMsg{target: stream, payload: payload})
	return nil
}

type fakeNotifier struct {
	err    error
	events []string
	titles []string
	bodies []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, message)
	return nil
}

type fakeMarketCache struct {
	domain.MarketCache
	err     error
	batches [][]domain.Market
}

func (c *fakeMarketCache) SetBatch(_ context.Context, markets []domain.Market) error {
	if c.err != nil {
		return c.err
	}
	c.batches = append(c.batches, markets)
	return nil
}

func mkMarket(id string, yes, no float64) domain.Market {
	return domain.Market{
		ID:         id,
		Title:      "market " + id,
		YesPrice:   yes,
		NoPrice:    no,
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
		Active:     true,
	}
}

func mkRel(typ domain.RelationType, parent, child string, conf domain.Confidence, src domain.RelationSource) domain.Relationship {
	return domain.Relationship{
		ID:             uuid.New().String(),
		Type:           typ,
		ParentMarketID: parent,
		ChildMarketID:  child,
		Confidence:     conf,
		Source:         src,
		DetectedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func mkSnap(markets ...domain.Market) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Markets:   markets,
		FetchedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func defaultConfig() Config {
	return Config{
		TradeMode:           domain.ModePaper,
		MinConfidence:       domain.ConfidenceLow,
		MaxTotalExposureUSD: 1000,
	}
}

// newTestEngine fills in real pipeline components for any left nil so tests
// exercise the actual scan-size-execute path in paper mode.
func newTestEngine(cfg Config, deps Deps) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Scanner == nil {
		deps.Scanner = scanner.New(scanner.Config{
			MinSpreadThreshold: 0.02,
			EpsInequality:      0.01,
			EpsEquivalence:     0.05,
		}, logger)
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.New(evaluator.Config{
			MinProfitUSD:         1.0,
			MinROIPct:            1.0,
			MaxPositionSizeUSD:   500,
			PortfolioRiskPct:     0.03,
			LiquidityCapFraction: 0.05,
			MaxSlippagePct:       2.0,
			MaxSlippageCap:       10.0,
			SlippageFactor:       10.0,
			MinOrderSize:         5,
		}, logger)
	}
	if deps.Executor == nil {
		deps.Executor = executor.New(executor.Config{}, nil, nil, logger)
	}
	return New(cfg, deps, logger)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// Three markets where one is internally mispriced and a violated IMPLIES pair
// spans the other two.
func pipelineFixture() ([]domain.Market, []domain.Relationship) {
	markets := []domain.Market{
		mkMarket("m-thin", 0.45, 0.52),
		mkMarket("m-parent", 0.80, 0.20),
		mkMarket("m-child", 0.60, 0.40),
	}
	rels := []domain.Relationship{
		mkRel(domain.RelationImplies, "m-parent", "m-child", domain.ConfidenceHigh, domain.SourcePattern),
	}
	return markets, rels
}

func TestRunOnceProducesCycle(t *testing.T) {
	markets, rels := pipelineFixture()
	provider := &fakeMarkets{markets: markets}
	cache := &fakeMarketCache{}

	eng := newTestEngine(defaultConfig(), Deps{
		Markets:     provider,
		Portfolio:   StaticPortfolio(10000),
		Pattern:     &stubDetector{name: "pattern", rels: rels},
		MarketCache: cache,
	})

	cycle, err := eng.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if cycle.ID == "" {
		t.Error("cycle ID not assigned")
	}
	if cycle.Mode != domain.ModePaper {
		t.Errorf("mode = %q, want paper", cycle.Mode)
	}
	if len(cycle.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(cycle.Relationships))
	}
	if len(cycle.IntraOpportunities) != 1 || len(cycle.CrossOpportunities) != 1 {
		t.Fatalf("opportunities = %d intra, %d cross, want 1 each",
			len(cycle.IntraOpportunities), len(cycle.CrossOpportunities))
	}
	if len(cycle.Transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(cycle.Transactions))
	}

	for _, tx := range cycle.Transactions {
		if tx.Status != domain.TxSimulated {
			t.Errorf("tx %s status = %q, want simulated", tx.ID, tx.Status)
		}
		if tx.CycleID != cycle.ID {
			t.Errorf("tx %s cycle = %q, want %q", tx.ID, tx.CycleID, cycle.ID)
		}
	}
	if cycle.Transactions[0].Kind != domain.KindIntra || cycle.Transactions[1].Kind != domain.KindCross {
		t.Errorf("transaction kinds = %q, %q, want intra then cross",
			cycle.Transactions[0].Kind, cycle.Transactions[1].Kind)
	}

	m := cycle.Metrics
	if m.MarketsScanned != 3 {
		t.Errorf("markets scanned = %d, want 3", m.MarketsScanned)
	}
	if m.RelationshipsFromPattern != 1 || m.RelationshipsTotal != 1 {
		t.Errorf("relationship metrics = %d pattern, %d total, want 1 and 1",
			m.RelationshipsFromPattern, m.RelationshipsTotal)
	}
	if m.InferenceFellBack {
		t.Error("fell back without inference wired")
	}
	if m.IntraViable != 1 || m.CrossViable != 1 {
		t.Errorf("viable = %d intra, %d cross, want 1 each", m.IntraViable, m.CrossViable)
	}
	if m.TransactionsSubmitted != 2 || m.TransactionsFilled != 2 {
		t.Errorf("transactions = %d submitted, %d filled, want 2 each",
			m.TransactionsSubmitted, m.TransactionsFilled)
	}
	// 309 shares at 0.97 plus 375 shares at 0.80.
	if !closeTo(m.CostUSD, 299.73+300.0) {
		t.Errorf("cost = %.6f, want 599.73", m.CostUSD)
	}
	if !closeTo(m.ExpectedProfitUSD, 9.27+75.0) {
		t.Errorf("expected profit = %.6f, want 84.27", m.ExpectedProfitUSD)
	}

	if provider.calls != 1 {
		t.Errorf("market fetches = %d, want 1", provider.calls)
	}
	if len(cache.batches) != 1 || len(cache.batches[0]) != 3 {
		t.Errorf("market cache batches = %v, want one batch of 3", len(cache.batches))
	}

	stats := eng.Stats()
	if stats.CyclesRun != 1 || stats.TransactionsSubmitted != 2 || stats.TransactionsFilled != 2 {
		t.Errorf("stats = %+v, want 1 cycle, 2 submitted, 2 filled", stats)
	}
	if stats.LastCycleID != cycle.ID {
		t.Errorf("stats last cycle = %q, want %q", stats.LastCycleID, cycle.ID)
	}
}

func TestRunOnceMarketFetchFailure(t *testing.T) {
	provider := &fakeMarkets{err: fmt.Errorf("gamma: list markets: %w", domain.ErrDataFetch)}
	eng := newTestEngine(defaultConfig(), Deps{
		Markets:   provider,
		Portfolio: StaticPortfolio(10000),
		Pattern:   &stubDetector{name: "pattern"},
	})

	_, err := eng.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when market fetch fails")
	}
	if !errors.Is(err, domain.ErrDataFetch) {
		t.Errorf("error = %v, want ErrDataFetch in chain", err)
	}
	if got := eng.Stats(); got.CyclesRun != 0 {
		t.Errorf("cycles run = %d after failed fetch, want 0", got.CyclesRun)
	}
}

func TestRunOncePortfolioFailure(t *testing.T) {
	markets, rels := pipelineFixture()
	eng := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{markets: markets},
		Portfolio: &fakePortfolio{err: errors.New("balance endpoint down")},
		Pattern:   &stubDetector{name: "pattern", rels: rels},
	})

	_, err := eng.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when portfolio read fails")
	}
	if !strings.Contains(err.Error(), "portfolio value") {
		t.Errorf("error = %v, want portfolio value context", err)
	}
}

func TestRunCycleMergesInferenceOverPattern(t *testing.T) {
	patternRel := mkRel(domain.RelationImplies, "m-parent", "m-child", domain.ConfidenceHigh, domain.SourcePattern)
	overrideRel := mkRel(domain.RelationImplies, "m-parent", "m-child", domain.ConfidenceHigh, domain.SourceInference)
	overrideRel.Reasoning = "parent outcome entails child outcome"
	extraRel := mkRel(domain.RelationEquivalence, "m-eq1", "m-eq2", domain.ConfidenceMedium, domain.SourceInference)

	pattern := &stubDetector{name: "pattern", rels: []domain.Relationship{patternRel}}
	inference := &stubDetector{name: "inference", rels: []domain.Relationship{overrideRel, extraRel}}

	eng := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{},
		Portfolio: StaticPortfolio(10000),
		Pattern:   pattern,
		Inference: inference,
	})

	snap := mkSnap(
		mkMarket("m-parent", 0.80, 0.20),
		mkMarket("m-child", 0.60, 0.40),
		mkMarket("m-eq1", 0.50, 0.50),
		mkMarket("m-eq2", 0.50, 0.50),
	)
	cycle := eng.RunCycle(context.Background(), snap, 10000, domain.ModePaper)

	if len(cycle.Relationships) != 2 {
		t.Fatalf("relationships = %d, want 2", len(cycle.Relationships))
	}
	if cycle.Relationships[0].ID != overrideRel.ID {
		t.Error("inference did not replace the colliding pattern relationship")
	}
	if cycle.Relationships[0].Source != domain.SourceInference {
		t.Errorf("merged source = %q, want inference", cycle.Relationships[0].Source)
	}
	if cycle.Relationships[1].ID != extraRel.ID {
		t.Error("new inference relationship not appended")
	}

	m := cycle.Metrics
	if m.RelationshipsFromPattern != 1 || m.RelationshipsFromInference != 2 {
		t.Errorf("sources = %d pattern, %d inference, want 1 and 2",
			m.RelationshipsFromPattern, m.RelationshipsFromInference)
	}
	if m.InferenceFellBack {
		t.Error("fell back although inference succeeded")
	}
	// The equivalence pair trades flat, so only the implication violation
	// produces an opportunity.
	if m.CrossFound != 1 {
		t.Errorf("cross found = %d, want 1", m.CrossFound)
	}
	if pattern.calls != 1 || inference.calls != 1 {
		t.Errorf("detector calls = %d pattern, %d inference, want 1 each",
			pattern.calls, inference.calls)
	}
}

func TestRunCycleInferenceFallback(t *testing.T) {
	markets, rels := pipelineFixture()
	pattern := &stubDetector{name: "pattern", rels: rels}
	inference := &stubDetector{name: "inference", err: domain.ErrInferenceUnavailable}

	withInference := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{},
		Portfolio: StaticPortfolio(10000),
		Pattern:   pattern,
		Inference: inference,
	})
	patternOnly := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{},
		Portfolio: StaticPortfolio(10000),
		Pattern:   &stubDetector{name: "pattern", rels: rels},
	})

	snap := mkSnap(markets...)
	degraded := withInference.RunCycle(context.Background(), snap, 10000, domain.ModePaper)
	baseline := patternOnly.RunCycle(context.Background(), snap, 10000, domain.ModePaper)

	if !degraded.Metrics.InferenceFellBack {
		t.Error("fallback not reported in metrics")
	}
	if baseline.Metrics.InferenceFellBack {
		t.Error("pattern-only cycle reported a fallback")
	}
	// Direct pattern pass plus the fallback delegation.
	if pattern.calls != 2 {
		t.Errorf("pattern detector calls = %d, want 2", pattern.calls)
	}

	if len(degraded.Relationships) != len(baseline.Relationships) {
		t.Fatalf("degraded found %d relationships, baseline %d",
			len(degraded.Relationships), len(baseline.Relationships))
	}
	for i := range degraded.Relationships {
		if degraded.Relationships[i].Key() != baseline.Relationships[i].Key() {
			t.Errorf("relationship %d: degraded key %q != baseline key %q",
				i, degraded.Relationships[i].Key(), baseline.Relationships[i].Key())
		}
	}
	if degraded.Metrics.CrossFound != baseline.Metrics.CrossFound ||
		degraded.Metrics.IntraFound != baseline.Metrics.IntraFound {
		t.Error("degraded cycle found different opportunities than pattern-only")
	}
	if degraded.Metrics.RelationshipsFromInference != 0 {
		t.Errorf("inference relationships = %d after fallback, want 0",
			degraded.Metrics.RelationshipsFromInference)
	}
}

func TestRunCycleConfidenceFilter(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinConfidence = domain.ConfidenceHigh

	rels := []domain.Relationship{
		mkRel(domain.RelationImplies, "m-parent", "m-child", domain.ConfidenceHigh, domain.SourcePattern),
		mkRel(domain.RelationEquivalence, "m-eq1", "m-eq2", domain.ConfidenceMedium, domain.SourcePattern),
	}
	eng := newTestEngine(cfg, Deps{
		Markets:   &fakeMarkets{},
		Portfolio: StaticPortfolio(10000),
		Pattern:   &stubDetector{name: "pattern", rels: rels},
	})

	// The medium-confidence equivalence pair diverges enough to trade, so
	// only the filter keeps it out.
	snap := mkSnap(
		mkMarket("m-parent", 0.80, 0.20),
		mkMarket("m-child", 0.60, 0.40),
		mkMarket("m-eq1", 0.40, 0.60),
		mkMarket("m-eq2", 0.48, 0.52),
	)
	cycle := eng.RunCycle(context.Background(), snap, 10000, domain.ModePaper)

	if len(cycle.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1 after filtering", len(cycle.Relationships))
	}
	if cycle.Relationships[0].Confidence != domain.ConfidenceHigh {
		t.Errorf("kept confidence = %q, want high", cycle.Relationships[0].Confidence)
	}
	if cycle.Metrics.RelationshipsFromPattern != 2 {
		t.Errorf("pattern relationships = %d, want 2 before filtering",
			cycle.Metrics.RelationshipsFromPattern)
	}
	if cycle.Metrics.RelationshipsTotal != 1 {
		t.Errorf("total relationships = %d, want 1", cycle.Metrics.RelationshipsTotal)
	}
	if cycle.Metrics.CrossFound != 1 {
		t.Fatalf("cross found = %d, want 1", cycle.Metrics.CrossFound)
	}
	if got := cycle.CrossOpportunities[0].Relationship.Type; got != domain.RelationImplies {
		t.Errorf("surviving violation type = %q, want IMPLIES", got)
	}
}

func TestRunCycleSharedExposureBudget(t *testing.T) {
	markets, rels := pipelineFixture()

	tests := []struct {
		name        string
		exposure    float64
		wantTxs     int
		wantCrossOK int
	}{
		// The intra trade consumes 299.73 of a 300 budget; the cross trade
		// cannot buy a single 0.80 share from the 0.27 that remains.
		{name: "budget exhausted by first trade", exposure: 300, wantTxs: 1, wantCrossOK: 0},
		{name: "budget covers both trades", exposure: 1000, wantTxs: 2, wantCrossOK: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.MaxTotalExposureUSD = tt.exposure
			eng := newTestEngine(cfg, Deps{
				Markets:   &fakeMarkets{},
				Portfolio: StaticPortfolio(10000),
				Pattern:   &stubDetector{name: "pattern", rels: rels},
			})

			cycle := eng.RunCycle(context.Background(), mkSnap(markets...), 10000, domain.ModePaper)

			if cycle.Metrics.IntraViable != 1 {
				t.Errorf("intra viable = %d, want 1", cycle.Metrics.IntraViable)
			}
			if cycle.Metrics.CrossViable != tt.wantCrossOK {
				t.Errorf("cross viable = %d, want %d", cycle.Metrics.CrossViable, tt.wantCrossOK)
			}
			if len(cycle.Transactions) != tt.wantTxs {
				t.Errorf("transactions = %d, want %d", len(cycle.Transactions), tt.wantTxs)
			}
		})
	}
}

func TestRunCyclePatternFailureDegrades(t *testing.T) {
	eng := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{},
		Portfolio: StaticPortfolio(10000),
		Pattern:   &stubDetector{name: "pattern", err: errors.New("rule table corrupt")},
	})

	cycle := eng.RunCycle(context.Background(), mkSnap(mkMarket("m-thin", 0.45, 0.52)), 10000, domain.ModePaper)

	if len(cycle.Relationships) != 0 {
		t.Errorf("relationships = %d after detector failure, want 0", len(cycle.Relationships))
	}
	// Intra scanning needs no relationships, so the cycle still trades.
	if cycle.Metrics.IntraFound != 1 || len(cycle.Transactions) != 1 {
		t.Errorf("intra = %d, transactions = %d, want 1 and 1",
			cycle.Metrics.IntraFound, len(cycle.Transactions))
	}
}

func TestRunCycleRecordsAndAnnounces(t *testing.T) {
	markets, rels := pipelineFixture()
	relStore := &fakeRelStore{}
	txStore := &fakeTxStore{}
	cycleStore := &fakeCycleStore{}
	audit := &fakeAuditStore{}
	bus := &fakeBus{}
	notifier := &fakeNotifier{}

	eng := newTestEngine(defaultConfig(), Deps{
		Markets:       &fakeMarkets{},
		Portfolio:     StaticPortfolio(10000),
		Pattern:       &stubDetector{name: "pattern", rels: rels},
		Relationships: relStore,
		Transactions:  txStore,
		Cycles:        cycleStore,
		Audit:         audit,
		Bus:           bus,
		Notifier:      notifier,
	})

	cycle := eng.RunCycle(context.Background(), mkSnap(markets...), 10000, domain.ModePaper)

	if len(relStore.batches) != 1 || len(relStore.batches[0]) != 1 {
		t.Errorf("relationship batches = %d, want one batch of 1", len(relStore.batches))
	}
	if len(txStore.created) != 2 {
		t.Errorf("transactions persisted = %d, want 2", len(txStore.created))
	}
	if len(cycleStore.created) != 1 || cycleStore.created[0].ID != cycle.ID {
		t.Errorf("cycle persistence = %d records, want 1 with ID %q", len(cycleStore.created), cycle.ID)
	}
	if len(audit.events) != 1 || audit.events[0] != "cycle_completed" {
		t.Errorf("audit events = %v, want [cycle_completed]", audit.events)
	}

	if len(bus.published) != 1 || len(bus.appended) != 1 {
		t.Fatalf("bus traffic = %d published, %d appended, want 1 each",
			len(bus.published), len(bus.appended))
	}
	if bus.published[0].target != "cycles" {
		t.Errorf("publish channel = %q, want cycles", bus.published[0].target)
	}
	var evt map[string]any
	if err := json.Unmarshal(bus.published[0].payload, &evt); err != nil {
		t.Fatalf("cycle event payload: %v", err)
	}
	if evt["cycle_id"] != cycle.ID {
		t.Errorf("event cycle_id = %v, want %q", evt["cycle_id"], cycle.ID)
	}
	if evt["event"] != "cycle_completed" {
		t.Errorf("event name = %v, want cycle_completed", evt["event"])
	}

	if len(notifier.events) != 1 || notifier.events[0] != "execution" {
		t.Fatalf("notifications = %v, want [execution]", notifier.events)
	}
	if !strings.Contains(notifier.titles[0], "2 transactions") {
		t.Errorf("notification title = %q, want transaction count", notifier.titles[0])
	}
	if !strings.Contains(notifier.bodies[0], "intra simulated") {
		t.Errorf("notification body = %q, want per-transaction lines", notifier.bodies[0])
	}
}

func TestRunCycleStoreFailuresDegrade(t *testing.T) {
	markets, rels := pipelineFixture()
	eng := newTestEngine(defaultConfig(), Deps{
		Markets:       &fakeMarkets{},
		Portfolio:     StaticPortfolio(10000),
		Pattern:       &stubDetector{name: "pattern", rels: rels},
		Relationships: &fakeRelStore{err: errStorage},
		Transactions:  &fakeTxStore{err: errStorage},
		Cycles:        &fakeCycleStore{err: errStorage},
		Audit:         &fakeAuditStore{err: errStorage},
		Bus:           &fakeBus{err: errStorage},
		Notifier:      &fakeNotifier{err: errStorage},
	})

	cycle := eng.RunCycle(context.Background(), mkSnap(markets...), 10000, domain.ModePaper)

	if len(cycle.Transactions) != 2 {
		t.Errorf("transactions = %d with stores offline, want 2", len(cycle.Transactions))
	}
	if got := eng.Stats(); got.CyclesRun != 1 || got.TransactionsFilled != 2 {
		t.Errorf("stats = %+v, want 1 cycle with 2 fills despite store failures", got)
	}
}

func TestRunOnceDedupAcrossCycles(t *testing.T) {
	markets, rels := pipelineFixture()
	eng := newTestEngine(defaultConfig(), Deps{
		Markets:   &fakeMarkets{markets: markets},
		Portfolio: StaticPortfolio(10000),
		Pattern:   &stubDetector{name: "pattern", rels: rels},
	})

	first, err := eng.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	second, err := eng.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if len(first.Transactions) != 2 {
		t.Fatalf("first cycle transactions = %d, want 2", len(first.Transactions))
	}
	// Same mispricings within the dedup window: nothing re-executes.
	if len(second.Transactions) != 0 {
		t.Errorf("second cycle transactions = %d, want 0", len(second.Transactions))
	}
	if second.Metrics.IntraViable != 1 || second.Metrics.CrossViable != 1 {
		t.Errorf("second cycle viable = %d intra, %d cross, want sizing unaffected",
			second.Metrics.IntraViable, second.Metrics.CrossViable)
	}

	stats := eng.Stats()
	if stats.CyclesRun != 2 || stats.TransactionsSubmitted != 2 {
		t.Errorf("stats = %+v, want 2 cycles and 2 total submissions", stats)
	}
	if stats.LastCycleID != second.ID {
		t.Errorf("last cycle = %q, want %q", stats.LastCycleID, second.ID)
	}
}
