// Package engine orchestrates one arbitrage cycle: detect relationships,
// scan for violations, size the survivors against the shared risk budget and
// hand the viable orders to the executor. The engine owns no scheduling; the
// caller decides when cycles run.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/detector"
	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/evaluator"
	"github.com/dbontempi/arbot/internal/executor"
	"github.com/dbontempi/arbot/internal/scanner"
)

// CycleChannel is the pub/sub channel cycle announcements go out on;
// CycleStream is the capped stream that keeps them queryable.
const (
	CycleChannel = "cycles"
	CycleStream  = "cycles"
)

// MarketDataProvider supplies the tradable market universe for a cycle.
type MarketDataProvider interface {
	ListMarkets(ctx context.Context) ([]domain.Market, error)
}

// PortfolioSource reports the portfolio value that seeds per-trade budgets.
type PortfolioSource interface {
	PortfolioValue(ctx context.Context) (float64, error)
}

// StaticPortfolio is a PortfolioSource with a fixed value, used in paper mode
// where no venue balance exists.
type StaticPortfolio float64

func (v StaticPortfolio) PortfolioValue(context.Context) (float64, error) {
	return float64(v), nil
}

// Notifier pushes human-facing alerts for events that matter outside logs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Tracker observes each fetched snapshot. The price feed implements it to
// keep its subscription set aligned with the tradable universe.
type Tracker interface {
	Track(ctx context.Context, markets []domain.Market)
}

// Config holds the engine's own tunables. Component-level tunables live on
// the components themselves.
type Config struct {
	// TradeMode is the mode RunOnce executes in.
	TradeMode domain.TradeMode
	// MinConfidence drops relationships graded below it after merging.
	// ConfidenceLow keeps everything.
	MinConfidence domain.Confidence
	// MaxTotalExposureUSD seeds the shared exposure budget each cycle.
	MaxTotalExposureUSD float64
}

// Deps wires the engine's collaborators. Markets, Portfolio, Pattern,
// Scanner, Evaluator and Executor are required; every other dependency is
// optional and skipped when nil.
type Deps struct {
	Markets   MarketDataProvider
	Portfolio PortfolioSource

	Pattern detector.Detector
	// Inference enables the inference detection mode. When set, the engine
	// composes it over Pattern so inference failures degrade to pattern
	// results instead of failing the cycle.
	Inference detector.Detector

	Scanner   *scanner.Scanner
	Evaluator *evaluator.Evaluator
	Executor  *executor.Executor

	Relationships domain.RelationshipStore
	Transactions  domain.TransactionStore
	Cycles        domain.CycleStore
	Audit         domain.AuditStore

	MarketCache domain.MarketCache
	Bus         domain.SignalBus
	Notifier    Notifier
	Tracker     Tracker
}

// Stats accumulates across every cycle an engine has run. Served by the
// status endpoint.
type Stats struct {
	CyclesRun             int64
	TransactionsSubmitted int64
	TransactionsFilled    int64
	CostUSD               float64
	ExpectedProfitUSD     float64
	LastCycleID           string
	LastCycleAt           time.Time
	LastCycleDuration     time.Duration
}

// Engine runs the detection-to-execution pipeline over market snapshots.
type Engine struct {
	cfg      Config
	deps     Deps
	fallback *detector.FallbackDetector
	logger   *slog.Logger

	mu     sync.RWMutex
	totals Stats
}

// New creates an Engine. When deps.Inference is set it is composed over
// deps.Pattern behind a fallback, otherwise pattern detection runs alone.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
	}
	if deps.Inference != nil {
		e.fallback = detector.NewFallbackDetector(deps.Inference, deps.Pattern, logger)
	}
	return e
}

// RunOnce fetches a fresh snapshot and portfolio value, then runs one cycle
// in the configured trade mode. A market fetch failure is fatal for the
// cycle; everything downstream degrades instead.
func (e *Engine) RunOnce(ctx context.Context) (domain.CycleResult, error) {
	markets, err := e.deps.Markets.ListMarkets(ctx)
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("engine: list markets: %w", err)
	}
	snap := domain.MarketSnapshot{
		Markets:   markets,
		FetchedAt: time.Now().UTC(),
	}

	if e.deps.MarketCache != nil {
		if cacheErr := e.deps.MarketCache.SetBatch(ctx, markets); cacheErr != nil {
			e.logger.WarnContext(ctx, "market cache refresh failed",
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	if e.deps.Tracker != nil {
		e.deps.Tracker.Track(ctx, markets)
	}

	portfolioValue, err := e.deps.Portfolio.PortfolioValue(ctx)
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("engine: portfolio value: %w", err)
	}

	return e.RunCycle(ctx, snap, portfolioValue, e.cfg.TradeMode), nil
}

// RunCycle runs one full cycle over the given snapshot. It never returns an
// error: detection and persistence failures degrade the cycle and are
// reported through logs and metrics.
func (e *Engine) RunCycle(ctx context.Context, snap domain.MarketSnapshot, portfolioValue float64, mode domain.TradeMode) domain.CycleResult {
	started := time.Now().UTC()
	cycle := domain.CycleResult{
		ID:        uuid.New().String(),
		Mode:      mode,
		StartedAt: started,
	}
	log := e.logger.With(slog.String("cycle_id", cycle.ID))

	log.InfoContext(ctx, "cycle started",
		slog.Int("markets", len(snap.Markets)),
		slog.String("mode", string(mode)),
		slog.Float64("portfolio_value", portfolioValue),
	)

	rels, fromPattern, fromInference, fellBack := e.detect(ctx, snap.Markets, log)
	cycle.Relationships = rels

	intra, cross := e.deps.Scanner.Scan(ctx, snap, rels)
	cycle.IntraOpportunities = intra
	cycle.CrossOpportunities = cross

	orders, intraViable, crossViable := e.size(intra, cross, portfolioValue)

	txs := e.deps.Executor.Execute(ctx, orders, mode)
	for i := range txs {
		txs[i].CycleID = cycle.ID
	}
	cycle.Transactions = txs

	var filled int
	var costUSD, profitUSD float64
	for _, tx := range txs {
		if tx.Status == domain.TxFilled || tx.Status == domain.TxSimulated {
			filled++
			costUSD += tx.CostUSD
			profitUSD += tx.ExpectedProfitUSD
		}
	}

	cycle.Metrics = domain.CycleMetrics{
		MarketsScanned:             len(snap.Markets),
		RelationshipsFromPattern:   fromPattern,
		RelationshipsFromInference: fromInference,
		RelationshipsTotal:         len(rels),
		InferenceFellBack:          fellBack,
		IntraFound:                 len(intra),
		CrossFound:                 len(cross),
		IntraViable:                intraViable,
		CrossViable:                crossViable,
		TransactionsSubmitted:      len(txs),
		TransactionsFilled:         filled,
		CostUSD:                    costUSD,
		ExpectedProfitUSD:          profitUSD,
		Duration:                   time.Since(started),
	}

	e.record(ctx, cycle, log)
	e.announce(ctx, cycle, log)
	e.updateTotals(cycle)

	log.InfoContext(ctx, "cycle finished",
		slog.Int("relationships", len(rels)),
		slog.Int("intra_found", len(intra)),
		slog.Int("cross_found", len(cross)),
		slog.Int("viable", intraViable+crossViable),
		slog.Int("filled", filled),
		slog.Float64("cost_usd", costUSD),
		slog.Float64("expected_profit_usd", profitUSD),
		slog.Duration("duration", cycle.Metrics.Duration),
	)

	return cycle
}

// Stats returns a snapshot of the engine's cumulative totals.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totals
}

// detect runs pattern detection, layers inference over it when wired, and
// applies the confidence floor. Detection failures degrade, never abort.
func (e *Engine) detect(ctx context.Context, markets []domain.Market, log *slog.Logger) (rels []domain.Relationship, fromPattern, fromInference int, fellBack bool) {
	patternRels, err := e.deps.Pattern.Detect(ctx, markets)
	if err != nil {
		log.WarnContext(ctx, "pattern detection failed",
			slog.String("error", err.Error()),
		)
		patternRels = nil
	}

	rels = patternRels
	if e.fallback != nil {
		detected, detErr := e.fallback.Detect(ctx, markets)
		if detErr != nil {
			log.WarnContext(ctx, "relationship detection failed, keeping pattern results",
				slog.String("error", detErr.Error()),
			)
		} else {
			rels = detector.MergeRelationships(patternRels, detected)
		}
		fellBack = e.fallback.TookFallback()
	}

	fromPattern = len(patternRels)
	for _, r := range rels {
		if r.Source == domain.SourceInference {
			fromInference++
		}
	}

	return detector.FilterByConfidence(rels, e.cfg.MinConfidence), fromPattern, fromInference, fellBack
}

// size prices every opportunity sequentially against one shared exposure
// budget. Intra pairs pay out a dollar per share at resolution whichever way
// the market settles, so they get first claim on the budget.
func (e *Engine) size(intra []domain.IntraOpportunity, cross []domain.CrossOpportunity, portfolioValue float64) (orders []domain.SizedOrder, intraViable, crossViable int) {
	remaining := e.cfg.MaxTotalExposureUSD
	orders = make([]domain.SizedOrder, 0, len(intra)+len(cross))

	for _, opp := range intra {
		order := e.deps.Evaluator.SizeIntra(opp, portfolioValue, remaining)
		if order.Viable {
			intraViable++
			remaining -= order.CostUSD
		}
		orders = append(orders, order)
	}
	for _, opp := range cross {
		order := e.deps.Evaluator.SizeCross(opp, portfolioValue, remaining)
		if order.Viable {
			crossViable++
			remaining -= order.CostUSD
		}
		orders = append(orders, order)
	}
	return orders, intraViable, crossViable
}

// record persists the cycle's output. Store failures degrade to warnings so a
// storage outage never stops trading.
func (e *Engine) record(ctx context.Context, cycle domain.CycleResult, log *slog.Logger) {
	if e.deps.Relationships != nil && len(cycle.Relationships) > 0 {
		if err := e.deps.Relationships.UpsertBatch(ctx, cycle.Relationships); err != nil {
			log.WarnContext(ctx, "relationship persistence failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if e.deps.Transactions != nil {
		for _, tx := range cycle.Transactions {
			if err := e.deps.Transactions.Create(ctx, tx); err != nil {
				log.WarnContext(ctx, "transaction persistence failed",
					slog.String("tx_id", tx.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if e.deps.Cycles != nil {
		if err := e.deps.Cycles.Create(ctx, cycle); err != nil {
			log.WarnContext(ctx, "cycle persistence failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if e.deps.Audit != nil {
		if err := e.deps.Audit.Log(ctx, "cycle_completed", map[string]any{
			"cycle_id":   cycle.ID,
			"mode":       string(cycle.Mode),
			"markets":    cycle.Metrics.MarketsScanned,
			"intra":      cycle.Metrics.IntraFound,
			"cross":      cycle.Metrics.CrossFound,
			"submitted":  cycle.Metrics.TransactionsSubmitted,
			"filled":     cycle.Metrics.TransactionsFilled,
			"cost_usd":   cycle.Metrics.CostUSD,
			"profit_usd": cycle.Metrics.ExpectedProfitUSD,
		}); err != nil {
			log.WarnContext(ctx, "audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// announce publishes the cycle event on the signal bus and notifies when
// transactions were executed. Both are best effort.
func (e *Engine) announce(ctx context.Context, cycle domain.CycleResult, log *slog.Logger) {
	if e.deps.Bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":               "cycle_completed",
			"cycle_id":            cycle.ID,
			"mode":                string(cycle.Mode),
			"intra_found":         cycle.Metrics.IntraFound,
			"cross_found":         cycle.Metrics.CrossFound,
			"submitted":           cycle.Metrics.TransactionsSubmitted,
			"filled":              cycle.Metrics.TransactionsFilled,
			"cost_usd":            cycle.Metrics.CostUSD,
			"expected_profit_usd": cycle.Metrics.ExpectedProfitUSD,
			"fell_back":           cycle.Metrics.InferenceFellBack,
		})
		if err := e.deps.Bus.Publish(ctx, CycleChannel, evt); err != nil {
			log.WarnContext(ctx, "cycle event publish failed",
				slog.String("error", err.Error()),
			)
		}
		if err := e.deps.Bus.StreamAppend(ctx, CycleStream, evt); err != nil {
			log.WarnContext(ctx, "cycle stream append failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if e.deps.Notifier != nil && len(cycle.Transactions) > 0 {
		title := fmt.Sprintf("%d transactions in %s mode", len(cycle.Transactions), cycle.Mode)
		var body strings.Builder
		for _, tx := range cycle.Transactions {
			fmt.Fprintf(&body, "%s %s: cost $%.2f, expected profit $%.2f\n",
				tx.Kind, tx.Status, tx.CostUSD, tx.ExpectedProfitUSD)
		}
		if err := e.deps.Notifier.Notify(ctx, "execution", title, body.String()); err != nil {
			log.WarnContext(ctx, "execution notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) updateTotals(cycle domain.CycleResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totals.CyclesRun++
	e.totals.TransactionsSubmitted += int64(cycle.Metrics.TransactionsSubmitted)
	e.totals.TransactionsFilled += int64(cycle.Metrics.TransactionsFilled)
	e.totals.CostUSD += cycle.Metrics.CostUSD
	e.totals.ExpectedProfitUSD += cycle.Metrics.ExpectedProfitUSD
	e.totals.LastCycleID = cycle.ID
	e.totals.LastCycleAt = cycle.StartedAt
	e.totals.LastCycleDuration = cycle.Metrics.Duration
}
