package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbontempi/arbot/internal/crypto"
	"github.com/dbontempi/arbot/internal/detector"
	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/engine"
	"github.com/dbontempi/arbot/internal/evaluator"
	"github.com/dbontempi/arbot/internal/executor"
	"github.com/dbontempi/arbot/internal/feed"
	"github.com/dbontempi/arbot/internal/platform/openai"
	"github.com/dbontempi/arbot/internal/platform/polymarket"
	"github.com/dbontempi/arbot/internal/scanner"
	"github.com/dbontempi/arbot/internal/server"
	"github.com/dbontempi/arbot/internal/server/handler"
)

// cycleLockKey serialises cycle runs across bot replicas sharing one Redis.
const cycleLockKey = "cycle:run"

// RunMode runs the cycle loop on the configured interval, with the price
// feed, the HTTP API, and manual triggers from POST /api/cycles/trigger.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	bundle, err := a.buildEngine(ctx, deps, true)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if bundle.feed != nil {
		g.Go(func() error {
			defer bundle.feed.Close()
			return bundle.feed.Run(ctx)
		})
	}

	if deps.Bus != nil {
		g.Go(func() error {
			return a.relayCycleEvents(ctx, deps)
		})
	}

	trigger := make(chan struct{}, 1)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, bundle.engine, trigger)
	}

	if err := deps.Notifier.NotifyAll(ctx, "Bot started",
		fmt.Sprintf("run mode, %s trading, cycle every %s",
			a.cfg.App.TradingMode, a.cfg.App.CycleInterval.Duration)); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed",
			slog.String("error", err.Error()),
		)
	}

	interval := a.cfg.App.CycleInterval.Duration
	g.Go(func() error {
		a.runCycle(ctx, deps, bundle.engine, interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.runCycle(ctx, deps, bundle.engine, interval)
			case <-trigger:
				a.logger.InfoContext(ctx, "running manually triggered cycle")
				a.runCycle(ctx, deps, bundle.engine, interval)
			}
		}
	})

	err = g.Wait()

	// The run context is gone by now; give teardown its own deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if bundle.clob != nil {
		if cancelErr := bundle.clob.CancelAll(stopCtx); cancelErr != nil {
			a.logger.Warn("cancel open orders on shutdown failed",
				slog.String("error", cancelErr.Error()),
			)
		}
	}
	if notifyErr := deps.Notifier.NotifyAll(stopCtx, "Bot stopped", "run loop exited"); notifyErr != nil {
		a.logger.Warn("shutdown notification failed",
			slog.String("error", notifyErr.Error()),
		)
	}

	return err
}

// OnceMode runs a single cycle and writes the result to stdout as JSON.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	bundle, err := a.buildEngine(ctx, deps, false)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	result, err := bundle.engine.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	if bundle.clob != nil {
		if cancelErr := bundle.clob.CancelAll(ctx); cancelErr != nil {
			a.logger.WarnContext(ctx, "cancel open orders failed",
				slog.String("error", cancelErr.Error()),
			)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("once mode: encode result: %w", err)
	}
	return nil
}

// ServeMode runs the HTTP API alone, for reading history while no bot
// replica trades from this process.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// ArchiveMode moves rows older than the retention window to object storage
// and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: no archiver wired")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
	a.logger.InfoContext(ctx, "archiving aged rows",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
	)

	txCount, err := deps.Archiver.ArchiveTransactions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: transactions: %w", err)
	}
	cycleCount, err := deps.Archiver.ArchiveCycles(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: cycles: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("transactions", txCount),
		slog.Int64("cycles", cycleCount),
	)
	return nil
}

// runCycle executes one cycle under the replica lock. When another replica
// holds the lock the tick is skipped; when the lock backend itself fails the
// cycle runs anyway rather than letting a Redis outage stop trading.
func (a *App) runCycle(ctx context.Context, deps *Dependencies, eng *engine.Engine, lockTTL time.Duration) {
	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, cycleLockKey, lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			a.logger.DebugContext(ctx, "cycle lock held by another replica, skipping tick")
			return
		case err != nil:
			a.logger.WarnContext(ctx, "cycle lock unavailable, running unlocked",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	if _, err := eng.RunOnce(ctx); err != nil {
		a.logger.ErrorContext(ctx, "cycle failed",
			slog.String("error", err.Error()),
		)
		if notifyErr := deps.Notifier.Notify(ctx, "cycle_error", "Cycle failed", err.Error()); notifyErr != nil {
			a.logger.WarnContext(ctx, "cycle error notification failed",
				slog.String("error", notifyErr.Error()),
			)
		}
	}
}

// relayCycleEvents forwards bus cycle announcements to the notifier under
// the "cycle_completed" event. The default notify filter drops these;
// operators opt in through notify.events. The bus spans replicas, so cycles
// run elsewhere surface here too.
func (a *App) relayCycleEvents(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.Bus.Subscribe(ctx, engine.CycleChannel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", engine.CycleChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var evt struct {
				CycleID   string  `json:"cycle_id"`
				Mode      string  `json:"mode"`
				Submitted int     `json:"submitted"`
				Filled    int     `json:"filled"`
				CostUSD   float64 `json:"cost_usd"`
				ProfitUSD float64 `json:"expected_profit_usd"`
			}
			if err := json.Unmarshal(payload, &evt); err != nil || evt.CycleID == "" {
				continue
			}
			title := fmt.Sprintf("Cycle %.8s (%s)", evt.CycleID, evt.Mode)
			message := fmt.Sprintf("%d/%d filled, cost $%.2f, expected profit $%.2f",
				evt.Filled, evt.Submitted, evt.CostUSD, evt.ProfitUSD)
			if err := deps.Notifier.Notify(ctx, "cycle_completed", title, message); err != nil {
				a.logger.WarnContext(ctx, "cycle notification failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// startServer adds the HTTP API server and its shutdown watcher to the
// errgroup. eng and trigger are nil in serve mode; handlers for disabled
// backends stay unregistered.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine, trigger chan struct{}) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(),
	}

	var stats handler.StatsSource
	if eng != nil {
		stats = eng
	}
	handlers.Status = handler.NewStatusHandler(a.cfg.App.Mode, a.cfg.App.TradingMode, stats)

	if deps.Cycles != nil {
		cyclesH := handler.NewCycleHandler(deps.Cycles, a.logger)
		if trigger != nil {
			cyclesH = cyclesH.WithTriggerChannel(trigger)
		}
		handlers.Cycles = cyclesH
	}
	if deps.Relationships != nil {
		handlers.Relationships = handler.NewRelationshipHandler(deps.Relationships, a.logger)
	}
	if deps.Transactions != nil {
		handlers.Transactions = handler.NewTransactionHandler(deps.Transactions, a.logger)
	}
	if deps.Bus != nil {
		handlers.Events = handler.NewEventsHandler(deps.Bus, engine.CycleStream, a.logger)
	}

	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.RateLimiter != nil && a.cfg.Server.RateLimitPerMin > 0 {
		cfg.RateLimiter = deps.RateLimiter
		cfg.RateLimit = a.cfg.Server.RateLimitPerMin
		cfg.RateLimitWindow = time.Minute
	}

	srv := server.NewServer(cfg, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// engineBundle is what buildEngine hands back: the engine plus the pieces
// whose lifecycle the mode manages itself.
type engineBundle struct {
	engine *engine.Engine
	clob   *polymarket.ClobClient // non-nil in live mode only
	feed   *feed.PriceFeed        // non-nil when withFeed and Redis are on
}

// buildEngine assembles the cycle pipeline for the configured trading mode.
// Live mode resolves the wallet key and authenticates against the CLOB
// before anything runs; paper mode builds no venue write path at all.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies, withFeed bool) (*engineBundle, error) {
	cfg := a.cfg
	mode := domain.TradeMode(strings.ToLower(cfg.App.TradingMode))

	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	var markets engine.MarketDataProvider = gamma
	if cfg.Polymarket.MaxMarkets > 0 {
		markets = &cappedMarkets{provider: gamma, max: cfg.Polymarket.MaxMarkets}
	}

	bundle := &engineBundle{}

	var gateway executor.OrderGateway
	var portfolio engine.PortfolioSource = engine.StaticPortfolio(cfg.Sizing.PortfolioValueUSD)
	if mode == domain.ModeLive {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, fmt.Errorf("create signer: %w", err)
		}
		clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil)
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("derive clob api key: %w", err)
		}
		gateway = clob
		portfolio = clob
		bundle.clob = clob
	}

	var inference detector.Detector
	if cfg.Detector.UseInference {
		provider := openai.New(openai.Config{
			BaseURL:     cfg.Inference.BaseURL,
			APIKey:      cfg.Inference.ApiKey,
			Model:       cfg.Inference.Model,
			MaxTokens:   cfg.Inference.MaxTokens,
			Temperature: cfg.Inference.Temperature,
			Logger:      a.logger,
		})
		inference = detector.NewInferenceDetector(detector.InferenceDetectorConfig{
			Provider:   provider,
			Cache:      deps.RelationshipCache,
			MaxMarkets: cfg.Detector.MaxMarketsForInference,
			Timeout:    cfg.Detector.InferenceTimeout.Duration,
			CacheTTL:   cfg.Detector.RelationshipTTL.Duration,
			Logger:     a.logger,
		})
	}

	if withFeed && deps.MarketCache != nil && cfg.Polymarket.WsHost != "" {
		bundle.feed = feed.NewPriceFeed(cfg.Polymarket.WsHost, deps.MarketCache, a.logger)
	}

	engineDeps := engine.Deps{
		Markets:   markets,
		Portfolio: portfolio,
		Pattern:   detector.NewPatternDetector(a.logger),
		Inference: inference,
		Scanner: scanner.New(scanner.Config{
			MinSpreadThreshold:   cfg.Arbitrage.MinSpreadThreshold,
			EpsInequality:        cfg.Arbitrage.EpsInequality,
			EpsEquivalence:       cfg.Arbitrage.EpsEquivalence,
			MinProfitPerShare:    cfg.Arbitrage.MinProfitPerShare,
			MinLiquidityUSD:      cfg.Arbitrage.MinLiquidityUSD,
			MaxResolutionGapDays: cfg.Arbitrage.MaxResolutionGapDays,
		}, a.logger),
		Evaluator: evaluator.New(evaluator.Config{
			MinProfitUSD:         cfg.Sizing.MinProfitUSD,
			MinROIPct:            cfg.Sizing.MinROIPct,
			MaxPositionSizeUSD:   cfg.Sizing.MaxPositionSizeUSD,
			PortfolioRiskPct:     cfg.Sizing.PortfolioRiskPct,
			LiquidityCapFraction: cfg.Sizing.LiquidityCapFraction,
			MaxSlippagePct:       cfg.Sizing.MaxSlippagePct,
			MaxSlippageCap:       cfg.Sizing.MaxSlippageCap,
			SlippageFactor:       cfg.Sizing.SlippageFactor,
			MinOrderSize:         cfg.Sizing.MinOrderSize,
		}, a.logger),
		Executor: executor.New(executor.Config{
			PollInterval:     cfg.Execution.PollInterval.Duration,
			FillTimeout:      cfg.Execution.FillTimeout.Duration,
			DedupTTL:         cfg.Execution.DedupTTL.Duration,
			SubmitRateLimit:  cfg.Execution.SubmitRateLimit,
			SubmitRateWindow: cfg.Execution.SubmitRateWin.Duration,
		}, gateway, deps.RateLimiter, a.logger),

		Relationships: deps.Relationships,
		Transactions:  deps.Transactions,
		Cycles:        deps.Cycles,
		Audit:         deps.Audit,

		MarketCache: deps.MarketCache,
		Bus:         deps.Bus,
		Notifier:    deps.Notifier,
	}
	if bundle.feed != nil {
		engineDeps.Tracker = bundle.feed
	}

	bundle.engine = engine.New(engine.Config{
		TradeMode:           mode,
		MinConfidence:       domain.Confidence(strings.ToLower(cfg.Detector.MinConfidence)),
		MaxTotalExposureUSD: cfg.Sizing.MaxTotalExposureUSD,
	}, engineDeps, a.logger)

	return bundle, nil
}

// cappedMarkets bounds how many markets a snapshot hands the pipeline. The
// venue lists thousands; the cap keeps cycle time and inference batches
// predictable.
type cappedMarkets struct {
	provider engine.MarketDataProvider
	max      int
}

func (c *cappedMarkets) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	markets, err := c.provider.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if len(markets) > c.max {
		markets = markets[:c.max]
	}
	return markets, nil
}
