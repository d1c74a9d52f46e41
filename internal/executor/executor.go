package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/domain"
)

// OrderGateway is the venue interface orders are submitted through. The
// Polymarket CLOB client implements it; tests substitute a fake.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, leg domain.Leg, shares int64) (domain.GatewayOrder, error)
	OrderStatus(ctx context.Context, orderID string) (domain.GatewayOrder, error)
}

// Config bounds order monitoring, deduplication and submission rate.
type Config struct {
	PollInterval time.Duration // gateway status poll cadence
	FillTimeout  time.Duration // stop monitoring after this long
	DedupTTL     time.Duration // window in which one mispricing executes once

	// SubmitRateLimit / SubmitRateWindow bound live order submissions
	// across all replicas sharing the limiter.
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// Executor turns sized orders into transactions. Paper mode synthesises
// fills without touching the gateway; live mode submits each leg in order
// and polls until every leg settles or the fill timeout lapses. A failure
// stays inside its own transaction, so one bad order never stops the batch.
type Executor struct {
	cfg     Config
	gateway OrderGateway
	limiter domain.RateLimiter
	dedup   *Dedup
	logger  *slog.Logger
}

// New creates an Executor. gateway may be nil when only paper mode is used;
// limiter is optional and throttles live submissions when present.
func New(cfg Config, gateway OrderGateway, limiter domain.RateLimiter, logger *slog.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 10
	}
	if cfg.SubmitRateWindow <= 0 {
		cfg.SubmitRateWindow = time.Second
	}
	return &Executor{
		cfg:     cfg,
		gateway: gateway,
		limiter: limiter,
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Execute runs one cycle's batch of orders. Every order that reaches the
// venue (or the paper simulator) produces a transaction; non-viable orders
// and opportunities already executed inside the dedup window are skipped.
func (e *Executor) Execute(ctx context.Context, orders []domain.SizedOrder, mode domain.TradeMode) []domain.Transaction {
	e.dedup.Cleanup()

	txs := make([]domain.Transaction, 0, len(orders))
	for _, order := range orders {
		if !order.Viable {
			continue
		}
		if e.dedup.IsDuplicate(order.OpportunityKey) {
			e.logger.DebugContext(ctx, "skipped duplicate opportunity",
				slog.String("opportunity_key", order.OpportunityKey),
			)
			continue
		}
		txs = append(txs, e.run(ctx, order, mode))
	}
	return txs
}

func (e *Executor) run(ctx context.Context, order domain.SizedOrder, mode domain.TradeMode) domain.Transaction {
	tx := domain.Transaction{
		ID:                uuid.New().String(),
		Kind:              order.Kind,
		OpportunityID:     order.OpportunityID,
		Mode:              mode,
		CostUSD:           order.CostUSD,
		ExpectedProfitUSD: order.ExpectedProfitUSD,
		SubmittedAt:       time.Now().UTC(),
	}
	if mode == domain.ModePaper {
		return e.simulate(tx, order)
	}
	return e.submit(ctx, tx, order)
}

// simulate records the fill a live submission would have produced. No
// gateway calls are made in paper mode.
func (e *Executor) simulate(tx domain.Transaction, order domain.SizedOrder) domain.Transaction {
	for _, leg := range order.Legs {
		tx.Legs = append(tx.Legs, domain.TransactionLeg{
			MarketID:     leg.MarketID,
			TokenID:      leg.TokenID,
			Side:         leg.Side,
			Price:        leg.Price,
			Shares:       order.Shares,
			FilledShares: float64(order.Shares),
			FilledPrice:  leg.Price,
			State:        domain.OrderStateFilled,
		})
	}
	tx.Status = domain.TxSimulated
	now := time.Now().UTC()
	tx.CompletedAt = &now
	e.logger.Info("paper fill",
		slog.String("transaction_id", tx.ID),
		slog.String("opportunity_id", tx.OpportunityID),
		slog.Int64("shares", order.Shares),
		slog.Float64("cost_usd", tx.CostUSD),
		slog.Float64("expected_profit_usd", tx.ExpectedProfitUSD),
	)
	return tx
}

// submit places each leg in order. Cross orders list the complement leg
// first, so the short side is on before the long leg adds exposure. A
// submission error fails the transaction immediately; legs already at the
// venue are recorded as-is and never unwound.
func (e *Executor) submit(ctx context.Context, tx domain.Transaction, order domain.SizedOrder) domain.Transaction {
	log := e.logger.With(
		slog.String("transaction_id", tx.ID),
		slog.String("opportunity_id", tx.OpportunityID),
	)
	for _, leg := range order.Legs {
		txLeg := domain.TransactionLeg{
			MarketID: leg.MarketID,
			TokenID:  leg.TokenID,
			Side:     leg.Side,
			Price:    leg.Price,
			Shares:   order.Shares,
			State:    domain.OrderStateSubmitting,
		}
		if err := e.throttle(ctx); err != nil {
			txLeg.State = domain.OrderStateFailed
			txLeg.Error = err.Error()
			tx.Legs = append(tx.Legs, txLeg)
			return e.fail(tx, fmt.Errorf("rate limit: %w", err), log)
		}
		ack, err := e.gateway.SubmitOrder(ctx, leg, order.Shares)
		if err != nil {
			txLeg.State = domain.OrderStateFailed
			txLeg.Error = err.Error()
			tx.Legs = append(tx.Legs, txLeg)
			return e.fail(tx, fmt.Errorf("submit %s on %s: %w", leg.Side, leg.MarketID, err), log)
		}
		txLeg.OrderID = ack.OrderID
		tx.Legs = append(tx.Legs, txLeg)
		log.Info("leg submitted",
			slog.String("order_id", ack.OrderID),
			slog.String("market_id", leg.MarketID),
			slog.String("side", string(leg.Side)),
			slog.Int64("shares", order.Shares),
		)
	}
	return e.monitor(ctx, tx, log)
}

func (e *Executor) throttle(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx, "clob:orders", e.cfg.SubmitRateLimit, e.cfg.SubmitRateWindow)
}

// fail finalises a transaction after a submission error.
func (e *Executor) fail(tx domain.Transaction, err error, log *slog.Logger) domain.Transaction {
	tx.Status = domain.TxFailed
	tx.Error = err.Error()
	now := time.Now().UTC()
	tx.CompletedAt = &now
	log.Error("transaction failed", slog.String("error", tx.Error))
	return tx
}

// monitor polls leg status until every leg is terminal or the fill timeout
// lapses. Legs still open at the deadline are marked timed out and the batch
// moves on; the dedup window keeps the next cycle from re-trading them while
// the venue may still be filling.
func (e *Executor) monitor(ctx context.Context, tx domain.Transaction, log *slog.Logger) domain.Transaction {
	deadline := time.NewTimer(e.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if e.pollLegs(ctx, tx.Legs, log) {
			break
		}
		select {
		case <-ctx.Done():
			e.expireOpenLegs(tx.Legs, ctx.Err().Error())
		case <-deadline.C:
			e.expireOpenLegs(tx.Legs, fmt.Sprintf("no fill within %s", e.cfg.FillTimeout))
		case <-ticker.C:
			continue
		}
		break
	}

	tx.Status = transactionStatus(tx.Legs)
	switch tx.Status {
	case domain.TxTimedOut:
		tx.Error = "fill timeout"
	case domain.TxFailed:
		tx.Error = firstLegError(tx.Legs)
	}
	now := time.Now().UTC()
	tx.CompletedAt = &now
	log.Info("transaction settled",
		slog.String("status", string(tx.Status)),
		slog.Duration("took", now.Sub(tx.SubmittedAt)),
	)
	return tx
}

// pollLegs refreshes every non-terminal leg and reports whether all legs
// are settled. Poll errors are transient; the fill deadline bounds how long
// they are retried.
func (e *Executor) pollLegs(ctx context.Context, legs []domain.TransactionLeg, log *slog.Logger) bool {
	done := true
	for i := range legs {
		if legs[i].State.Terminal() {
			continue
		}
		ack, err := e.gateway.OrderStatus(ctx, legs[i].OrderID)
		if err != nil {
			log.Warn("order status poll failed",
				slog.String("order_id", legs[i].OrderID),
				slog.String("error", err.Error()),
			)
			done = false
			continue
		}
		switch ack.State {
		case domain.GatewayFilled:
			legs[i].State = domain.OrderStateFilled
			legs[i].FilledShares = ack.FilledShares
			legs[i].FilledPrice = ack.FilledPrice
		case domain.GatewayPartiallyFilled:
			legs[i].State = domain.OrderStatePartial
			legs[i].FilledShares = ack.FilledShares
			legs[i].FilledPrice = ack.FilledPrice
		case domain.GatewayCancelled:
			legs[i].State = domain.OrderStateFailed
			legs[i].Error = "cancelled by venue"
		default:
			done = false
		}
	}
	return done
}

func (e *Executor) expireOpenLegs(legs []domain.TransactionLeg, reason string) {
	for i := range legs {
		if !legs[i].State.Terminal() {
			legs[i].State = domain.OrderStateTimedOut
			legs[i].Error = reason
		}
	}
}

// transactionStatus aggregates leg states: any failure dominates, then any
// timeout, then partial fills.
func transactionStatus(legs []domain.TransactionLeg) domain.TxStatus {
	var timedOut, partial bool
	for _, leg := range legs {
		switch leg.State {
		case domain.OrderStateFailed:
			return domain.TxFailed
		case domain.OrderStateTimedOut:
			timedOut = true
		case domain.OrderStatePartial:
			partial = true
		}
	}
	switch {
	case timedOut:
		return domain.TxTimedOut
	case partial:
		return domain.TxPartiallyFilled
	default:
		return domain.TxFilled
	}
}

func firstLegError(legs []domain.TransactionLeg) string {
	for _, leg := range legs {
		if leg.Error != "" {
			return leg.Error
		}
	}
	return ""
}
