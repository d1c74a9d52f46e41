// Package evaluator prices opportunities against the risk budget and decides
// whether they are worth executing. Sizing is pure arithmetic over its inputs,
// which lets the engine call it repeatedly within a cycle while the shared
// exposure budget shrinks.
package evaluator

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dbontempi/arbot/internal/domain"
)

// Config holds the sizing caps and viability thresholds.
type Config struct {
	MinProfitUSD         float64 // minimum expected profit for a viable order
	MinROIPct            float64 // minimum return on cost, in percent
	MaxPositionSizeUSD   float64 // hard per-trade cap
	PortfolioRiskPct     float64 // per-trade fraction of portfolio value
	LiquidityCapFraction float64 // cross: fraction of the thinner leg's liquidity
	MaxSlippagePct       float64 // cross: reject above this estimate
	MaxSlippageCap       float64 // ceiling on the slippage estimate itself
	SlippageFactor       float64 // scales order-to-liquidity ratio into percent
	MinOrderSize         float64 // venue-wide minimum shares per order
}

// Evaluator sizes opportunities. Rejections are results, never errors.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an evaluator.
func New(cfg Config, logger *slog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger.With(slog.String("component", "evaluator"))}
}

// SizeIntra prices an intra-market opportunity. The trade buys matched YES and
// NO shares, so cost per share is the pair price and profit per share is the
// spread.
func (e *Evaluator) SizeIntra(opp domain.IntraOpportunity, portfolioValue, remainingExposure float64) domain.SizedOrder {
	order := domain.SizedOrder{
		OpportunityID:  opp.ID,
		OpportunityKey: "intra|" + opp.MarketID,
		Kind:           domain.KindIntra,
		Legs: []domain.Leg{
			{MarketID: opp.MarketID, TokenID: opp.YesTokenID, Side: domain.SideBuyYes, Price: opp.YesPrice},
			{MarketID: opp.MarketID, TokenID: opp.NoTokenID, Side: domain.SideBuyNo, Price: opp.NoPrice},
		},
		CostPerShare: opp.YesPrice + opp.NoPrice,
		BudgetUSD:    e.tradeBudget(portfolioValue, remainingExposure),
	}
	if !e.fill(&order, opp.MinOrderSize) {
		return e.done(order)
	}
	order.ExpectedProfitUSD = float64(order.Shares) * opp.Spread
	order.ExpectedROIPct = order.ExpectedProfitUSD / order.CostUSD * 100

	if order.ExpectedProfitUSD < e.cfg.MinProfitUSD {
		order.RejectReason = fmt.Sprintf("expected profit $%.2f below minimum $%.2f", order.ExpectedProfitUSD, e.cfg.MinProfitUSD)
		return e.done(order)
	}
	if order.ExpectedROIPct < e.cfg.MinROIPct {
		order.RejectReason = fmt.Sprintf("roi %.2f%% below minimum %.2f%%", order.ExpectedROIPct, e.cfg.MinROIPct)
		return e.done(order)
	}
	order.Viable = true
	return order
}

// SizeCross prices a cross-market opportunity. Beyond the shared budget the
// trade is capped at a fraction of the thinner leg's liquidity, and viability
// gates on a slippage estimate instead of ROI.
func (e *Evaluator) SizeCross(opp domain.CrossOpportunity, portfolioValue, remainingExposure float64) domain.SizedOrder {
	order := domain.SizedOrder{
		OpportunityID:  opp.ID,
		OpportunityKey: "cross|" + opp.Relationship.Key(),
		Kind:           domain.KindCross,
		// Complement leg first: it neutralises the overpriced side before
		// the long leg adds exposure.
		Legs:         []domain.Leg{opp.SellLeg, opp.BuyLeg},
		CostPerShare: opp.CostPerShare,
		BudgetUSD:    e.tradeBudget(portfolioValue, remainingExposure),
	}
	if opp.MinLiquidityUSD > 0 {
		if liqCap := e.cfg.LiquidityCapFraction * opp.MinLiquidityUSD; liqCap < order.BudgetUSD {
			order.BudgetUSD = liqCap
		}
	}
	if !e.fill(&order, opp.MinOrderSize) {
		return e.done(order)
	}
	order.ExpectedProfitUSD = float64(order.Shares) * opp.ExpectedProfitPerShare
	order.ExpectedROIPct = order.ExpectedProfitUSD / order.CostUSD * 100
	order.SlippagePct = e.slippageEstimate(order.CostUSD, opp.MinLiquidityUSD)

	if order.ExpectedProfitUSD < e.cfg.MinProfitUSD {
		order.RejectReason = fmt.Sprintf("expected profit $%.2f below minimum $%.2f", order.ExpectedProfitUSD, e.cfg.MinProfitUSD)
		return e.done(order)
	}
	if order.SlippagePct > e.cfg.MaxSlippagePct {
		order.RejectReason = fmt.Sprintf("slippage estimate %.2f%% above limit %.2f%%", order.SlippagePct, e.cfg.MaxSlippagePct)
		return e.done(order)
	}
	order.Viable = true
	return order
}

// fill converts the budget into whole shares, rejecting orders the venue
// would not accept. Shares stays 0 on rejection.
func (e *Evaluator) fill(order *domain.SizedOrder, venueMin float64) bool {
	if order.BudgetUSD <= 0 {
		order.RejectReason = "no remaining exposure budget"
		return false
	}
	if order.CostPerShare <= 0 {
		order.RejectReason = "invalid cost per share"
		return false
	}
	shares := int64(math.Floor(order.BudgetUSD / order.CostPerShare))
	if shares <= 0 {
		order.RejectReason = "budget below one share"
		return false
	}
	minShares := e.cfg.MinOrderSize
	if venueMin > minShares {
		minShares = venueMin
	}
	if float64(shares) < minShares {
		order.RejectReason = fmt.Sprintf("%d shares below minimum order size %.0f", shares, minShares)
		return false
	}
	order.Shares = shares
	order.CostUSD = float64(shares) * order.CostPerShare
	return true
}

// tradeBudget is the smallest of the risk-scaled portfolio slice, the hard
// per-position cap, and the exposure headroom left in the cycle.
func (e *Evaluator) tradeBudget(portfolioValue, remainingExposure float64) float64 {
	budget := portfolioValue * e.cfg.PortfolioRiskPct
	if e.cfg.MaxPositionSizeUSD > 0 && budget > e.cfg.MaxPositionSizeUSD {
		budget = e.cfg.MaxPositionSizeUSD
	}
	if budget > remainingExposure {
		budget = remainingExposure
	}
	return budget
}

// slippageEstimate scales the order's share of available liquidity into a
// percentage, bounded by MaxSlippageCap. Without a liquidity figure there is
// nothing to estimate.
func (e *Evaluator) slippageEstimate(orderUSD, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 0
	}
	est := orderUSD / liquidityUSD * e.cfg.SlippageFactor
	if e.cfg.MaxSlippageCap > 0 && est > e.cfg.MaxSlippageCap {
		est = e.cfg.MaxSlippageCap
	}
	return est
}

func (e *Evaluator) done(order domain.SizedOrder) domain.SizedOrder {
	if order.RejectReason != "" {
		e.logger.Debug("order rejected",
			slog.String("opportunity_id", order.OpportunityID),
			slog.String("kind", string(order.Kind)),
			slog.String("reason", order.RejectReason),
		)
	}
	return order
}
