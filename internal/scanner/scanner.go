// Package scanner turns a market snapshot plus a relationship set into
// concrete mispricings. Scanning does no I/O and reads no clock (timestamps
// come from the snapshot), so identical input yields identically ordered
// output.
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dbontempi/arbot/internal/domain"
)

// Config holds the violation thresholds and post-filters.
type Config struct {
	MinSpreadThreshold   float64 // intra: flag when yes+no < 1 - threshold
	EpsInequality        float64 // implies/requires and mutual-exclusion tolerance
	EpsEquivalence       float64 // equivalence divergence tolerance
	MinProfitPerShare    float64 // cross filter on expected profit per share
	MinLiquidityUSD      float64 // cross filter, per leg, skipped when unknown
	MaxResolutionGapDays int     // cross filter on resolution-date distance, 0 disables
}

// Scanner detects intra-market and cross-market violations.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a scanner.
func New(cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{cfg: cfg, logger: logger.With(slog.String("component", "scanner"))}
}

// Scan checks every market for an internal yes/no mispricing and every
// relationship for a constraint violation. Both result lists are sorted by
// profit per share, best first, with market IDs breaking ties.
func (s *Scanner) Scan(ctx context.Context, snap domain.MarketSnapshot, rels []domain.Relationship) ([]domain.IntraOpportunity, []domain.CrossOpportunity) {
	intra := s.scanIntra(snap)
	cross := s.scanCross(snap, rels)
	s.logger.DebugContext(ctx, "scan complete",
		slog.Int("markets", len(snap.Markets)),
		slog.Int("relationships", len(rels)),
		slog.Int("intra", len(intra)),
		slog.Int("cross", len(cross)),
	)
	return intra, cross
}

func (s *Scanner) scanIntra(snap domain.MarketSnapshot) []domain.IntraOpportunity {
	var opps []domain.IntraOpportunity
	for _, m := range snap.Markets {
		if m.YesPrice <= 0 || m.NoPrice <= 0 {
			continue
		}
		sum := m.YesPrice + m.NoPrice
		if sum >= 1-s.cfg.MinSpreadThreshold {
			continue
		}
		opps = append(opps, domain.IntraOpportunity{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Title:        m.Title,
			YesTokenID:   m.YesTokenID,
			NoTokenID:    m.NoTokenID,
			YesPrice:     m.YesPrice,
			NoPrice:      m.NoPrice,
			Spread:       1 - sum,
			LiquidityUSD: m.LiquidityUSD,
			MinOrderSize: m.MinOrderSize,
			DetectedAt:   snap.FetchedAt,
		})
	}
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Spread != opps[j].Spread {
			return opps[i].Spread > opps[j].Spread
		}
		return opps[i].MarketID < opps[j].MarketID
	})
	return opps
}

func (s *Scanner) scanCross(snap domain.MarketSnapshot, rels []domain.Relationship) []domain.CrossOpportunity {
	byID := snap.ByID()
	var opps []domain.CrossOpportunity
	for _, rel := range rels {
		parent, ok := byID[rel.ParentMarketID]
		if !ok {
			continue
		}
		child, ok := byID[rel.ChildMarketID]
		if !ok {
			continue
		}
		opp, ok := s.violationFor(rel, parent, child, snap.FetchedAt)
		if !ok {
			continue
		}
		if !s.passesFilters(opp, parent, child) {
			continue
		}
		opps = append(opps, opp)
	}
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.ExpectedProfitPerShare != b.ExpectedProfitPerShare {
			return a.ExpectedProfitPerShare > b.ExpectedProfitPerShare
		}
		if a.SellLeg.MarketID != b.SellLeg.MarketID {
			return a.SellLeg.MarketID < b.SellLeg.MarketID
		}
		if a.BuyLeg.MarketID != b.BuyLeg.MarketID {
			return a.BuyLeg.MarketID < b.BuyLeg.MarketID
		}
		return a.Relationship.Type < b.Relationship.Type
	})
	return opps
}

// violationFor maps one relationship onto a buy-only trade. Every shape sells
// an overpriced YES by buying its NO complement, so the sell leg's price is
// always 1 - P(market) and CostPerShare = SellLeg.Price + BuyLeg.Price.
func (s *Scanner) violationFor(rel domain.Relationship, parent, child domain.Market, at time.Time) (domain.CrossOpportunity, bool) {
	pp, cp := parent.YesPrice, child.YesPrice
	if pp <= 0 || pp >= 1 || cp <= 0 || cp >= 1 {
		return domain.CrossOpportunity{}, false
	}

	var (
		violation       domain.ViolationType
		sellLeg, buyLeg domain.Leg
	)
	switch rel.Type {
	case domain.RelationImplies, domain.RelationRequires:
		if pp <= cp+s.cfg.EpsInequality {
			return domain.CrossOpportunity{}, false
		}
		violation = domain.ViolationPriceInversion
		sellLeg = domain.Leg{MarketID: parent.ID, TokenID: parent.TokenID(domain.SideBuyNo), Side: domain.SideBuyNo, Price: 1 - pp}
		buyLeg = domain.Leg{MarketID: child.ID, TokenID: child.TokenID(domain.SideBuyYes), Side: domain.SideBuyYes, Price: cp}
	case domain.RelationMutualExclusion:
		// Exactly 1+eps is still consistent; only a strict excess trades.
		if pp+cp <= 1+s.cfg.EpsInequality {
			return domain.CrossOpportunity{}, false
		}
		violation = domain.ViolationSumExceedsOne
		sellLeg = domain.Leg{MarketID: parent.ID, TokenID: parent.TokenID(domain.SideBuyNo), Side: domain.SideBuyNo, Price: 1 - pp}
		buyLeg = domain.Leg{MarketID: child.ID, TokenID: child.TokenID(domain.SideBuyNo), Side: domain.SideBuyNo, Price: 1 - cp}
		if cp > pp {
			sellLeg, buyLeg = buyLeg, sellLeg
		}
	case domain.RelationEquivalence:
		diff := pp - cp
		if diff < 0 {
			diff = -diff
		}
		if diff <= s.cfg.EpsEquivalence {
			return domain.CrossOpportunity{}, false
		}
		violation = domain.ViolationDivergence
		cheap, dear := parent, child
		if pp > cp {
			cheap, dear = child, parent
		}
		buyLeg = domain.Leg{MarketID: cheap.ID, TokenID: cheap.TokenID(domain.SideBuyYes), Side: domain.SideBuyYes, Price: cheap.YesPrice}
		sellLeg = domain.Leg{MarketID: dear.ID, TokenID: dear.TokenID(domain.SideBuyNo), Side: domain.SideBuyNo, Price: 1 - dear.YesPrice}
	default:
		return domain.CrossOpportunity{}, false
	}

	cost := sellLeg.Price + buyLeg.Price
	opp := domain.CrossOpportunity{
		ID:                     uuid.New().String(),
		Relationship:           rel,
		ViolationType:          violation,
		SellLeg:                sellLeg,
		BuyLeg:                 buyLeg,
		CostPerShare:           cost,
		ExpectedProfitPerShare: 1 - cost,
		MinLiquidityUSD:        minLegLiquidity(parent, child),
		MinOrderSize:           maxMinOrderSize(parent, child),
		DetectedAt:             at,
	}
	return opp, true
}

func (s *Scanner) passesFilters(opp domain.CrossOpportunity, parent, child domain.Market) bool {
	if opp.ExpectedProfitPerShare < s.cfg.MinProfitPerShare {
		return false
	}
	if minLiq := s.cfg.MinLiquidityUSD; minLiq > 0 {
		if parent.HasLiquidity() && parent.LiquidityUSD < minLiq {
			return false
		}
		if child.HasLiquidity() && child.LiquidityUSD < minLiq {
			return false
		}
	}
	if days := s.cfg.MaxResolutionGapDays; days > 0 &&
		!parent.ResolutionDate.IsZero() && !child.ResolutionDate.IsZero() {
		gap := parent.ResolutionDate.Sub(child.ResolutionDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > time.Duration(days)*24*time.Hour {
			return false
		}
	}
	return true
}

// minLegLiquidity is the thinner leg's liquidity, or 0 when either side has
// no figure so downstream sizing skips liquidity caps.
func minLegLiquidity(a, b domain.Market) float64 {
	if !a.HasLiquidity() || !b.HasLiquidity() {
		return 0
	}
	if a.LiquidityUSD < b.LiquidityUSD {
		return a.LiquidityUSD
	}
	return b.LiquidityUSD
}

func maxMinOrderSize(a, b domain.Market) float64 {
	if a.MinOrderSize > b.MinOrderSize {
		return a.MinOrderSize
	}
	return b.MinOrderSize
}
