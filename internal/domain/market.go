package domain

import "time"

// Market is a point-in-time view of a single binary prediction market.
// YesPrice and NoPrice are the current ask prices of the YES and NO outcome
// tokens, each in [0, 1] and read as implied probabilities. A share of either
// token pays out $1 when the market resolves in its favour.
type Market struct {
	ID             string
	Title          string
	YesPrice       float64
	NoPrice        float64
	LiquidityUSD   float64 // 0 when the venue reports no liquidity figure
	ResolutionDate time.Time
	MinOrderSize   float64

	// Venue metadata needed for live execution. Zero values are fine for
	// analysis-only runs.
	YesTokenID string
	NoTokenID  string
	Active     bool
}

// HasLiquidity reports whether the venue published a liquidity figure for
// this market. Liquidity filters are skipped when it is absent.
func (m Market) HasLiquidity() bool {
	return m.LiquidityUSD > 0
}

// TokenID returns the outcome token bought for the given side.
func (m Market) TokenID(side Side) string {
	if side == SideBuyNo {
		return m.NoTokenID
	}
	return m.YesTokenID
}

// MarketSnapshot is the immutable set of markets one pipeline cycle operates
// on. All stages of a cycle read prices from this snapshot, never from the
// venue directly, so a cycle is internally consistent.
type MarketSnapshot struct {
	Markets   []Market
	FetchedAt time.Time
}

// ByID indexes the snapshot's markets by market ID.
func (s MarketSnapshot) ByID() map[string]Market {
	idx := make(map[string]Market, len(s.Markets))
	for _, m := range s.Markets {
		idx[m.ID] = m
	}
	return idx
}
