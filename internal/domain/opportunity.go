package domain

import "time"

// Side is the direction of a single order. Strategies here only ever buy:
// selling YES exposure is expressed as buying the complementary NO token, so
// no position inventory or short permission is needed.
type Side string

const (
	SideBuyYes Side = "BUY_YES"
	SideBuyNo  Side = "BUY_NO"
)

// ViolationType classifies which price constraint a cross-market opportunity
// violates.
type ViolationType string

const (
	// ViolationPriceInversion: a directional relationship where the parent
	// trades above the child.
	ViolationPriceInversion ViolationType = "price_inversion"

	// ViolationSumExceedsOne: mutually exclusive markets whose YES prices
	// sum above 1.
	ViolationSumExceedsOne ViolationType = "sum_exceeds_one"

	// ViolationDivergence: equivalent markets trading at different prices.
	ViolationDivergence ViolationType = "divergence"
)

// IntraOpportunity is a single-market mispricing where YES and NO together
// cost less than the guaranteed $1 payout.
type IntraOpportunity struct {
	ID           string
	MarketID     string
	Title        string
	YesTokenID   string
	NoTokenID    string
	YesPrice     float64
	NoPrice      float64
	Spread       float64 // 1 - (YesPrice + NoPrice), the risk-free margin per share pair
	LiquidityUSD float64
	MinOrderSize float64 // venue minimum, in shares
	DetectedAt   time.Time
}

// Leg is one order of a cross-market trade, stated in execution terms: Price
// is what is actually paid per share of the token being bought. A leg that
// monetises an overpriced YES therefore shows Side BUY_NO at 1 - yesPrice.
type Leg struct {
	MarketID string
	TokenID  string
	Side     Side
	Price    float64
}

// CrossOpportunity is a relationship whose price constraint is violated,
// paired with the two buy orders that lock in the discrepancy.
//
// SellLeg is the leg taking the short side of the overpriced market (bought
// as the complement token); BuyLeg takes the long side of the underpriced
// one. For sum violations both legs buy NO and SellLeg is the higher-priced
// market's leg. In every shape
//
//	CostPerShare = SellLeg.Price + BuyLeg.Price
//
// and the pair pays out at least $1 per share at resolution.
type CrossOpportunity struct {
	ID                     string
	Relationship           Relationship
	ViolationType          ViolationType
	SellLeg                Leg
	BuyLeg                 Leg
	CostPerShare           float64
	ExpectedProfitPerShare float64 // 1 - CostPerShare
	MinLiquidityUSD        float64 // smaller of the two legs' market liquidity
	MinOrderSize           float64 // larger of the two venue minimums, in shares
	DetectedAt             time.Time
}
