package domain

// OpportunityKind distinguishes the two trade shapes the sizer handles.
type OpportunityKind string

const (
	KindIntra OpportunityKind = "intra"
	KindCross OpportunityKind = "cross"
)

// SizedOrder is the outcome of pricing one opportunity against the risk
// budget. A non-viable order carries the reason it was rejected; viable
// orders carry everything the executor needs to submit both legs.
type SizedOrder struct {
	OpportunityID string
	// OpportunityKey identifies the underlying mispricing independently of
	// the cycle that found it, so repeat detections deduplicate.
	OpportunityKey string
	Kind           OpportunityKind
	Legs           []Leg // in submission order
	Shares         int64 // whole shares; 0 when not viable
	CostPerShare   float64
	CostUSD        float64
	BudgetUSD      float64 // the cap that bounded this trade

	ExpectedProfitUSD float64
	ExpectedROIPct    float64 // profit / cost * 100
	SlippagePct       float64 // estimated, cross trades only

	Viable       bool
	RejectReason string
}
