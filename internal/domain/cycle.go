package domain

import "time"

// CycleMetrics summarises one pipeline cycle for logs, the status endpoint
// and persistence.
type CycleMetrics struct {
	MarketsScanned             int
	RelationshipsFromPattern   int
	RelationshipsFromInference int
	RelationshipsTotal         int
	InferenceFellBack          bool

	IntraFound  int
	CrossFound  int
	IntraViable int
	CrossViable int

	TransactionsSubmitted int
	TransactionsFilled    int

	CostUSD           float64
	ExpectedProfitUSD float64

	Duration time.Duration
}

// CycleResult is everything one pipeline run produced. It is the unit of
// persistence and the payload returned to callers that trigger a run.
type CycleResult struct {
	ID        string
	Mode      TradeMode
	StartedAt time.Time

	Relationships      []Relationship
	IntraOpportunities []IntraOpportunity
	CrossOpportunities []CrossOpportunity
	Transactions       []Transaction

	Metrics CycleMetrics
}
