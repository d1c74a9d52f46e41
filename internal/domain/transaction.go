package domain

import "time"

// TradeMode selects how sized orders are realised.
type TradeMode string

const (
	// ModePaper synthesises fills locally; no venue calls are made.
	ModePaper TradeMode = "paper"
	// ModeLive submits real orders through the venue gateway.
	ModeLive TradeMode = "live"
)

// OrderState is the lifecycle of a single leg from sizing to terminal state.
type OrderState string

const (
	OrderStateSized      OrderState = "sized"
	OrderStateSubmitting OrderState = "submitting"
	OrderStateFilled     OrderState = "filled"
	OrderStatePartial    OrderState = "partially_filled"
	OrderStateFailed     OrderState = "failed"
	OrderStateTimedOut   OrderState = "timed_out"
)

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStatePartial, OrderStateFailed, OrderStateTimedOut:
		return true
	}
	return false
}

// TxStatus is the aggregate outcome of a transaction across its legs.
type TxStatus string

const (
	TxFilled          TxStatus = "filled"
	TxPartiallyFilled TxStatus = "partially_filled"
	TxFailed          TxStatus = "failed"
	TxSimulated       TxStatus = "simulated" // paper-mode fill
	TxTimedOut        TxStatus = "timed_out"
)

// TransactionLeg records one order submitted (or simulated) for a transaction.
type TransactionLeg struct {
	OrderID      string // venue order ID; empty for paper fills and failures
	MarketID     string
	TokenID      string
	Side         Side
	Price        float64 // limit price from the snapshot
	Shares       int64
	FilledShares float64
	FilledPrice  float64
	State        OrderState
	Error        string
}

// Transaction is the executed (or simulated) realisation of one sized
// opportunity. Paper and live transactions carry identical fields so
// downstream consumers never branch on mode.
type Transaction struct {
	ID            string
	CycleID       string
	Kind          OpportunityKind
	OpportunityID string
	Mode          TradeMode
	Status        TxStatus
	Legs          []TransactionLeg

	CostUSD           float64
	ExpectedProfitUSD float64

	SubmittedAt time.Time
	CompletedAt *time.Time
	Error       string
}
