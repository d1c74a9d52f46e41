package domain

// GatewayOrderState is the venue-side lifecycle of a submitted order.
type GatewayOrderState string

const (
	GatewayOpen            GatewayOrderState = "open"
	GatewayPartiallyFilled GatewayOrderState = "partially_filled"
	GatewayFilled          GatewayOrderState = "filled"
	GatewayCancelled       GatewayOrderState = "cancelled"
)

// Terminal reports whether the venue will make no further fills against the
// order.
func (s GatewayOrderState) Terminal() bool {
	switch s {
	case GatewayFilled, GatewayPartiallyFilled, GatewayCancelled:
		return true
	}
	return false
}

// GatewayOrder is the venue's view of one submitted order.
type GatewayOrder struct {
	OrderID      string
	State        GatewayOrderState
	FilledShares float64
	FilledPrice  float64
}
