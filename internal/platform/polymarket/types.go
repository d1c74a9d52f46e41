package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// stringList unmarshals Gamma list fields that arrive either as a JSON array
// or as a JSON string containing a JSON array ("[\"Yes\",\"No\"]").
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = nil
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	ConditionID     string     `json:"conditionId"`
	Active          flexBool   `json:"active"` // bool or "true"/"false" string
	Closed          bool       `json:"closed"`
	Outcomes        stringList `json:"outcomes"`
	OutcomePrices   stringList `json:"outcomePrices"`
	ClobTokenIDs    stringList `json:"clobTokenIds"`
	Liquidity       string     `json:"liquidity"`
	Volume          string     `json:"volume"`
	EndDate         string     `json:"endDate"`
	OrderMinSize    float64    `json:"orderMinSize"`
	EnableOrderBook bool       `json:"enableOrderBook"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Outcome
// prices and token IDs are aligned by the position of "Yes" and "No" in the
// outcomes list; markets with other outcome labels fall back to positional
// order.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:           m.ID,
		Title:        m.Question,
		MinOrderSize: m.OrderMinSize,
		Active:       bool(m.Active) && !m.Closed,
	}

	yesIdx, noIdx := 0, 1
	for i, outcome := range m.Outcomes {
		switch {
		case strings.EqualFold(outcome, "Yes"):
			yesIdx = i
		case strings.EqualFold(outcome, "No"):
			noIdx = i
		}
	}

	if yesIdx < len(m.OutcomePrices) {
		dm.YesPrice, _ = strconv.ParseFloat(m.OutcomePrices[yesIdx], 64)
	}
	if noIdx < len(m.OutcomePrices) {
		dm.NoPrice, _ = strconv.ParseFloat(m.OutcomePrices[noIdx], 64)
	}
	if yesIdx < len(m.ClobTokenIDs) {
		dm.YesTokenID = strings.TrimSpace(m.ClobTokenIDs[yesIdx])
	}
	if noIdx < len(m.ClobTokenIDs) {
		dm.NoTokenID = strings.TrimSpace(m.ClobTokenIDs[noIdx])
	}

	if v, err := strconv.ParseFloat(m.Liquidity, 64); err == nil {
		dm.LiquidityUSD = v
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.ResolutionDate = t
		}
	}

	return dm
}

// Tradable reports whether the market carries everything the pipeline needs:
// an open book with both outcome tokens quoted.
func (m *APIMarket) Tradable() bool {
	dm := m.ToDomainMarket()
	return dm.Active && m.EnableOrderBook &&
		dm.YesPrice > 0 && dm.NoPrice > 0 &&
		dm.YesTokenID != "" && dm.NoTokenID != ""
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// APIOpenOrder is an order as returned by the CLOB order-status endpoint.
type APIOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// ToGatewayOrder maps a CLOB order onto the gateway states the executor
// polls for.
func (o *APIOpenOrder) ToGatewayOrder() domain.GatewayOrder {
	g := domain.GatewayOrder{OrderID: o.ID}
	g.FilledPrice, _ = strconv.ParseFloat(o.Price, 64)

	matched, _ := strconv.ParseFloat(o.SizeMatched, 64)
	original, _ := strconv.ParseFloat(o.OriginalSize, 64)
	g.FilledShares = matched

	switch o.Status {
	case "matched", "filled":
		g.State = domain.GatewayFilled
		if g.FilledShares == 0 {
			g.FilledShares = original
		}
	case "cancelled", "canceled":
		g.State = domain.GatewayCancelled
	default: // "live", "open", "delayed"
		if matched > 0 && matched < original {
			g.State = domain.GatewayPartiallyFilled
		} else {
			g.State = domain.GatewayOpen
		}
	}
	return g
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// PriceUpdate is one outcome-token price observed on the market channel.
type PriceUpdate struct {
	TokenID string
	Price   float64
	At      time.Time
}

// wsCommand is the JSON payload sent to the market channel to subscribe.
type wsCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids,omitempty"`
}

type wsPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBookMessage struct {
	AssetID string         `json:"asset_id"`
	Asks    []wsPriceLevel `json:"asks"`
}

type wsPriceChangeMessage struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Price   string `json:"price"`
	Size    string `json:"size"`
}

type wsLastTradeMessage struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
}
