package handler

import (
	"net/http"
	"time"

	"github.com/dbontempi/arbot/internal/engine"
)

// StatsSource exposes the engine's cumulative totals.
type StatsSource interface {
	Stats() engine.Stats
}

// StatusHandler serves the operating mode and cumulative pipeline totals.
type StatusHandler struct {
	appMode   string
	tradeMode string
	stats     StatsSource // nil in serve mode, where no engine runs
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(appMode, tradeMode string, stats StatsSource) *StatusHandler {
	return &StatusHandler{appMode: appMode, tradeMode: tradeMode, stats: stats}
}

// GetStatus responds with the current modes and, when an engine is attached,
// its running totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"app_mode":   h.appMode,
		"trade_mode": h.tradeMode,
	}

	if h.stats != nil {
		s := h.stats.Stats()
		totals := map[string]any{
			"cycles_run":             s.CyclesRun,
			"transactions_submitted": s.TransactionsSubmitted,
			"transactions_filled":    s.TransactionsFilled,
			"cost_usd":               s.CostUSD,
			"expected_profit_usd":    s.ExpectedProfitUSD,
		}
		if s.LastCycleID != "" {
			totals["last_cycle_id"] = s.LastCycleID
			totals["last_cycle_at"] = s.LastCycleAt.UTC().Format(time.RFC3339)
			totals["last_cycle_duration_ms"] = s.LastCycleDuration.Milliseconds()
		}
		resp["totals"] = totals
	}

	writeJSON(w, http.StatusOK, resp)
}
