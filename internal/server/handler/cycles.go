package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

// CycleSource defines the cycle queries this handler requires. The Postgres
// cycle store satisfies it.
type CycleSource interface {
	GetByID(ctx context.Context, id string) (domain.CycleResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.CycleResult, error)
}

// CycleHandler serves pipeline cycle endpoints.
type CycleHandler struct {
	cycles    CycleSource
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending runs one extra cycle
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(cycles CycleSource, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, logger: logger}
}

// WithTriggerChannel sets the channel to send on when a cycle is requested
// out of schedule. The run loop must receive from this channel.
func (h *CycleHandler) WithTriggerChannel(ch chan<- struct{}) *CycleHandler {
	h.triggerCh = ch
	return h
}

// ListRecent returns the most recent cycle results, newest first.
// GET /api/cycles/recent?limit=20
func (h *CycleHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	cycles, err := h.cycles.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cycles failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if cycles == nil {
		cycles = []domain.CycleResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// GetCycle returns one cycle result by id.
// GET /api/cycles/{id}
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing cycle id")
		return
	}

	cycle, err := h.cycles.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get cycle failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get cycle")
		return
	}

	writeJSON(w, http.StatusOK, cycle)
}

// TriggerCycle enqueues one out-of-schedule cycle. The send is non-blocking:
// if a trigger is already pending, the request still reports accepted.
// POST /api/cycles/trigger
func (h *CycleHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusNotImplemented, "no run loop attached")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: cycle trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
