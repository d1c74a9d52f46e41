package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dbontempi/arbot/internal/domain"
)

// TransactionSource defines the transaction queries this handler requires.
// The Postgres transaction store satisfies it.
type TransactionSource interface {
	GetByID(ctx context.Context, id string) (domain.Transaction, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error)
	ListByCycle(ctx context.Context, cycleID string) ([]domain.Transaction, error)
}

// TransactionHandler serves executed and simulated transactions.
type TransactionHandler struct {
	txs    TransactionSource
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(txs TransactionSource, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{txs: txs, logger: logger}
}

// List returns transactions with pagination and optional submission-time
// filtering.
// GET /api/transactions?limit=50&since=2026-01-01T00:00:00Z
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	txs, err := h.txs.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list transactions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Get returns one transaction by id.
// GET /api/transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction id")
		return
	}

	tx, err := h.txs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get transaction failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListByCycle returns every transaction one cycle produced, in submission
// order.
// GET /api/cycles/{id}/transactions
func (h *TransactionHandler) ListByCycle(w http.ResponseWriter, r *http.Request) {
	cycleID := r.PathValue("id")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "missing cycle id")
		return
	}

	txs, err := h.txs.ListByCycle(r.Context(), cycleID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cycle transactions failed",
			slog.String("cycle_id", cycleID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":     cycleID,
		"transactions": txs,
	})
}
