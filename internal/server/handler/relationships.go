package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dbontempi/arbot/internal/domain"
)

// RelationshipSource defines the relationship queries this handler requires.
// The Postgres relationship store satisfies it.
type RelationshipSource interface {
	GetByID(ctx context.Context, id string) (domain.Relationship, error)
	ListByMarket(ctx context.Context, marketID string) ([]domain.Relationship, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Relationship, error)
	Count(ctx context.Context) (int64, error)
}

// RelationshipHandler serves detected market relationships.
type RelationshipHandler struct {
	rels   RelationshipSource
	logger *slog.Logger
}

// NewRelationshipHandler creates a RelationshipHandler.
func NewRelationshipHandler(rels RelationshipSource, logger *slog.Logger) *RelationshipHandler {
	return &RelationshipHandler{rels: rels, logger: logger}
}

// List returns relationships with pagination and optional detection-time
// filtering, plus the total row count for pagination UIs.
// GET /api/relationships?limit=50&offset=0&since=2026-01-01
func (h *RelationshipHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	rels, err := h.rels.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list relationships failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}
	if rels == nil {
		rels = []domain.Relationship{}
	}

	total, err := h.rels.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count relationships failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count relationships")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"relationships": rels,
		"total":         total,
	})
}

// Get returns one relationship by id.
// GET /api/relationships/{id}
func (h *RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing relationship id")
		return
	}

	rel, err := h.rels.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "relationship not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get relationship failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get relationship")
		return
	}

	writeJSON(w, http.StatusOK, rel)
}

// ListByMarket returns every relationship a market participates in, as
// parent or child.
// GET /api/markets/{id}/relationships
func (h *RelationshipHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	rels, err := h.rels.ListByMarket(r.Context(), marketID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list market relationships failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}
	if rels == nil {
		rels = []domain.Relationship{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":     marketID,
		"relationships": rels,
	})
}
