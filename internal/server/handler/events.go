package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dbontempi/arbot/internal/domain"
)

// EventsHandler replays the durable cycle event stream so clients that
// missed live pub/sub traffic can catch up.
type EventsHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading the given stream.
func NewEventsHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, stream: stream, logger: logger}
}

type streamEvent struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// List returns stream entries after the given id. Pass the last id seen to
// page forward; omit it to read from the beginning of the retained window.
// GET /api/events?after=0&limit=50
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream failed",
			slog.String("stream", h.stream),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		ev := streamEvent{ID: m.ID, Payload: m.Payload}
		if !json.Valid(m.Payload) {
			// Non-JSON payloads still need to serialise somehow.
			quoted, _ := json.Marshal(string(m.Payload))
			ev.Payload = quoted
		}
		events = append(events, ev)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stream": h.stream,
		"events": events,
	})
}
