package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/server/handler"
)

type fakeCycleSource struct {
	cycles []domain.CycleResult
}

func (f *fakeCycleSource) GetByID(_ context.Context, id string) (domain.CycleResult, error) {
	for _, c := range f.cycles {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.CycleResult{}, domain.ErrNotFound
}

func (f *fakeCycleSource) ListRecent(_ context.Context, limit int) ([]domain.CycleResult, error) {
	if limit > len(f.cycles) {
		limit = len(f.cycles)
	}
	return f.cycles[:limit], nil
}

func testHandler(t *testing.T, apiKey string, trigger chan struct{}) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := &fakeCycleSource{cycles: []domain.CycleResult{
		{ID: "cycle-1", Mode: domain.ModePaper, StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "cycle-2", Mode: domain.ModePaper, StartedAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)},
	}}

	cycles := handler.NewCycleHandler(source, logger)
	if trigger != nil {
		cycles = cycles.WithTriggerChannel(trigger)
	}

	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler(),
		Cycles: cycles,
	}, logger)
	return srv.httpServer.Handler
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestHealthBypassesAuth(t *testing.T) {
	h := testHandler(t, "secret", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("health without token: got %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestMissingTokenRejected(t *testing.T) {
	h := testHandler(t, "secret", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles/recent", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeBody(t, rec)
	if body["error"] == nil {
		t.Error("expected a JSON error body")
	}
}

func TestWrongTokenRejected(t *testing.T) {
	h := testHandler(t, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/cycles/recent", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBearerTokenAccepted(t *testing.T) {
	h := testHandler(t, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/cycles/recent", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: got %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	body := decodeBody(t, rec)
	cycles, ok := body["cycles"].([]any)
	if !ok {
		t.Fatalf("cycles field missing or wrong type: %v", body["cycles"])
	}
	if len(cycles) != 2 {
		t.Errorf("got %d cycles, want 2", len(cycles))
	}
}

func TestAPIKeyHeaderAccepted(t *testing.T) {
	h := testHandler(t, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/cycles/cycle-1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("X-API-Key: got %d, want %d", rec.Code, http.StatusOK)
	}
	var cycle domain.CycleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &cycle); err != nil {
		t.Fatalf("decode cycle: %v", err)
	}
	if cycle.ID != "cycle-1" {
		t.Errorf("cycle ID = %q, want cycle-1", cycle.ID)
	}
}

func TestEmptyAPIKeyDisablesAuth(t *testing.T) {
	h := testHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles/recent", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("auth disabled: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetCycleNotFound(t *testing.T) {
	h := testHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown cycle: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestTriggerCycleSendsOnChannel(t *testing.T) {
	trigger := make(chan struct{}, 1)
	h := testHandler(t, "", trigger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cycles/trigger", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: got %d, want %d", rec.Code, http.StatusAccepted)
	}
	select {
	case <-trigger:
	default:
		t.Error("no trigger was sent on the channel")
	}
}

func TestTriggerCycleWithoutRunLoop(t *testing.T) {
	h := testHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cycles/trigger", nil))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("trigger without loop: got %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestPreflightSkipsAuth(t *testing.T) {
	h := testHandler(t, "secret", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/cycles/recent", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestUnregisteredRouteNotFound(t *testing.T) {
	h := testHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/relationships", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unregistered route: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}
