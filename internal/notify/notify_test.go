package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{"execution"}, testLogger())

	if err := n.Notify(context.Background(), "cycle", "skipped", "body"); err != nil {
		t.Fatalf("Notify(cycle) error = %v", err)
	}
	if err := n.Notify(context.Background(), "execution", "delivered", "body"); err != nil {
		t.Fatalf("Notify(execution) error = %v", err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "delivered" {
		t.Errorf("delivered titles = %v, want [delivered]", sender.titles)
	}
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	for _, event := range []string{"cycle", "execution", "anything"} {
		if err := n.Notify(context.Background(), event, event, "body"); err != nil {
			t.Fatalf("Notify(%s) error = %v", event, err)
		}
	}
	if len(sender.titles) != 3 {
		t.Errorf("delivered %d notifications, want 3", len(sender.titles))
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{"execution"}, testLogger())

	if err := n.NotifyAll(context.Background(), "startup", "body"); err != nil {
		t.Fatalf("NotifyAll() error = %v", err)
	}
	if len(sender.titles) != 1 {
		t.Errorf("delivered titles = %v, want one", sender.titles)
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	failing := &recordingSender{name: "bad", err: errors.New("boom")}
	healthy := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{failing, healthy}, nil, testLogger())

	err := n.Notify(context.Background(), "execution", "title", "body")
	if err == nil {
		t.Fatal("expected combined error from failing sender")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q does not name the failing sender", err)
	}
	if len(healthy.titles) != 1 {
		t.Error("healthy sender was skipped after the failure")
	}
}

func TestNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	if err := n.Notify(context.Background(), "execution", "title", "body"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sender := NewTelegramSender("tok-123", "chat-9")
	sender.baseURL = server.URL

	if err := sender.Send(context.Background(), "Filled", "2 legs filled"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotPath != "/bottok-123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPayload["chat_id"] != "chat-9" {
		t.Errorf("chat_id = %q", gotPayload["chat_id"])
	}
	if want := "*Filled*\n2 legs filled"; gotPayload["text"] != want {
		t.Errorf("text = %q, want %q", gotPayload["text"], want)
	}
	if gotPayload["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %q", gotPayload["parse_mode"])
	}
}

func TestTelegramSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewTelegramSender("tok", "chat")
	sender.baseURL = server.URL

	err := sender.Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error %q does not carry the API response", err)
	}
}

func TestDiscordSend(t *testing.T) {
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewDiscordSender(server.URL)
	if err := sender.Send(context.Background(), "Filled", "2 legs filled"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if want := "**Filled**\n2 legs filled"; gotPayload["content"] != want {
		t.Errorf("content = %q, want %q", gotPayload["content"], want)
	}
}

func TestSenderNames(t *testing.T) {
	if got := NewTelegramSender("t", "c").Name(); got != "telegram" {
		t.Errorf("telegram Name() = %q", got)
	}
	if got := NewDiscordSender("url").Name(); got != "discord" {
		t.Errorf("discord Name() = %q", got)
	}
}
