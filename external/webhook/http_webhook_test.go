package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/webhook"
)

func TestSendSessionEnded_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendSessionEnded(context.Background(), webhook.SessionEndedPayload{SessionID: "s"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendSessionEnded_Success(t *testing.T) {
	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sender := NewHTTPSender(server.URL)
	err := sender.SendSessionEnded(context.Background(), webhook.SessionEndedPayload{
		SessionID:       "session-1",
		ConnID:          "conn-1",
		SourceLang:      "en-US",
		TargetLang:      "es",
		StartedAt:       started,
		EndedAt:         started.Add(90 * time.Second),
		DurationSeconds: 90,
		Status:          "completed",
		FinalCount:      4,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got["event"] != webhook.EventSessionEnded {
		t.Fatalf("expected default event name, got %v", got["event"])
	}
	if got["session_id"] != "session-1" || got["final_count"] != float64(4) {
		t.Fatalf("unexpected payload: %v", got)
	}
	if _, ok := got["transcription"]; ok {
		t.Fatal("payload must not carry transcript text")
	}
}

func TestSendSessionEnded_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	sender := newHTTPSender(server.URL, time.Millisecond)
	if err := sender.SendSessionEnded(context.Background(), webhook.SessionEndedPayload{SessionID: "s"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestSendSessionEnded_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := newHTTPSender(server.URL, time.Millisecond)
	if err := sender.SendSessionEnded(context.Background(), webhook.SessionEndedPayload{SessionID: "s"}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestSendSessionEnded_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := newHTTPSender(server.URL, time.Millisecond)
	if err := sender.SendSessionEnded(context.Background(), webhook.SessionEndedPayload{SessionID: "s"}); err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
	if int(calls.Load()) != webhookMaxAttempts {
		t.Fatalf("expected %d calls, got %d", webhookMaxAttempts, calls.Load())
	}
}
