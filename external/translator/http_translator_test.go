package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/google/uuid"
)

func newTestTranslator(url string, attempts int) translation.Translator {
	return NewHTTPTranslator(HTTPTranslatorConfig{
		Endpoint:       url,
		APIKey:         "test-key",
		Region:         "westus",
		MaxAttempts:    attempts,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
	})
}

func TestTranslate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("api-version") != "3.0" || q.Get("from") != "en" || q.Get("to") != "es" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
			t.Errorf("missing subscription key header")
		}
		if r.Header.Get("Ocp-Apim-Subscription-Region") != "westus" {
			t.Errorf("missing region header")
		}
		if _, err := uuid.Parse(r.Header.Get("X-ClientTraceId")); err != nil {
			t.Errorf("trace id is not a uuid: %q", r.Header.Get("X-ClientTraceId"))
		}
		var body []map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if len(body) != 1 || body[0]["text"] != "Hello" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`[{"translations":[{"text":"Hola"}]}]`))
	}))
	defer server.Close()

	got, err := newTestTranslator(server.URL, 1).Translate(context.Background(), "Hello", "en-US", "es")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.TranslatedText != "Hola" {
		t.Fatalf("expected Hola, got %q", got.TranslatedText)
	}
	if got.SourceText != "Hello" || got.SourceLang != "en-US" || got.TargetLang != "es" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestTranslate_Unauthorized(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"code":401000,"message":"invalid key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestTranslator(server.URL, 3).Translate(context.Background(), "Hello", "en", "es")
	var terr *translation.Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected translation.Error, got %v", err)
	}
	if terr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", terr.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 4xx not to be retried, got %d calls", calls)
	}
}

func TestTranslate_MalformedBody(t *testing.T) {
	cases := map[string]string{
		"not json":        `<html>oops</html>`,
		"empty body":      ``,
		"no translations": `[{"translations":[]}]`,
		"empty array":     `[]`,
	}
	for name, payload := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(payload))
		}))
		_, err := newTestTranslator(server.URL, 1).Translate(context.Background(), "Hello", "en", "es")
		server.Close()
		var terr *translation.Error
		if !errors.As(err, &terr) {
			t.Fatalf("%s: expected translation.Error, got %v", name, err)
		}
	}
}

func TestTranslate_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"translations":[{"text":"Bonjour"}]}]`))
	}))
	defer server.Close()

	got, err := newTestTranslator(server.URL, 3).Translate(context.Background(), "Hello", "en", "fr")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got.TranslatedText != "Bonjour" {
		t.Fatalf("unexpected translation: %q", got.TranslatedText)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestTranslate_NoRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestTranslator(server.URL, 1).Translate(context.Background(), "Hello", "en", "es")
	var terr *translation.Error
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 translation.Error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestTranslate_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestTranslator(url, 1).Translate(context.Background(), "Hello", "en", "es")
	var terr *translation.Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected translation.Error, got %v", err)
	}
}

func TestTranslate_EmptyText(t *testing.T) {
	_, err := newTestTranslator("http://127.0.0.1:1", 1).Translate(context.Background(), "   ", "en", "es")
	var terr *translation.Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected translation.Error, got %v", err)
	}
}

func TestDetect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.URL.Query().Get("api-version") != "3.0" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`[{"language":"fr","score":0.98,"isTranslationSupported":true}]`))
	}))
	defer server.Close()

	got, err := newTestTranslator(server.URL, 1).Detect(context.Background(), "Bonjour tout le monde")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.Language != "fr" || got.Score != 0.98 {
		t.Fatalf("unexpected detection: %+v", got)
	}
}
