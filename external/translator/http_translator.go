package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/google/uuid"
)

const (
	apiVersion            = "3.0"
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	errorBodyLimit        = 512
)

type HTTPTranslatorConfig struct {
	Endpoint    string
	APIKey      string
	Region      string
	MaxAttempts int
	Timeout     time.Duration
	// InitialBackoff is the first retry delay; zero uses the default.
	InitialBackoff time.Duration
}

// HTTPTranslator calls a Translator Text v3 compatible REST endpoint.
type HTTPTranslator struct {
	endpoint       string
	apiKey         string
	region         string
	maxAttempts    int
	initialBackoff time.Duration
	client         *http.Client
}

func NewHTTPTranslator(cfg HTTPTranslatorConfig) translation.Translator {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	return &HTTPTranslator{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:         cfg.APIKey,
		region:         cfg.Region,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

type textItem struct {
	Text string `json:"text"`
}

type translateResponseItem struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

type detectResponseItem struct {
	Language string  `json:"language"`
	Score    float64 `json:"score"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (translation.Result, error) {
	if strings.TrimSpace(text) == "" {
		return translation.Result{}, &translation.Error{Reason: "text is empty"}
	}
	if strings.TrimSpace(targetLang) == "" {
		return translation.Result{}, &translation.Error{Reason: "target language is empty"}
	}

	query := url.Values{}
	query.Set("api-version", apiVersion)
	if from := translation.BaseLanguage(sourceLang); from != "" {
		query.Set("from", from)
	}
	query.Set("to", targetLang)

	var items []translateResponseItem
	if err := t.post(ctx, "/translate", query, text, &items); err != nil {
		return translation.Result{}, err
	}
	if len(items) == 0 || len(items[0].Translations) == 0 {
		return translation.Result{}, &translation.Error{Reason: "response contained no translations"}
	}
	return translation.Result{
		SourceText:     text,
		TranslatedText: items[0].Translations[0].Text,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
	}, nil
}

func (t *HTTPTranslator) Detect(ctx context.Context, text string) (translation.Detection, error) {
	if strings.TrimSpace(text) == "" {
		return translation.Detection{}, &translation.Error{Reason: "text is empty"}
	}
	query := url.Values{}
	query.Set("api-version", apiVersion)

	var items []detectResponseItem
	if err := t.post(ctx, "/detect", query, text, &items); err != nil {
		return translation.Detection{}, err
	}
	if len(items) == 0 || items[0].Language == "" {
		return translation.Detection{}, &translation.Error{Reason: "response contained no detection"}
	}
	return translation.Detection{Language: items[0].Language, Score: items[0].Score}, nil
}

// post sends [{"text": text}] and decodes the JSON response into out, retrying
// transport errors, 5xx and 429 up to maxAttempts.
func (t *HTTPTranslator) post(ctx context.Context, path string, query url.Values, text string, out any) error {
	body, err := json.Marshal([]textItem{{Text: text}})
	if err != nil {
		return &translation.Error{Reason: "encode request", Err: err}
	}
	target := t.endpoint + path + "?" + query.Encode()
	traceID := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initialBackoff
	policy.MaxInterval = defaultMaxBackoff

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := t.do(ctx, target, traceID, body, out)
		if err != nil && attempt < t.maxAttempts {
			var permanent *backoff.PermanentError
			if !errors.As(err, &permanent) {
				slog.Warn("translation attempt failed; retrying", "error", err, "attempt", attempt, "trace_id", traceID)
			}
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(t.maxAttempts)))
	if err == nil {
		return nil
	}

	var terr *translation.Error
	if errors.As(err, &terr) {
		return terr
	}
	return &translation.Error{Reason: err.Error(), Err: err}
}

func (t *HTTPTranslator) do(ctx context.Context, target, traceID string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(&translation.Error{Reason: "build request", Err: err})
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", t.apiKey)
	if t.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", t.region)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ClientTraceId", traceID)

	resp, err := t.client.Do(req)
	if err != nil {
		terr := &translation.Error{Reason: "request failed", Err: err}
		if ctx.Err() != nil {
			return backoff.Permanent(terr)
		}
		return terr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if !isHTTPSuccessStatus(resp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		reason := strings.TrimSpace(string(snippet))
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		terr := &translation.Error{Reason: reason, StatusCode: resp.StatusCode}
		if isRetryableStatus(resp.StatusCode) {
			return terr
		}
		return backoff.Permanent(terr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(&translation.Error{Reason: fmt.Sprintf("malformed response body: %v", err), StatusCode: resp.StatusCode, Err: err})
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
