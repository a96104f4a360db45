package webhook

import (
	"context"
	"time"
)

const EventSessionEnded = "session.ended"

// SessionEndedPayload carries ledger metadata only, never transcript text.
type SessionEndedPayload struct {
	Event                   string    `json:"event"`
	SessionID               string    `json:"session_id"`
	ConnID                  string    `json:"conn_id"`
	SourceLang              string    `json:"source_lang"`
	TargetLang              string    `json:"target_lang"`
	StartedAt               time.Time `json:"started_at"`
	EndedAt                 time.Time `json:"ended_at"`
	DurationSeconds         float64   `json:"duration_seconds"`
	Status                  string    `json:"status"`
	StopReason              string    `json:"stop_reason"`
	FinalCount              int       `json:"final_count"`
	TranslationFailureCount int       `json:"translation_failure_count"`
}

type Sender interface {
	SendSessionEnded(ctx context.Context, payload SessionEndedPayload) error
}
