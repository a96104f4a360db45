package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusErrored   SessionStatus = "errored"
)

// Session is one recognition run in the ledger. Transcript text is never stored.
type Session struct {
	ID                      string
	ConnID                  string
	SourceLang              string
	TargetLang              string
	StartedAt               time.Time
	EndedAt                 *time.Time
	Status                  SessionStatus
	StopReason              string
	FinalCount              int
	TranslationFailureCount int
	CreatedAt               time.Time
}
