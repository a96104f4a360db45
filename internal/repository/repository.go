package repository

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type CreateSessionInput struct {
	ID         string
	ConnID     string
	SourceLang string
	TargetLang string
	StartedAt  time.Time
}

type CompleteSessionInput struct {
	SessionID               string
	EndedAt                 time.Time
	Status                  SessionStatus
	StopReason              string
	FinalCount              int
	TranslationFailureCount int
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	// CompleteOrphanedSessions closes rows left running by a previous process.
	CompleteOrphanedSessions(ctx context.Context, endedAt time.Time) (int64, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

type Repository interface {
	SessionRepository
	Close()
}
