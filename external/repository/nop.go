package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/repository"
)

// NopRepository is used when no DATABASE_URL is configured.
type NopRepository struct{}

func NewNopRepository() repository.Repository {
	return NopRepository{}
}

func (NopRepository) Close() {}

func (NopRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	return &repository.Session{
		ID:         input.ID,
		ConnID:     input.ConnID,
		SourceLang: input.SourceLang,
		TargetLang: input.TargetLang,
		StartedAt:  input.StartedAt,
		Status:     repository.SessionStatusRunning,
	}, nil
}

func (NopRepository) CompleteSession(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NopRepository) CompleteOrphanedSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (NopRepository) GetSession(context.Context, string) (*repository.Session, error) {
	return nil, repository.ErrSessionNotFound
}
