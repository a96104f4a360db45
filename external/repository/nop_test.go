package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/repository"
)

func TestNopRepository(t *testing.T) {
	repo := NewNopRepository()
	ctx := context.Background()
	started := time.Now()
	s, err := repo.CreateSession(ctx, repository.CreateSessionInput{ID: "id-1", ConnID: "conn-1", SourceLang: "en-US", TargetLang: "es", StartedAt: started})
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if s.ID != "id-1" || s.Status != repository.SessionStatusRunning {
		t.Fatalf("unexpected session: %+v", s)
	}
	if err := repo.CompleteSession(ctx, repository.CompleteSessionInput{SessionID: "id-1", EndedAt: time.Now()}); err != nil {
		t.Fatalf("CompleteSession returned error: %v", err)
	}
	if n, err := repo.CompleteOrphanedSessions(ctx, time.Now()); err != nil || n != 0 {
		t.Fatalf("expected 0 orphans, got %d (%v)", n, err)
	}
	if _, err := repo.GetSession(ctx, "id-1"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
