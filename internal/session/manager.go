package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/pipeline"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/repository"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/foxseedlab/tsuyaku/internal/webhook"
)

const ledgerTimeout = 5 * time.Second

// Manager owns one pipeline per client connection and records every run in the ledger.
type Manager struct {
	cfg         *config.Config
	repo        repository.Repository
	backend     recognition.Backend
	translator  translation.Translator
	synthesizer synthesizer.Synthesizer
	webhook     webhook.Sender

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	closed    bool

	finalizers sync.WaitGroup
}

func NewManager(cfg *config.Config, repo repository.Repository, backend recognition.Backend, tr translation.Translator, synth synthesizer.Synthesizer, wh webhook.Sender) *Manager {
	return &Manager{
		cfg:         cfg,
		repo:        repo,
		backend:     backend,
		translator:  tr,
		synthesizer: synth,
		webhook:     wh,
		pipelines:   make(map[string]*pipeline.Pipeline),
	}
}

// RecoverOrphans completes ledger rows a previous process left running.
func (m *Manager) RecoverOrphans(ctx context.Context) error {
	n, err := m.repo.CompleteOrphanedSessions(ctx, time.Now())
	if err != nil {
		slog.Error("failed to complete orphaned sessions", "error", err)
		return fmt.Errorf("complete orphaned sessions: %w", err)
	}
	if n > 0 {
		slog.Warn("orphaned running sessions marked as completed", "count", n)
	}
	return nil
}

// Attach returns the pipeline for connID, creating it with sink on first use.
func (m *Manager) Attach(connID string, sink pipeline.Sink) (*pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("session manager is shut down")
	}
	if p, ok := m.pipelines[connID]; ok {
		return p, nil
	}
	p := pipeline.New(connID, m.backend, m.translator, sink, m.pipelineOptions())
	m.pipelines[connID] = p
	slog.Info("connection attached", "conn_id", connID, "connections", len(m.pipelines))
	return p, nil
}

// Detach stops the connection's pipeline, if any, and forgets it. The stop is
// counted in finalizers so a concurrent Shutdown waits for the run's ledger
// row and webhook.
func (m *Manager) Detach(ctx context.Context, connID string) {
	m.mu.Lock()
	p, ok := m.pipelines[connID]
	delete(m.pipelines, connID)
	remaining := len(m.pipelines)
	if ok {
		m.finalizers.Add(1)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	defer m.finalizers.Done()
	if err := p.Stop(ctx); err != nil {
		slog.Error("failed to stop pipeline on detach", "error", err, "conn_id", connID)
	}
	slog.Info("connection detached", "conn_id", connID, "connections", remaining)
}

func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pipelines {
		if p.Running() {
			n++
		}
	}
	return n
}

// Shutdown stops every pipeline and waits for ledger writes and webhooks to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	connIDs := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		connIDs = append(connIDs, id)
	}
	m.mu.Unlock()

	for _, id := range connIDs {
		m.Detach(ctx, id)
	}

	done := make(chan struct{})
	go func() {
		m.finalizers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session finalizers: %w", ctx.Err())
	}
}

func (m *Manager) pipelineOptions() pipeline.Options {
	rc := recognition.DefaultConfig("", "")
	rc.InitialSilenceTimeout = time.Duration(m.cfg.InitialSilenceTimeoutMs) * time.Millisecond
	rc.EndSilenceTimeout = time.Duration(m.cfg.EndSilenceTimeoutMs) * time.Millisecond
	rc.SegmentationSilenceTimeout = time.Duration(m.cfg.SegmentationSilenceMs) * time.Millisecond

	opts := pipeline.Options{
		Recognition: rc,
		Session: recognition.SessionOptions{
			AudioQueueChunks: m.cfg.AudioQueueChunks,
			StopFlushTimeout: m.cfg.StopFlushTimeout,
		},
		TranslationTimeout: m.cfg.TranslationTimeout,
		Observer:           &ledgerObserver{manager: m},
	}
	if m.cfg.TTSEnabled {
		opts.Synthesizer = m.synthesizer
	}
	return opts
}

type ledgerObserver struct {
	manager *Manager
}

func (o *ledgerObserver) RunStarted(summary pipeline.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if _, err := o.manager.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:         summary.SessionID,
		ConnID:     summary.ConnID,
		SourceLang: summary.SourceLang,
		TargetLang: summary.TargetLang,
		StartedAt:  summary.StartedAt,
	}); err != nil {
		slog.Error("failed to create session in repository", "error", err, "session_id", summary.SessionID, "conn_id", summary.ConnID)
	}
}

func (o *ledgerObserver) RunEnded(summary pipeline.RunSummary) {
	o.manager.finalizers.Add(1)
	go func() {
		defer o.manager.finalizers.Done()
		o.manager.finalizeSession(summary)
	}()
}

func (m *Manager) finalizeSession(summary pipeline.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	status := repository.SessionStatusCompleted
	if summary.Errored {
		status = repository.SessionStatusErrored
	}
	if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:               summary.SessionID,
		EndedAt:                 summary.EndedAt,
		Status:                  status,
		StopReason:              summary.StopReason,
		FinalCount:              summary.FinalCount,
		TranslationFailureCount: summary.TranslationFailures,
	}); err != nil {
		slog.Error("failed to complete session", "error", err, "session_id", summary.SessionID)
	}

	if err := m.webhook.SendSessionEnded(ctx, webhook.SessionEndedPayload{
		Event:                   webhook.EventSessionEnded,
		SessionID:               summary.SessionID,
		ConnID:                  summary.ConnID,
		SourceLang:              summary.SourceLang,
		TargetLang:              summary.TargetLang,
		StartedAt:               summary.StartedAt,
		EndedAt:                 summary.EndedAt,
		DurationSeconds:         summary.Duration().Seconds(),
		Status:                  string(status),
		StopReason:              summary.StopReason,
		FinalCount:              summary.FinalCount,
		TranslationFailureCount: summary.TranslationFailures,
	}); err != nil {
		slog.Error("failed to send session webhook", "error", err, "session_id", summary.SessionID)
	}
}
