package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultAudioQueueChunks = 256
	defaultStopFlushTimeout = 5 * time.Second
	defaultEventBuffer      = 64
)

type SessionOptions struct {
	// AudioQueueChunks bounds the input buffer; chunks beyond it are dropped.
	AudioQueueChunks int
	// StopFlushTimeout is how long Stop waits for the backend to deliver
	// pending results before the stream is released forcibly.
	StopFlushTimeout time.Duration
	EventBuffer      int
}

type Session struct {
	id      string
	backend Backend
	cfg     Config
	opts    SessionOptions

	mu          sync.Mutex
	state       State
	starting    bool
	audio       chan []byte
	audioClosed bool
	writer      StreamWriter
	cancel      context.CancelFunc
	dropped     int64

	emitMu       sync.Mutex
	events       chan Event
	eventsClosed bool

	finishOnce sync.Once
	done       chan struct{}
}

// NewSession validates cfg and binds it to backend. The session is single-use:
// a language or format change needs a new Session.
func NewSession(id string, backend Backend, cfg Config, opts SessionOptions) (*Session, error) {
	if backend == nil {
		return nil, &ConfigError{Field: "backend", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.AudioQueueChunks <= 0 {
		opts.AudioQueueChunks = defaultAudioQueueChunks
	}
	if opts.StopFlushTimeout <= 0 {
		opts.StopFlushTimeout = defaultStopFlushTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Session{
		id:      id,
		backend: backend,
		cfg:     cfg,
		opts:    opts,
		state:   StateIdle,
		audio:   make(chan []byte, opts.AudioQueueChunks),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events delivers interim and final utterances in arrival order. The last
// event is always EventSessionEnded or EventError, after which the channel is closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has terminated and released its backend.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || (s.state == StateIdle && s.starting) {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start session %s from %s: %w", s.id, state, ErrInvalidState)
	}
	s.starting = true
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	writer, err := s.backend.StartStreaming(streamCtx, s.id, s.cfg, &sessionReceiver{session: s})

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		cancel()
		slog.Error("failed to start recognition stream", "error", err, "session_id", s.id)
		s.finish(Event{Kind: EventError, Err: err})
		return fmt.Errorf("start recognition stream: %w", err)
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		cancel()
		_ = writer.Close()
		return fmt.Errorf("session %s became %s while starting: %w", s.id, state, ErrInvalidState)
	}
	s.writer = writer
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()

	slog.Info("recognition session running", "session_id", s.id, "source_lang", s.cfg.SourceLang)
	go s.pumpAudio(writer)
	return nil
}

// PushAudio enqueues raw PCM without blocking. Outside StateRunning, or when the
// queue is full, the chunk is dropped and false is returned.
func (s *Session) PushAudio(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.audioClosed {
		return false
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	select {
	case s.audio <- chunk:
		return true
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			slog.Warn("audio queue full; dropping chunk", "session_id", s.id, "dropped_chunks", s.dropped)
		}
		return false
	}
}

// Stop ends audio input and waits for the backend to flush pending results.
// It is idempotent and safe to call from any state.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		s.finish(Event{Kind: EventSessionEnded})
		return nil
	case StateStopped, StateErrored:
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
		s.closeAudioLocked()
		slog.Info("recognition session stopping", "session_id", s.id)
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.StopFlushTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		slog.Warn("recognition flush timed out; releasing stream", "session_id", s.id, "timeout", s.opts.StopFlushTimeout)
	case <-ctx.Done():
		slog.Warn("recognition stop canceled; releasing stream", "session_id", s.id, "error", ctx.Err())
	}
	s.finish(Event{Kind: EventSessionEnded})
	return nil
}

func (s *Session) pumpAudio(writer StreamWriter) {
	for chunk := range s.audio {
		if err := writer.Write(chunk); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			slog.Error("failed to write pcm to recognition stream", "error", err, "session_id", s.id, "pcm_bytes", len(chunk))
			s.finish(Event{Kind: EventError, Err: &CanceledError{Reason: CancellationError, Details: err.Error(), Err: err}})
			return
		}
	}
	if err := writer.CloseSend(); err != nil {
		slog.Warn("failed to close recognition input", "error", err, "session_id", s.id)
	}
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	s.events <- ev
}

func (s *Session) finish(ev Event) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		if ev.Kind == EventError {
			s.state = StateErrored
		} else {
			s.state = StateStopped
		}
		s.closeAudioLocked()
		writer, cancel := s.writer, s.cancel
		s.mu.Unlock()

		if writer != nil {
			if err := writer.Close(); err != nil {
				slog.Debug("recognition stream close returned error", "error", err, "session_id", s.id)
			}
		}
		if cancel != nil {
			cancel()
		}

		s.emitMu.Lock()
		s.events <- ev
		close(s.events)
		s.eventsClosed = true
		s.emitMu.Unlock()

		close(s.done)
		slog.Info("recognition session ended", "session_id", s.id, "state", s.State().String())
	})
}

func (s *Session) closeAudioLocked() {
	if s.audioClosed {
		return
	}
	s.audioClosed = true
	close(s.audio)
}

type sessionReceiver struct {
	session *Session
}

func (r *sessionReceiver) OnResult(text string, isFinal bool) {
	kind := EventInterim
	if isFinal {
		kind = EventFinal
	}
	r.session.emit(Event{
		Kind:      kind,
		Utterance: Utterance{Text: text, IsFinal: isFinal, Timestamp: time.Now()},
	})
}

func (r *sessionReceiver) OnEnd() {
	r.session.finish(Event{Kind: EventSessionEnded})
}

func (r *sessionReceiver) OnError(err error) {
	var canceled *CanceledError
	if !errors.As(err, &canceled) {
		err = &CanceledError{Reason: CancellationError, Details: err.Error(), Err: err}
	}
	r.session.finish(Event{Kind: EventError, Err: err})
}
