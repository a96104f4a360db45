// Package pipeline turns a recognition session into published transcription and
// translation results for one client.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/google/uuid"
)

const defaultTranslationTimeout = 10 * time.Second

type Status string

const (
	StatusStarted Status = "started"
	StatusStopped Status = "stopped"
)

type Interim struct {
	Transcription string
}

type Result struct {
	Transcription string
	Translation   string
	// TranslationError is set when Translation holds an error marker.
	TranslationError string
	SourceLang       string
	TargetLang       string
}

// Sink receives everything a pipeline publishes. Calls for one pipeline never
// overlap and StatusStopped is always the last call of a run.
type Sink interface {
	PublishStatus(status Status)
	PublishInterim(interim Interim)
	PublishResult(result Result)
	PublishError(message string)
	PublishSpeech(speech synthesizer.Speech)
}

type StartRequest struct {
	SourceLang string
	TargetLang string
	Speak      bool
}

type Options struct {
	// Recognition supplies format and silence settings; languages come from StartRequest.
	Recognition        recognition.Config
	Session            recognition.SessionOptions
	TranslationTimeout time.Duration
	Synthesizer        synthesizer.Synthesizer
	Observer           Observer
}

type Pipeline struct {
	connID     string
	backend    recognition.Backend
	translator translation.Translator
	sink       Sink
	opts       Options

	lifecycleMu sync.Mutex

	mu  sync.Mutex
	run *run
}

type run struct {
	session *recognition.Session
	req     StartRequest
	done    chan struct{}

	startedAt  time.Time
	stopReason string
	errored    bool
	finals     int
	failures   int
}

func New(connID string, backend recognition.Backend, translator translation.Translator, sink Sink, opts Options) *Pipeline {
	if opts.TranslationTimeout <= 0 {
		opts.TranslationTimeout = defaultTranslationTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Pipeline{
		connID:     connID,
		backend:    backend,
		translator: translator,
		sink:       sink,
		opts:       opts,
	}
}

// Start begins a new run. A run already in progress is stopped first and its
// stopped status is published before the new started status.
func (p *Pipeline) Start(ctx context.Context, req StartRequest) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if current := p.current(); current != nil {
		slog.Info("restarting pipeline with new languages", "conn_id", p.connID, "session_id", current.session.ID(), "source_lang", req.SourceLang, "target_lang", req.TargetLang)
		p.stopRun(ctx, current, "restarted")
	}

	cfg := p.recognitionConfig(req)
	session, err := recognition.NewSession(uuid.NewString(), p.backend, cfg, p.opts.Session)
	if err != nil {
		slog.Error("invalid recognition config", "error", err, "conn_id", p.connID)
		p.sink.PublishError(err.Error())
		return err
	}
	if err := session.Start(ctx); err != nil {
		slog.Error("failed to start recognition session", "error", err, "conn_id", p.connID, "session_id", session.ID())
		p.sink.PublishError(fmt.Sprintf("failed to start recognition: %v", err))
		return err
	}

	r := &run{
		session:   session,
		req:       req,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	p.mu.Lock()
	p.run = r
	p.mu.Unlock()

	p.sink.PublishStatus(StatusStarted)
	p.opts.Observer.RunStarted(p.summary(r, time.Time{}))
	slog.Info("pipeline started", "conn_id", p.connID, "session_id", session.ID(), "source_lang", req.SourceLang, "target_lang", req.TargetLang, "speak", req.Speak)

	go p.consume(r)
	return nil
}

// PushAudio never blocks. It reports whether the chunk was queued.
func (p *Pipeline) PushAudio(pcm []byte) bool {
	r := p.current()
	if r == nil {
		return false
	}
	return r.session.PushAudio(pcm)
}

// Stop is a no-op when nothing is running. It returns after the stopped status
// has been published.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	r := p.current()
	if r == nil {
		return nil
	}
	p.stopRun(ctx, r, "requested")
	return nil
}

func (p *Pipeline) Running() bool {
	return p.current() != nil
}

// SessionID returns the id of the running recognition session, or "".
func (p *Pipeline) SessionID() string {
	if r := p.current(); r != nil {
		return r.session.ID()
	}
	return ""
}

func (p *Pipeline) current() *run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

func (p *Pipeline) stopRun(ctx context.Context, r *run, reason string) {
	p.mu.Lock()
	if r.stopReason == "" {
		r.stopReason = reason
	}
	p.mu.Unlock()

	if err := r.session.Stop(ctx); err != nil {
		slog.Warn("recognition session stop returned error", "error", err, "conn_id", p.connID, "session_id", r.session.ID())
	}
	// The worker's remaining work is bounded by the translation timeout.
	<-r.done
}

func (p *Pipeline) consume(r *run) {
	defer close(r.done)

	for ev := range r.session.Events() {
		switch ev.Kind {
		case recognition.EventInterim:
			if strings.TrimSpace(ev.Utterance.Text) == "" {
				continue
			}
			p.sink.PublishInterim(Interim{Transcription: ev.Utterance.Text})
		case recognition.EventFinal:
			p.handleFinal(r, ev.Utterance)
		case recognition.EventSessionEnded:
			p.mu.Lock()
			if r.stopReason == "" {
				r.stopReason = "session_ended"
			}
			p.mu.Unlock()
		case recognition.EventError:
			slog.Error("recognition session canceled", "error", ev.Err, "conn_id", p.connID, "session_id", r.session.ID())
			p.mu.Lock()
			r.errored = true
			if r.stopReason == "" {
				r.stopReason = "recognition_error"
			}
			p.mu.Unlock()
			p.sink.PublishError(ev.Err.Error())
		}
	}

	p.sink.PublishStatus(StatusStopped)

	p.mu.Lock()
	if p.run == r {
		p.run = nil
	}
	p.mu.Unlock()

	summary := p.summary(r, time.Now())
	slog.Info("pipeline stopped", "conn_id", p.connID, "session_id", summary.SessionID, "stop_reason", summary.StopReason, "final_count", summary.FinalCount, "translation_failures", summary.TranslationFailures)
	p.opts.Observer.RunEnded(summary)
}

func (p *Pipeline) handleFinal(r *run, u recognition.Utterance) {
	if strings.TrimSpace(u.Text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.TranslationTimeout)
	defer cancel()

	result := Result{
		Transcription: u.Text,
		SourceLang:    r.req.SourceLang,
		TargetLang:    r.req.TargetLang,
	}
	translated, err := p.translator.Translate(ctx, u.Text, r.req.SourceLang, r.req.TargetLang)

	p.mu.Lock()
	r.finals++
	if err != nil {
		r.failures++
	}
	p.mu.Unlock()

	if err != nil {
		slog.Warn("translation failed; publishing transcription with marker", "error", err, "conn_id", p.connID, "session_id", r.session.ID())
		result.Translation = translation.Marker(err)
		result.TranslationError = err.Error()
		p.sink.PublishResult(result)
		return
	}
	result.Translation = translated.TranslatedText
	p.sink.PublishResult(result)

	if r.req.Speak {
		p.speak(ctx, r, result.Translation)
	}
}

func (p *Pipeline) speak(ctx context.Context, r *run, text string) {
	if p.opts.Synthesizer == nil || strings.TrimSpace(text) == "" {
		return
	}
	speech, err := p.opts.Synthesizer.Synthesize(ctx, text, r.req.TargetLang)
	if err != nil {
		slog.Warn("speech synthesis failed", "error", err, "conn_id", p.connID, "session_id", r.session.ID())
		p.sink.PublishError(fmt.Sprintf("TTS error: %v", err))
		return
	}
	p.sink.PublishSpeech(speech)
}

func (p *Pipeline) recognitionConfig(req StartRequest) recognition.Config {
	cfg := p.opts.Recognition
	if cfg.SampleRate == 0 && cfg.Channels == 0 && cfg.BitsPerSample == 0 {
		defaults := recognition.DefaultConfig("", "")
		cfg.SampleRate = defaults.SampleRate
		cfg.Channels = defaults.Channels
		cfg.BitsPerSample = defaults.BitsPerSample
		if cfg.InitialSilenceTimeout == 0 && cfg.EndSilenceTimeout == 0 && cfg.SegmentationSilenceTimeout == 0 {
			cfg.InitialSilenceTimeout = defaults.InitialSilenceTimeout
			cfg.EndSilenceTimeout = defaults.EndSilenceTimeout
			cfg.SegmentationSilenceTimeout = defaults.SegmentationSilenceTimeout
		}
	}
	cfg.SourceLang = req.SourceLang
	cfg.TargetLang = req.TargetLang
	return cfg
}

func (p *Pipeline) summary(r *run, endedAt time.Time) RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return RunSummary{
		SessionID:           r.session.ID(),
		ConnID:              p.connID,
		SourceLang:          r.req.SourceLang,
		TargetLang:          r.req.TargetLang,
		StartedAt:           r.startedAt,
		EndedAt:             endedAt,
		Errored:             r.errored,
		StopReason:          r.stopReason,
		FinalCount:          r.finals,
		TranslationFailures: r.failures,
	}
}
