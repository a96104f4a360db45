// Package recognition owns one continuous speech-recognition stream per Session
// and turns backend callbacks into an ordered event stream.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	SupportedSampleRate    = 16000
	SupportedChannels      = 1
	SupportedBitsPerSample = 16

	DefaultInitialSilenceTimeout      = 5000 * time.Millisecond
	DefaultEndSilenceTimeout          = 1000 * time.Millisecond
	DefaultSegmentationSilenceTimeout = 500 * time.Millisecond
)

type Config struct {
	SourceLang    string
	TargetLang    string
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Silence tuning is validated and handed to the backend. Backends without
	// an equivalent that keeps a continuous stream open may only log it; the
	// Cloud Speech backend does, because its voice activity timeout closes
	// the stream at the first pause.
	InitialSilenceTimeout      time.Duration
	EndSilenceTimeout          time.Duration
	SegmentationSilenceTimeout time.Duration
}

func DefaultConfig(sourceLang, targetLang string) Config {
	return Config{
		SourceLang:                 sourceLang,
		TargetLang:                 targetLang,
		SampleRate:                 SupportedSampleRate,
		Channels:                   SupportedChannels,
		BitsPerSample:              SupportedBitsPerSample,
		InitialSilenceTimeout:      DefaultInitialSilenceTimeout,
		EndSilenceTimeout:          DefaultEndSilenceTimeout,
		SegmentationSilenceTimeout: DefaultSegmentationSilenceTimeout,
	}
}

// Validate rejects anything but 16 kHz mono 16-bit PCM. Audio is never resampled.
func (c Config) Validate() error {
	if c.SourceLang == "" {
		return &ConfigError{Field: "source_lang", Reason: "is required"}
	}
	if c.SampleRate != SupportedSampleRate {
		return &ConfigError{Field: "sample_rate", Reason: fmt.Sprintf("%d Hz is unsupported, only %d Hz", c.SampleRate, SupportedSampleRate)}
	}
	if c.Channels != SupportedChannels {
		return &ConfigError{Field: "channels", Reason: fmt.Sprintf("%d channels is unsupported, only mono", c.Channels)}
	}
	if c.BitsPerSample != SupportedBitsPerSample {
		return &ConfigError{Field: "bits_per_sample", Reason: fmt.Sprintf("%d bits is unsupported, only %d", c.BitsPerSample, SupportedBitsPerSample)}
	}
	if c.InitialSilenceTimeout < 0 || c.EndSilenceTimeout < 0 || c.SegmentationSilenceTimeout < 0 {
		return &ConfigError{Field: "silence_timeout", Reason: "must not be negative"}
	}
	return nil
}

type Utterance struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventSessionEnded
	EventError
)

type Event struct {
	Kind      EventKind
	Utterance Utterance
	Err       error
}

// ResultReceiver is called from the backend's receive goroutine, in the order
// results arrive.
type ResultReceiver interface {
	OnResult(text string, isFinal bool)
	// OnEnd reports a normal end of stream.
	OnEnd()
	// OnError reports a backend cancellation; it terminates the stream.
	OnError(err error)
}

type StreamWriter interface {
	Write(pcm []byte) error
	// CloseSend signals end of audio; pending results are still delivered.
	CloseSend() error
	// Close releases the backend connection. Safe to call more than once.
	Close() error
}

type Backend interface {
	StartStreaming(ctx context.Context, sessionID string, cfg Config, receiver ResultReceiver) (StreamWriter, error)
	Recognize(ctx context.Context, cfg Config, pcm []byte) (string, error)
}

var ErrInvalidState = errors.New("recognition: operation not valid in current session state")

type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("recognition config %s %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type CancellationReason string

const (
	CancellationError       CancellationReason = "Error"
	CancellationEndOfStream CancellationReason = "EndOfStream"
)

type CanceledError struct {
	Reason  CancellationReason
	Details string
	Err     error
}

func (e *CanceledError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("recognition canceled: %s", e.Reason)
	}
	return fmt.Sprintf("recognition canceled: %s (%s)", e.Reason, e.Details)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}
