package pipeline

import "time"

// RunSummary is the metadata of one recognition run. It never carries transcript text.
type RunSummary struct {
	SessionID           string
	ConnID              string
	SourceLang          string
	TargetLang          string
	StartedAt           time.Time
	EndedAt             time.Time
	Errored             bool
	StopReason          string
	FinalCount          int
	TranslationFailures int
}

func (s RunSummary) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Observer is notified synchronously when a run starts and after it has published
// its stopped status.
type Observer interface {
	RunStarted(summary RunSummary)
	RunEnded(summary RunSummary)
}

type nopObserver struct{}

func (nopObserver) RunStarted(RunSummary) {}
func (nopObserver) RunEnded(RunSummary)   {}
