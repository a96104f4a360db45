package terminal

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/foxseedlab/tsuyaku/internal/pipeline"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
)

type sender interface {
	Send(msg tea.Msg)
}

// Sink forwards pipeline publications into a running bubbletea program.
type Sink struct {
	program sender
}

func NewSink(program *tea.Program) *Sink {
	return &Sink{program: program}
}

func (s *Sink) PublishStatus(status pipeline.Status) {
	s.program.Send(statusMsg(status))
}

func (s *Sink) PublishInterim(interim pipeline.Interim) {
	s.program.Send(interimMsg(interim.Transcription))
}

func (s *Sink) PublishResult(result pipeline.Result) {
	s.program.Send(resultMsg(result))
}

func (s *Sink) PublishError(message string) {
	s.program.Send(errorMsg(message))
}

// Audio playback is left to the browser front-end.
func (s *Sink) PublishSpeech(synthesizer.Speech) {
	s.program.Send(speechMsg{})
}
