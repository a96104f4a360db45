//go:build !cgo

package audio

import "github.com/foxseedlab/tsuyaku/internal/audio"

func newMicrophoneSource() (audio.Source, error) {
	return nil, audio.ErrCaptureUnavailable
}
