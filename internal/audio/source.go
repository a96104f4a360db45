package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
)

type InputKind string

const (
	InputMicrophone InputKind = "microphone"
	InputStdin      InputKind = "stdin"
)

var ErrCaptureUnavailable = errors.New("audio capture is not available in this build")

// Source produces 16 kHz mono little-endian PCM. Stream blocks until ctx is
// done or the input ends, and onChunk must not retain the slice.
type Source interface {
	Stream(ctx context.Context, onChunk func([]byte)) error
	Close() error
}

type SourceFactory func(kind InputKind) (Source, error)

func ParseInputKind(useStdin bool) InputKind {
	if useStdin {
		return InputStdin
	}
	return InputMicrophone
}

// FrameBytes returns the PCM byte length of d at the capture format.
func FrameBytes(d time.Duration) int {
	samples := int(d * SampleRate / time.Second)
	return samples * Channels * BytesPerSample
}

func (k InputKind) Validate() error {
	switch k {
	case InputMicrophone, InputStdin:
		return nil
	default:
		return fmt.Errorf("unknown audio input %q", string(k))
	}
}
