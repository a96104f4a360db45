package audio

import (
	"os"

	"github.com/foxseedlab/tsuyaku/internal/audio"
	"github.com/samber/do/v2"
)

func NewSourceFactory() audio.SourceFactory {
	return func(kind audio.InputKind) (audio.Source, error) {
		if err := kind.Validate(); err != nil {
			return nil, err
		}
		if kind == audio.InputStdin {
			return NewStdinReader(os.Stdin, true), nil
		}
		return newMicrophoneSource()
	}
}

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, NewSourceFactory())
}
