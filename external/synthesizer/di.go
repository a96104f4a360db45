package synthesizer

import (
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*CloudTTS, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewCloudTTS(CloudTTSConfig{CredentialsJSON: c.GoogleCloudCredentialsJSON}), nil
	})
	do.Provide(injector, func(i do.Injector) (synthesizer.Synthesizer, error) {
		return do.MustInvoke[*CloudTTS](i), nil
	})
}
