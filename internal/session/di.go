package session

import (
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/repository"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/foxseedlab/tsuyaku/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		backend := do.MustInvoke[recognition.Backend](i)
		tr := do.MustInvoke[translation.Translator](i)
		synth := do.MustInvoke[synthesizer.Synthesizer](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewManager(cfg, repo, backend, tr, synth, wh), nil
	})
}
