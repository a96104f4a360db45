package httpserver

import (
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/session"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)
		backend := do.MustInvoke[recognition.Backend](i)
		tr := do.MustInvoke[translation.Translator](i)
		synth := do.MustInvoke[synthesizer.Synthesizer](i)
		return NewServer(cfg, manager, backend, tr, synth), nil
	})
}
