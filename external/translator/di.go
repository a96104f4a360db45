package translator

import (
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (translation.Translator, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPTranslator(HTTPTranslatorConfig{
			Endpoint:    c.TranslatorEndpoint,
			APIKey:      c.TranslatorAPIKey,
			Region:      c.TranslatorRegion,
			MaxAttempts: c.TranslationMaxAttempts,
			Timeout:     c.TranslationTimeout,
		}), nil
	})
}
