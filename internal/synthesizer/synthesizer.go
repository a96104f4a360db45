package synthesizer

import (
	"context"
	"errors"

	"github.com/foxseedlab/tsuyaku/internal/translation"
)

const (
	ContentTypeMP3     = "audio/mpeg"
	DefaultVoiceLocale = "en-US"
)

var ErrEmptyText = errors.New("synthesizer: text is empty")

type Speech struct {
	Audio       []byte
	ContentType string
	Language    string
	VoiceLocale string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Speech, error)
}

var voiceLocales = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"zh": "cmn-CN",
}

// VoiceLocale picks the voice locale for a language tag by its base subtag.
func VoiceLocale(language string) string {
	if locale, ok := voiceLocales[translation.BaseLanguage(language)]; ok {
		return locale
	}
	return DefaultVoiceLocale
}
