package translation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

type Result struct {
	SourceText     string
	TranslatedText string
	SourceLang     string
	TargetLang     string
}

type Detection struct {
	Language string
	Score    float64
}

type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error)
	Detect(ctx context.Context, text string) (Detection, error)
}

// Error is the single failure type for every translation call: non-2xx status,
// malformed or empty body, network error and timeout all normalize to it.
type Error struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("translation failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return "translation failed: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BaseLanguage strips script and region subtags: "en-US" -> "en", "zh-Hans-CN" -> "zh".
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		base, _, _ := strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
		return strings.ToLower(base)
	}
	base, _ := parsed.Base()
	return base.String()
}

// Marker is the inline text published in place of a translation that failed.
func Marker(err error) string {
	return fmt.Sprintf("[Translation error: %s]", err)
}
