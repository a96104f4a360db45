package terminal

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

var sourceLanguages = []huh.Option[string]{
	huh.NewOption("English", "en-US"),
	huh.NewOption("Spanish", "es-ES"),
	huh.NewOption("French", "fr-FR"),
	huh.NewOption("German", "de-DE"),
	huh.NewOption("Italian", "it-IT"),
	huh.NewOption("Japanese", "ja-JP"),
	huh.NewOption("Korean", "ko-KR"),
	huh.NewOption("Portuguese", "pt-BR"),
	huh.NewOption("Russian", "ru-RU"),
	huh.NewOption("Chinese", "cmn-Hans-CN"),
}

var targetLanguages = []huh.Option[string]{
	huh.NewOption("Spanish", "es"),
	huh.NewOption("English", "en"),
	huh.NewOption("French", "fr"),
	huh.NewOption("German", "de"),
	huh.NewOption("Italian", "it"),
	huh.NewOption("Japanese", "ja"),
	huh.NewOption("Korean", "ko"),
	huh.NewOption("Portuguese", "pt"),
	huh.NewOption("Russian", "ru"),
	huh.NewOption("Chinese", "zh-Hans"),
}

// PromptLanguages asks only for the languages that are still empty.
func PromptLanguages(from, to *string, defaultFrom, defaultTo string) error {
	var fields []huh.Field
	if *from == "" {
		*from = defaultFrom
		fields = append(fields, huh.NewSelect[string]().
			Title("Spoken language").
			Options(sourceLanguages...).
			Value(from))
	}
	if *to == "" {
		*to = defaultTo
		fields = append(fields, huh.NewSelect[string]().
			Title("Translate to").
			Options(targetLanguages...).
			Value(to))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("language prompt: %w", err)
	}
	return nil
}
