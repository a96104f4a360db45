package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Env                        string
	HTTPAddr                   string
	AllowedOrigins             []string
	DefaultSourceLanguage      string
	DefaultTargetLanguage      string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	InitialSilenceTimeoutMs    int
	EndSilenceTimeoutMs        int
	SegmentationSilenceMs      int
	StopFlushTimeout           time.Duration
	AudioQueueChunks           int
	TranslatorEndpoint         string
	TranslatorAPIKey           string
	TranslatorRegion           string
	TranslationTimeout         time.Duration
	TranslationMaxAttempts     int
	TTSEnabled                 bool
	DatabaseURL                string
	SessionWebhookURL          string
	LogFile                    string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if strings.TrimSpace(req.value) == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.InitialSilenceTimeoutMs < 0 || c.EndSilenceTimeoutMs < 0 || c.SegmentationSilenceMs < 0 {
		return fmt.Errorf("recognition silence timeouts must not be negative")
	}
	if c.StopFlushTimeout <= 0 {
		return fmt.Errorf("RECOGNITION_STOP_FLUSH_TIMEOUT must be positive, got %s", c.StopFlushTimeout)
	}
	if c.AudioQueueChunks <= 0 {
		return fmt.Errorf("RECOGNITION_AUDIO_QUEUE_CHUNKS must be positive, got %d", c.AudioQueueChunks)
	}
	if c.TranslationTimeout <= 0 {
		return fmt.Errorf("TRANSLATION_TIMEOUT must be positive, got %s", c.TranslationTimeout)
	}
	if c.TranslationMaxAttempts <= 0 {
		return fmt.Errorf("TRANSLATION_MAX_ATTEMPTS must be positive, got %d", c.TranslationMaxAttempts)
	}
	if !strings.HasPrefix(c.TranslatorEndpoint, "http://") && !strings.HasPrefix(c.TranslatorEndpoint, "https://") {
		return fmt.Errorf("TRANSLATOR_ENDPOINT must be an http(s) URL, got %q", c.TranslatorEndpoint)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DEFAULT_SOURCE_LANGUAGE", value: c.DefaultSourceLanguage},
		{name: "DEFAULT_TARGET_LANGUAGE", value: c.DefaultTargetLanguage},
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
		{name: "TRANSLATOR_ENDPOINT", value: c.TranslatorEndpoint},
		{name: "TRANSLATOR_API_KEY", value: c.TranslatorAPIKey},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) HasLedger() bool {
	return c.DatabaseURL != ""
}
