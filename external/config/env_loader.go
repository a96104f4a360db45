package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/tsuyaku/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	HTTPAddr                   string        `env:"HTTP_ADDR" envDefault:":5015"`
	AllowedOrigins             []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	DefaultSourceLanguage      string        `env:"DEFAULT_SOURCE_LANGUAGE" envDefault:"en-US"`
	DefaultTargetLanguage      string        `env:"DEFAULT_TARGET_LANGUAGE" envDefault:"es"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID,required"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON,required"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	InitialSilenceTimeoutMs    int           `env:"RECOGNITION_INITIAL_SILENCE_TIMEOUT_MS" envDefault:"5000"`
	EndSilenceTimeoutMs        int           `env:"RECOGNITION_END_SILENCE_TIMEOUT_MS" envDefault:"1000"`
	SegmentationSilenceMs      int           `env:"RECOGNITION_SEGMENTATION_SILENCE_TIMEOUT_MS" envDefault:"500"`
	StopFlushTimeout           time.Duration `env:"RECOGNITION_STOP_FLUSH_TIMEOUT" envDefault:"5s"`
	AudioQueueChunks           int           `env:"RECOGNITION_AUDIO_QUEUE_CHUNKS" envDefault:"256"`
	TranslatorEndpoint         string        `env:"TRANSLATOR_ENDPOINT" envDefault:"https://api.cognitive.microsofttranslator.com"`
	TranslatorAPIKey           string        `env:"TRANSLATOR_API_KEY,required"`
	TranslatorRegion           string        `env:"TRANSLATOR_REGION"`
	TranslationTimeout         time.Duration `env:"TRANSLATION_TIMEOUT" envDefault:"10s"`
	TranslationMaxAttempts     int           `env:"TRANSLATION_MAX_ATTEMPTS" envDefault:"1"`
	TTSEnabled                 bool          `env:"TTS_ENABLED" envDefault:"true"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	SessionWebhookURL          string        `env:"SESSION_WEBHOOK_URL"`
	LogFile                    string        `env:"TSUYAKU_LOG_FILE" envDefault:"tsuyaku.log"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		AllowedOrigins:             raw.AllowedOrigins,
		DefaultSourceLanguage:      raw.DefaultSourceLanguage,
		DefaultTargetLanguage:      raw.DefaultTargetLanguage,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		InitialSilenceTimeoutMs:    raw.InitialSilenceTimeoutMs,
		EndSilenceTimeoutMs:        raw.EndSilenceTimeoutMs,
		SegmentationSilenceMs:      raw.SegmentationSilenceMs,
		StopFlushTimeout:           raw.StopFlushTimeout,
		AudioQueueChunks:           raw.AudioQueueChunks,
		TranslatorEndpoint:         raw.TranslatorEndpoint,
		TranslatorAPIKey:           raw.TranslatorAPIKey,
		TranslatorRegion:           raw.TranslatorRegion,
		TranslationTimeout:         raw.TranslationTimeout,
		TranslationMaxAttempts:     raw.TranslationMaxAttempts,
		TTSEnabled:                 raw.TTSEnabled,
		DatabaseURL:                raw.DatabaseURL,
		SessionWebhookURL:          raw.SessionWebhookURL,
		LogFile:                    raw.LogFile,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
