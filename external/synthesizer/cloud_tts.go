package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"google.golang.org/api/option"
)

type CloudTTSConfig struct {
	CredentialsJSON string
}

// CloudTTS synthesizes MP3 speech with Google Cloud Text-to-Speech. The client
// is dialed on first use so a disabled TTS never opens a connection.
type CloudTTS struct {
	credentialsJSON string

	mu     sync.Mutex
	client *texttospeech.Client
}

func NewCloudTTS(cfg CloudTTSConfig) *CloudTTS {
	return &CloudTTS{credentialsJSON: cfg.CredentialsJSON}
}

func (s *CloudTTS) Synthesize(ctx context.Context, text, language string) (synthesizer.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return synthesizer.Speech{}, synthesizer.ErrEmptyText
	}
	client, err := s.getClient(ctx)
	if err != nil {
		return synthesizer.Speech{}, err
	}

	locale := synthesizer.VoiceLocale(language)
	resp, err := client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: locale,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return synthesizer.Speech{}, fmt.Errorf("synthesize speech: %w", err)
	}
	slog.Debug("speech synthesized", "language", language, "voice_locale", locale, "audio_bytes", len(resp.GetAudioContent()))
	return synthesizer.Speech{
		Audio:       resp.GetAudioContent(),
		ContentType: synthesizer.ContentTypeMP3,
		Language:    language,
		VoiceLocale: locale,
	}, nil
}

func (s *CloudTTS) getClient(ctx context.Context) (*texttospeech.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(s.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	client, err := texttospeech.NewClient(context.WithoutCancel(ctx), option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *CloudTTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
