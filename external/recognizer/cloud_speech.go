package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

// CloudSpeechBackend streams PCM to Google Cloud Speech-to-Text v2.
//
// The API exposes no end-of-speech or segmentation knobs that keep a stream
// open, so the silence settings in recognition.Config are validated upstream
// and only logged here. The service decides finality on its own pauses.
type CloudSpeechBackend struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
}

func NewCloudSpeechBackend(cfg CloudSpeechConfig) recognition.Backend {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	return &CloudSpeechBackend{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (b *CloudSpeechBackend) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(b.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, &recognition.ConfigError{Field: "credentials", Reason: "could not be loaded", Err: err}
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if endpoint := endpointForLocation(b.location); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, &recognition.ConfigError{Field: "location", Reason: fmt.Sprintf("%q could not be reached", b.location), Err: err}
	}
	return client, nil
}

func (b *CloudSpeechBackend) recognizerName() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", b.projectID, b.location)
}

func (b *CloudSpeechBackend) recognitionConfig(cfg recognition.Config) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Model:         b.model,
		LanguageCodes: []string{cfg.SourceLang},
		DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(cfg.SampleRate),
				AudioChannelCount: int32(cfg.Channels),
			},
		},
		Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
	}
}

// streamingConfig leaves VoiceActivityTimeout unset: with it the server ends
// the stream after one utterance, and a session must survive pauses until Stop.
// Endpointing within the stream is left to the model.
func (b *CloudSpeechBackend) streamingConfig(cfg recognition.Config) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config:            b.recognitionConfig(cfg),
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
	}
}

func (b *CloudSpeechBackend) StartStreaming(ctx context.Context, sessionID string, cfg recognition.Config, receiver recognition.ResultReceiver) (recognition.StreamWriter, error) {
	slog.Info("starting cloud speech streaming",
		"session_id", sessionID,
		"location", b.location,
		"source_lang", cfg.SourceLang,
		"model", b.model,
		"initial_silence_timeout", cfg.InitialSilenceTimeout,
		"end_silence_timeout", cfg.EndSilenceTimeout,
		"segmentation_silence_timeout", cfg.SegmentationSilenceTimeout)

	client, err := b.newClient(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	streamingConfig := b.streamingConfig(cfg)
	recognizer := b.recognizerName()
	sendConfig := func(s speechpb.Speech_StreamingRecognizeClient) error {
		return s.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer: recognizer,
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: streamingConfig,
			},
		})
	}
	if err := sendConfig(stream); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "session_id", sessionID)

	w := &streamWriter{
		sessionID: sessionID,
		stream:    stream,
		receiver:  receiver,
		newStreamFn: func() (speechpb.Speech_StreamingRecognizeClient, error) {
			next, err := client.StreamingRecognize(ctx)
			if err != nil {
				return nil, err
			}
			if err := sendConfig(next); err != nil {
				_ = next.CloseSend()
				return nil, err
			}
			return next, nil
		},
		closeFn: func() error {
			return client.Close()
		},
	}
	w.startReceiver(stream)

	return w, nil
}

// Recognize transcribes a short clip and joins the final transcripts.
func (b *CloudSpeechBackend) Recognize(ctx context.Context, cfg recognition.Config, pcm []byte) (string, error) {
	client, err := b.newClient(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = client.Close()
	}()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  b.recognizerName(),
		Config:      b.recognitionConfig(cfg),
		AudioSource: &speechpb.RecognizeRequest_Content{Content: pcm},
	})
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

type streamWriter struct {
	sessionID   string
	mu          sync.Mutex
	closed      bool
	sendClosed  bool
	stream      speechpb.Speech_StreamingRecognizeClient
	receiver    recognition.ResultReceiver
	newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn     func() error
}

func (w *streamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.sendClosed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	if err := w.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return err
		}
		slog.Warn("recognizer send failed with reconnectable error; reconnecting", "error", err, "session_id", w.sessionID)
		if err := w.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect stream: %w", err)
		}
		return w.stream.Send(req)
	}
	return nil
}

func (w *streamWriter) CloseSend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.sendClosed {
		return nil
	}
	w.sendClosed = true
	return w.stream.CloseSend()
}

func (w *streamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.sendClosed {
		w.sendClosed = true
		if err := w.stream.CloseSend(); err != nil {
			_ = w.closeFn()
			return err
		}
	}
	return w.closeFn()
}

func (w *streamWriter) reconnectLocked() error {
	_ = w.stream.CloseSend()
	next, err := w.newStreamFn()
	if err != nil {
		slog.Error("failed to reconnect recognizer stream", "error", err, "session_id", w.sessionID)
		return err
	}
	w.stream = next
	w.startReceiver(next)
	slog.Info("recognizer stream reconnected", "session_id", w.sessionID)
	return nil
}

func (w *streamWriter) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				w.handleReceiveEnd(stream, err)
				return
			}
			deliverResults(w.receiver, resp.GetResults())
		}
	}()
}

func (w *streamWriter) handleReceiveEnd(stream speechpb.Speech_StreamingRecognizeClient, err error) {
	w.mu.Lock()
	superseded := stream != w.stream
	finishing := w.closed || w.sendClosed
	w.mu.Unlock()

	switch {
	case superseded:
		slog.Debug("superseded recognizer receive loop stopped", "reason", err.Error(), "session_id", w.sessionID)
	case finishing && (errors.Is(err, io.EOF) || isCanceled(err)):
		slog.Info("recognizer receive loop stopped", "reason", err.Error(), "session_id", w.sessionID)
		w.receiver.OnEnd()
	case isReconnectableStreamError(err):
		slog.Warn("recognizer receive loop ended with reconnectable abort", "error", err, "session_id", w.sessionID)
	default:
		details := err.Error()
		if st, ok := status.FromError(err); ok {
			details = fmt.Sprintf("%s: %s", st.Code(), st.Message())
		}
		w.receiver.OnError(&recognition.CanceledError{Reason: recognition.CancellationError, Details: details, Err: err})
	}
}

// deliverResults reports every final result on its own and folds the
// remaining interim results of one response into a single interim line.
func deliverResults(receiver recognition.ResultReceiver, results []*speechpb.StreamingRecognitionResult) {
	var interim []string
	for _, result := range results {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		text := result.GetAlternatives()[0].GetTranscript()
		if result.GetIsFinal() {
			receiver.OnResult(text, true)
			continue
		}
		if strings.TrimSpace(text) != "" {
			interim = append(interim, strings.TrimSpace(text))
		}
	}
	if len(interim) > 0 {
		receiver.OnResult(strings.Join(interim, " "), false)
	}
}

func endpointForLocation(location string) string {
	if location == "" || location == "global" {
		return ""
	}
	return fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled
}

func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
