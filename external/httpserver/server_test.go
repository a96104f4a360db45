package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	externalrepository "github.com/foxseedlab/tsuyaku/external/repository"
	externalwebhook "github.com/foxseedlab/tsuyaku/external/webhook"
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/session"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/gorilla/websocket"
)

type mockStreamWriter struct {
	mu       sync.Mutex
	receiver recognition.ResultReceiver
	pcmBytes int
}

func (w *mockStreamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBytes += len(pcm)
	return nil
}

func (w *mockStreamWriter) CloseSend() error {
	w.receiver.OnEnd()
	return nil
}

func (w *mockStreamWriter) Close() error { return nil }

type mockBackend struct {
	mu           sync.Mutex
	writers      []*mockStreamWriter
	text         string
	recognizeErr error
	gotConfig    recognition.Config
	gotPCM       []byte
}

func (b *mockBackend) StartStreaming(_ context.Context, _ string, _ recognition.Config, receiver recognition.ResultReceiver) (recognition.StreamWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := &mockStreamWriter{receiver: receiver}
	b.writers = append(b.writers, w)
	return w, nil
}

func (b *mockBackend) Recognize(_ context.Context, cfg recognition.Config, pcm []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gotConfig = cfg
	b.gotPCM = pcm
	return b.text, b.recognizeErr
}

func (b *mockBackend) last() *mockStreamWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writers[len(b.writers)-1]
}

type mockTranslator struct {
	err   error
	block chan struct{}
}

func (m *mockTranslator) Translate(_ context.Context, text, src, tgt string) (translation.Result, error) {
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return translation.Result{}, m.err
	}
	return translation.Result{SourceText: text, TranslatedText: "Hola", SourceLang: src, TargetLang: tgt}, nil
}

func (m *mockTranslator) Detect(_ context.Context, _ string) (translation.Detection, error) {
	if m.err != nil {
		return translation.Detection{}, m.err
	}
	return translation.Detection{Language: "fr", Score: 0.9}, nil
}

type mockSynthesizer struct{}

func (mockSynthesizer) Synthesize(_ context.Context, text, language string) (synthesizer.Speech, error) {
	return synthesizer.Speech{Audio: []byte("mp3:" + text), ContentType: synthesizer.ContentTypeMP3, Language: language}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins:        []string{"*"},
		DefaultSourceLanguage: "en-US",
		DefaultTargetLanguage: "es",
		StopFlushTimeout:      time.Second,
		AudioQueueChunks:      16,
		TranslationTimeout:    time.Second,
		TTSEnabled:            true,
	}
}

func newTestServer(t *testing.T, backend *mockBackend, tr *mockTranslator, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	manager := session.NewManager(cfg, externalrepository.NewNopRepository(), backend, tr, mockSynthesizer{}, externalwebhook.NewHTTPSender(""))
	s := NewServer(cfg, manager, backend, tr, mockSynthesizer{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.CloseConnections(context.Background())
		ts.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if out["status"] != "OK" {
		t.Fatalf("unexpected status: %v", out["status"])
	}
	if stamp, ok := out["timestamp"].(float64); !ok || stamp <= 0 {
		t.Fatalf("unexpected timestamp: %v", out["timestamp"])
	}
	if out["active_sessions"] != float64(0) {
		t.Fatalf("unexpected active sessions: %v", out["active_sessions"])
	}
}

func TestTranslate(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, out := postJSON(t, ts.URL+"/translate", map[string]string{"text": "Hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if out["translated_text"] != "Hola" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestTranslate_MissingText(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, out := postJSON(t, ts.URL+"/translate", map[string]string{"to_lang": "fr"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if out["error"] == nil {
		t.Fatal("expected error message")
	}
}

func TestTranslate_Failure(t *testing.T) {
	tr := &mockTranslator{err: &translation.Error{Reason: "unauthorized", StatusCode: 401}}
	_, ts := newTestServer(t, &mockBackend{}, tr, testConfig())
	resp, out := postJSON(t, ts.URL+"/translate", map[string]string{"text": "Hello"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "401") {
		t.Fatalf("unexpected error: %v", out)
	}
}

func TestTranslate_InvalidJSON(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, err := http.Post(ts.URL+"/translate", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRecognize(t *testing.T) {
	backend := &mockBackend{text: "hello there"}
	_, ts := newTestServer(t, backend, &mockTranslator{}, testConfig())
	pcm := []byte{1, 0, 2, 0}
	resp, out := postJSON(t, ts.URL+"/recognize", map[string]string{
		"audio_data": base64.StdEncoding.EncodeToString(pcm),
		"from_lang":  "fr-FR",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if out["text"] != "hello there" {
		t.Fatalf("unexpected body: %v", out)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.gotConfig.SourceLang != "fr-FR" || backend.gotConfig.SampleRate != recognition.SupportedSampleRate {
		t.Fatalf("unexpected recognition config: %+v", backend.gotConfig)
	}
	if !bytes.Equal(backend.gotPCM, pcm) {
		t.Fatalf("unexpected pcm: %v", backend.gotPCM)
	}
}

func TestRecognize_BadInput(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	cases := map[string]map[string]string{
		"missing audio":  {"from_lang": "en-US"},
		"invalid base64": {"audio_data": "***"},
	}
	for name, body := range cases {
		resp, _ := postJSON(t, ts.URL+"/recognize", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestRecognize_BackendFailure(t *testing.T) {
	backend := &mockBackend{recognizeErr: errors.New("unavailable")}
	_, ts := newTestServer(t, backend, &mockTranslator{}, testConfig())
	resp, _ := postJSON(t, ts.URL+"/recognize", map[string]string{"audio_data": base64.StdEncoding.EncodeToString([]byte{0, 0})})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestDetect(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, out := postJSON(t, ts.URL+"/detect", map[string]string{"text": "Bonjour"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if out["language"] != "fr" || out["score"] != 0.9 {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestSynthesize(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, out := postJSON(t, ts.URL+"/synthesize", map[string]string{"text": "Hola", "language": "es"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	audio, err := base64.StdEncoding.DecodeString(out["audio_data"].(string))
	if err != nil || string(audio) != "mp3:Hola" {
		t.Fatalf("unexpected audio: %v (%v)", out["audio_data"], err)
	}
	if out["content_type"] != synthesizer.ContentTypeMP3 {
		t.Fatalf("unexpected content type: %v", out["content_type"])
	}
}

func TestSynthesize_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.TTSEnabled = false
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, cfg)
	resp, _ := postJSON(t, ts.URL+"/synthesize", map[string]string{"text": "Hola"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestIndexServed(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<title>tsuyaku</title>") {
		t.Fatalf("unexpected index response: %d", resp.StatusCode)
	}
}

type wsMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func sendWS(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestWebSocket_TranscriptionFlow(t *testing.T) {
	backend := &mockBackend{}
	_, ts := newTestServer(t, backend, &mockTranslator{}, testConfig())
	conn := dialWS(t, ts)

	sendWS(t, conn, "start_transcription", map[string]any{"from_lang": "en-US", "to_lang": "es"})
	if msg := readWS(t, conn); msg.Event != "transcription_status" || msg.Data["status"] != "started" {
		t.Fatalf("expected started status, got %+v", msg)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("binary write failed: %v", err)
	}
	sendWS(t, conn, "audio_data", map[string]string{"audio_data": base64.StdEncoding.EncodeToString(make([]byte, 320))})

	w := backend.last()
	w.receiver.OnResult("hello", false)
	w.receiver.OnResult("hello", true)

	if msg := readWS(t, conn); msg.Event != "interim_update" || msg.Data["transcription"] != "hello" {
		t.Fatalf("expected interim update, got %+v", msg)
	}
	msg := readWS(t, conn)
	if msg.Event != "transcription_update" || msg.Data["transcription"] != "hello" || msg.Data["translation"] != "Hola" {
		t.Fatalf("expected transcription update, got %+v", msg)
	}
	if _, ok := msg.Data["translation_error"]; ok {
		t.Fatalf("unexpected translation_error: %+v", msg)
	}

	sendWS(t, conn, "stop_transcription", map[string]any{})
	if msg := readWS(t, conn); msg.Event != "transcription_status" || msg.Data["status"] != "stopped" {
		t.Fatalf("expected stopped status, got %+v", msg)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pcmBytes != 960 {
		t.Fatalf("expected 960 pcm bytes forwarded, got %d", w.pcmBytes)
	}
}

func TestWebSocket_UnknownEventAndBadAudio(t *testing.T) {
	_, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	conn := dialWS(t, ts)

	sendWS(t, conn, "dance", nil)
	if msg := readWS(t, conn); msg.Event != "error" || !strings.Contains(msg.Data["message"].(string), "dance") {
		t.Fatalf("expected unknown event error, got %+v", msg)
	}
	sendWS(t, conn, "audio_data", map[string]string{"audio_data": "%%%"})
	if msg := readWS(t, conn); msg.Event != "error" {
		t.Fatalf("expected bad audio error, got %+v", msg)
	}
}

func TestWebSocket_TranslationFailureMarker(t *testing.T) {
	backend := &mockBackend{}
	tr := &mockTranslator{err: &translation.Error{Reason: "unauthorized", StatusCode: 401}}
	_, ts := newTestServer(t, backend, tr, testConfig())
	conn := dialWS(t, ts)

	sendWS(t, conn, "start_transcription", map[string]any{})
	readWS(t, conn)
	backend.last().receiver.OnResult("hello", true)

	msg := readWS(t, conn)
	if msg.Event != "transcription_update" || msg.Data["transcription"] != "hello" {
		t.Fatalf("expected transcription update, got %+v", msg)
	}
	if marker, _ := msg.Data["translation"].(string); !strings.HasPrefix(marker, "[Translation error:") {
		t.Fatalf("expected inline marker, got %q", marker)
	}
	if msg.Data["translation_error"] == nil {
		t.Fatal("expected translation_error field")
	}
}

func TestWebSocket_ShutdownSendsStoppedBeforeClose(t *testing.T) {
	s, ts := newTestServer(t, &mockBackend{}, &mockTranslator{}, testConfig())
	conn := dialWS(t, ts)

	sendWS(t, conn, "start_transcription", map[string]any{"from_lang": "en-US", "to_lang": "es"})
	if msg := readWS(t, conn); msg.Data["status"] != "started" {
		t.Fatalf("expected started status, got %+v", msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.CloseConnections(ctx)

	if msg := readWS(t, conn); msg.Event != "transcription_status" || msg.Data["status"] != "stopped" {
		t.Fatalf("expected stopped status before close, got %+v", msg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after stopped status, got %v", err)
	}
	if err := s.waitForHandlers(ctx); err != nil {
		t.Fatalf("websocket handler did not return: %v", err)
	}
}

func TestWebSocket_SlowStopDoesNotStallReads(t *testing.T) {
	backend := &mockBackend{}
	tr := &mockTranslator{block: make(chan struct{})}
	_, ts := newTestServer(t, backend, tr, testConfig())
	conn := dialWS(t, ts)

	sendWS(t, conn, "start_transcription", map[string]any{})
	if msg := readWS(t, conn); msg.Data["status"] != "started" {
		t.Fatalf("expected started status, got %+v", msg)
	}
	// the final's translation holds the pipeline worker, so stop waits on it
	backend.last().receiver.OnResult("hello", true)
	sendWS(t, conn, "stop_transcription", map[string]any{})

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("binary write failed: %v", err)
	}
	sendWS(t, conn, "ping_me", nil)
	if msg := readWS(t, conn); msg.Event != "error" || !strings.Contains(msg.Data["message"].(string), "ping_me") {
		t.Fatalf("expected reads to continue during stop, got %+v", msg)
	}

	close(tr.block)
	if msg := readWS(t, conn); msg.Event != "transcription_update" || msg.Data["translation"] != "Hola" {
		t.Fatalf("expected transcription update, got %+v", msg)
	}
	if msg := readWS(t, conn); msg.Event != "transcription_status" || msg.Data["status"] != "stopped" {
		t.Fatalf("expected stopped status, got %+v", msg)
	}
}
