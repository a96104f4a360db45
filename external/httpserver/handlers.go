package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
)

const maxRequestBodyBytes = 10 << 20

type healthResponse struct {
	Status         string  `json:"status"`
	Timestamp      float64 `json:"timestamp"`
	ActiveSessions int     `json:"active_sessions"`
}

type recognizeRequest struct {
	AudioData string `json:"audio_data"`
	FromLang  string `json:"from_lang"`
}

type translateRequest struct {
	Text     string `json:"text"`
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
}

type detectRequest struct {
	Text string `json:"text"`
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "OK",
		Timestamp:      float64(time.Now().UnixNano()) / float64(time.Second),
		ActiveSessions: s.manager.ActiveSessions(),
	})
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AudioData == "" {
		writeError(w, http.StatusBadRequest, "audio_data is required")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_data is not valid base64")
		return
	}
	fromLang := firstNonEmpty(req.FromLang, s.cfg.DefaultSourceLanguage)

	cfg := recognition.DefaultConfig(fromLang, "")
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := s.backend.Recognize(r.Context(), cfg, pcm)
	if err != nil {
		slog.Error("one-shot recognition failed", "error", err, "source_lang", fromLang, "pcm_bytes", len(pcm))
		var cfgErr *recognition.ConfigError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	fromLang := firstNonEmpty(req.FromLang, s.cfg.DefaultSourceLanguage)
	toLang := firstNonEmpty(req.ToLang, s.cfg.DefaultTargetLanguage)

	res, err := s.translator.Translate(r.Context(), req.Text, fromLang, toLang)
	if err != nil {
		slog.Warn("translation request failed", "error", err, "source_lang", fromLang, "target_lang", toLang)
		writeError(w, translationErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"translated_text": res.TranslatedText})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	det, err := s.translator.Detect(r.Context(), req.Text)
	if err != nil {
		slog.Warn("language detection failed", "error", err)
		writeError(w, translationErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"language": det.Language, "score": det.Score})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.TTSEnabled || s.synthesizer == nil {
		writeError(w, http.StatusServiceUnavailable, "text-to-speech is disabled")
		return
	}
	var req synthesizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	language := firstNonEmpty(req.Language, s.cfg.DefaultTargetLanguage)

	speech, err := s.synthesizer.Synthesize(r.Context(), req.Text, language)
	if err != nil {
		if errors.Is(err, synthesizer.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Warn("speech synthesis request failed", "error", err, "language", language)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"audio_data":   base64.StdEncoding.EncodeToString(speech.Audio),
		"content_type": speech.ContentType,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func translationErrorStatus(err error) int {
	var terr *translation.Error
	if errors.As(err, &terr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
