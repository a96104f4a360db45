package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/pipeline"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	maxMessageBytes  = 1 << 20
	sendQueueSize    = 256
	controlQueueSize = 16
	detachStopWait   = 15 * time.Second
	eventStart       = "start_transcription"
	eventAudio       = "audio_data"
	eventStop        = "stop_transcription"
	eventStatus      = "transcription_status"
	eventInterim     = "interim_update"
	eventUpdate      = "transcription_update"
	eventError       = "error"
	eventSpeechAudio = "speech_audio"
)

type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type serverEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type startPayload struct {
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
	TTS      bool   `json:"tts"`
}

type audioPayload struct {
	AudioData string `json:"audio_data"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type interimPayload struct {
	Transcription string `json:"transcription"`
}

type updatePayload struct {
	Transcription    string `json:"transcription"`
	Translation      string `json:"translation"`
	TranslationError string `json:"translation_error,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type speechPayload struct {
	AudioData   string `json:"audio_data"`
	ContentType string `json:"content_type"`
	Language    string `json:"language"`
}

// wsConnection is the pipeline sink for one browser. gorilla connections allow
// one concurrent writer, so every outgoing message goes through send. Start and
// stop requests run on controlLoop so a restart never stalls audio reads.
type wsConnection struct {
	id        string
	server    *Server
	conn      *websocket.Conn
	send      chan serverEnvelope
	done      chan struct{}
	closeOnce sync.Once

	control     chan clientEnvelope
	controlDone chan struct{}
	controlMu   sync.Mutex
	refused     bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &wsConnection{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan serverEnvelope, sendQueueSize),
		done:   make(chan struct{}),

		control:     make(chan clientEnvelope, controlQueueSize),
		controlDone: make(chan struct{}),
	}
	p, err := s.manager.Attach(c.id, c)
	if err != nil {
		slog.Error("failed to attach websocket connection", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.trackConnection(c)
	slog.Info("websocket connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump()
	go c.controlLoop(p)
	c.readPump(p)
	close(c.control)
	<-c.controlDone

	ctx, cancel := context.WithTimeout(context.Background(), detachStopWait)
	defer cancel()
	s.manager.Detach(ctx, c.id)
	s.untrackConnection(c.id)
	c.close()
	slog.Info("websocket disconnected", "conn_id", c.id)
}

func (c *wsConnection) readPump(p *pipeline.Pipeline) {
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err, "conn_id", c.id)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msgType {
		case websocket.BinaryMessage:
			p.PushAudio(data)
		case websocket.TextMessage:
			c.handleEvent(p, data)
		}
	}
}

func (c *wsConnection) handleEvent(p *pipeline.Pipeline, raw []byte) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.PublishError("message must be a JSON object with an event field")
		return
	}

	switch env.Event {
	case eventStart, eventStop:
		select {
		case c.control <- env:
		default:
			c.PublishError("too many pending " + env.Event + " requests")
		}
	case eventAudio:
		var payload audioPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.AudioData == "" {
			c.PublishError("audio_data is required")
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(payload.AudioData)
		if err != nil {
			c.PublishError("audio_data is not valid base64")
			return
		}
		p.PushAudio(pcm)
	default:
		c.PublishError("unknown event: " + env.Event)
	}
}

// controlLoop applies start and stop requests in arrival order. After
// refuseControl it drops them, so nothing starts once shutdown has detached
// the pipeline.
func (c *wsConnection) controlLoop(p *pipeline.Pipeline) {
	defer close(c.controlDone)
	for env := range c.control {
		c.controlMu.Lock()
		if !c.refused {
			c.handleControl(p, env)
		}
		c.controlMu.Unlock()
	}
}

func (c *wsConnection) refuseControl() {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	c.refused = true
}

func (c *wsConnection) handleControl(p *pipeline.Pipeline, env clientEnvelope) {
	switch env.Event {
	case eventStart:
		var payload startPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				c.PublishError("invalid start_transcription payload")
				return
			}
		}
		req := pipeline.StartRequest{
			SourceLang: firstNonEmpty(payload.FromLang, c.server.cfg.DefaultSourceLanguage),
			TargetLang: firstNonEmpty(payload.ToLang, c.server.cfg.DefaultTargetLanguage),
			Speak:      payload.TTS,
		}
		if err := p.Start(context.Background(), req); err != nil {
			slog.Warn("start_transcription failed", "error", err, "conn_id", c.id)
		}
	case eventStop:
		ctx, cancel := context.WithTimeout(context.Background(), detachStopWait)
		defer cancel()
		if err := p.Stop(ctx); err != nil {
			slog.Warn("stop_transcription failed", "error", err, "conn_id", c.id)
		}
	}
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Warn("websocket write failed", "error", err, "conn_id", c.id, "event", msg.Event)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes messages queued before close, such as the final stopped status.
func (c *wsConnection) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsConnection) enqueue(event string, data any) {
	select {
	case c.send <- serverEnvelope{Event: event, Data: data}:
	case <-c.done:
	}
}

func (c *wsConnection) PublishStatus(status pipeline.Status) {
	c.enqueue(eventStatus, statusPayload{Status: string(status)})
}

func (c *wsConnection) PublishInterim(interim pipeline.Interim) {
	c.enqueue(eventInterim, interimPayload{Transcription: interim.Transcription})
}

func (c *wsConnection) PublishResult(result pipeline.Result) {
	c.enqueue(eventUpdate, updatePayload{
		Transcription:    result.Transcription,
		Translation:      result.Translation,
		TranslationError: result.TranslationError,
	})
}

func (c *wsConnection) PublishError(message string) {
	c.enqueue(eventError, errorPayload{Message: message})
}

func (c *wsConnection) PublishSpeech(speech synthesizer.Speech) {
	c.enqueue(eventSpeechAudio, speechPayload{
		AudioData:   base64.StdEncoding.EncodeToString(speech.Audio),
		ContentType: speech.ContentType,
		Language:    speech.Language,
	})
}
