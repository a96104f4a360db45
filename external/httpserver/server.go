package httpserver

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/recognition"
	"github.com/foxseedlab/tsuyaku/internal/session"
	"github.com/foxseedlab/tsuyaku/internal/synthesizer"
	"github.com/foxseedlab/tsuyaku/internal/translation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 20 * time.Second

//go:embed static
var staticFiles embed.FS

type Server struct {
	cfg         *config.Config
	manager     *session.Manager
	backend     recognition.Backend
	translator  translation.Translator
	synthesizer synthesizer.Synthesizer
	router      chi.Router
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConnection
}

func NewServer(cfg *config.Config, manager *session.Manager, backend recognition.Backend, tr translation.Translator, synth synthesizer.Synthesizer) *Server {
	s := &Server{
		cfg:         cfg,
		manager:     manager,
		backend:     backend,
		translator:  tr,
		synthesizer: synth,
		conns:       make(map[string]*wsConnection),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/recognize", s.handleRecognize)
	r.Post("/translate", s.handleTranslate)
	r.Post("/detect", s.handleDetect)
	r.Post("/synthesize", s.handleSynthesize)
	r.Get("/ws", s.handleWebSocket)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(static)))
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) trackConnection(c *wsConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) untrackConnection(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) openConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseConnections stops every websocket's pipeline, so the final stopped
// status is queued, and then closes the socket. http.Server.Shutdown does not
// touch hijacked connections.
func (s *Server) CloseConnections(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*wsConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.refuseControl()
			s.manager.Detach(ctx, c.id)
			c.close()
		}()
	}
	wg.Wait()
}

// waitForHandlers blocks until every websocket handler has returned.
func (s *Server) waitForHandlers(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.openConnections() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %d websocket handler(s): %w", s.openConnections(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr)
		}()
		next.ServeHTTP(ww, r)
	})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.CloseConnections(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.waitForHandlers(shutdownCtx)
}
