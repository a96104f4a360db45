package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/tsuyaku/external/config"
	"github.com/foxseedlab/tsuyaku/external/httpserver"
	recognizerimpl "github.com/foxseedlab/tsuyaku/external/recognizer"
	repositoryimpl "github.com/foxseedlab/tsuyaku/external/repository"
	synthesizerimpl "github.com/foxseedlab/tsuyaku/external/synthesizer"
	translatorimpl "github.com/foxseedlab/tsuyaku/external/translator"
	webhookimpl "github.com/foxseedlab/tsuyaku/external/webhook"
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/repository"
	"github.com/foxseedlab/tsuyaku/internal/session"
	"github.com/samber/do/v2"
)

const (
	orphanRecoveryTimeout = 15 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "ledger", cfg.HasLedger(), "tts", cfg.TTSEnabled)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching http server")
	runServer(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	recognizerimpl.RegisterDI(injector)
	translatorimpl.RegisterDI(injector)
	synthesizerimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

func runServer(cfg *config.Config, injector do.Injector) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to resolve session repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	server, err := do.Invoke[*httpserver.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}
	tts, err := do.Invoke[*synthesizerimpl.CloudTTS](injector)
	if err != nil {
		slog.Error("failed to resolve speech synthesizer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tts.Close(); err != nil {
			slog.Error("speech synthesizer close failed", "error", err)
		}
	}()

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), orphanRecoveryTimeout)
	if err := manager.RecoverOrphans(recoverCtx); err != nil {
		slog.Error("orphaned session recovery failed", "error", err)
	}
	cancelRecover()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session manager shutdown failed", "error", err)
	}
}
