package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	audioimpl "github.com/foxseedlab/tsuyaku/external/audio"
	configloader "github.com/foxseedlab/tsuyaku/external/config"
	recognizerimpl "github.com/foxseedlab/tsuyaku/external/recognizer"
	repositoryimpl "github.com/foxseedlab/tsuyaku/external/repository"
	synthesizerimpl "github.com/foxseedlab/tsuyaku/external/synthesizer"
	"github.com/foxseedlab/tsuyaku/external/terminal"
	translatorimpl "github.com/foxseedlab/tsuyaku/external/translator"
	webhookimpl "github.com/foxseedlab/tsuyaku/external/webhook"
	"github.com/foxseedlab/tsuyaku/internal/audio"
	"github.com/foxseedlab/tsuyaku/internal/config"
	"github.com/foxseedlab/tsuyaku/internal/pipeline"
	"github.com/foxseedlab/tsuyaku/internal/repository"
	"github.com/foxseedlab/tsuyaku/internal/session"
	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

const stopTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:          "tsuyaku-terminal",
	Short:        "Translate live speech from the microphone in the terminal",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().String("from", "", "Spoken language, e.g. en-US")
	rootCmd.Flags().String("to", "", "Target language, e.g. es")
	rootCmd.Flags().Bool("stdin", false, "Read raw 16 kHz mono s16le PCM from stdin instead of the microphone")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := configloader.Load()
	if err != nil {
		return err
	}
	logFile, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	useStdin, _ := cmd.Flags().GetBool("stdin")
	if useStdin && (from == "" || to == "") {
		// stdin carries audio, so the form cannot read answers from it
		from = firstNonEmpty(from, cfg.DefaultSourceLanguage)
		to = firstNonEmpty(to, cfg.DefaultTargetLanguage)
	}
	if err := terminal.PromptLanguages(&from, &to, cfg.DefaultSourceLanguage, cfg.DefaultTargetLanguage); err != nil {
		return err
	}
	slog.Info("terminal starting", "source_lang", from, "target_lang", to, "stdin", useStdin)

	injector := setupDI(cfg)
	repo := do.MustInvoke[repository.Repository](injector)
	defer repo.Close()
	manager := do.MustInvoke[*session.Manager](injector)
	factory := do.MustInvoke[audio.SourceFactory](injector)

	source, err := factory(audio.ParseInputKind(useStdin))
	if err != nil {
		return fmt.Errorf("open audio input: %w", err)
	}
	defer source.Close()

	program := tea.NewProgram(terminal.NewModel(from, to), tea.WithAltScreen())
	connID := "terminal-" + uuid.NewString()
	p, err := manager.Attach(connID, terminal.NewSink(program))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go capture(ctx, p, source, pipeline.StartRequest{SourceLang: from, TargetLang: to})
	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, runErr := program.Run()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	manager.Detach(shutdownCtx, connID)
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session manager shutdown failed", "error", err)
	}
	if runErr != nil {
		return fmt.Errorf("terminal ui: %w", runErr)
	}
	return nil
}

// capture runs one recognition session for the life of the audio input. When
// the input ends (stdin EOF) the session is stopped so pending finals flush.
func capture(ctx context.Context, p *pipeline.Pipeline, source audio.Source, req pipeline.StartRequest) {
	if err := p.Start(ctx, req); err != nil {
		slog.Error("pipeline start failed", "error", err)
		return
	}
	if err := source.Stream(ctx, func(chunk []byte) { p.PushAudio(chunk) }); err != nil {
		slog.Error("audio capture failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		slog.Warn("pipeline stop failed", "error", err)
	}
}

func initLogger(cfg *config.Config) (*os.File, error) {
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: logLevel})))
	return f, nil
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	recognizerimpl.RegisterDI(injector)
	translatorimpl.RegisterDI(injector)
	synthesizerimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
