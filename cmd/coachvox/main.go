// Command coachvox is the voice session client for the game coaching
// service: it listens for a wake phrase, captures the spoken question,
// streams it to the analysis service and plays back the synthesized answer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pkarolyi/coachvox/internal/app"
	"github.com/pkarolyi/coachvox/internal/config"
	"github.com/pkarolyi/coachvox/internal/observe"
	"github.com/pkarolyi/coachvox/pkg/recog"
	"github.com/pkarolyi/coachvox/pkg/recog/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration (watched for live reload) ───────────────────────────
	levelVar := new(slog.LevelVar)

	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		levelVar.Set(new.Server.LogLevel.Slog())
		if application != nil {
			application.ApplyConfig(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "coachvox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "coachvox: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(cfg.Server.LogLevel.Slog())
	logger := newLogger(cfg.Server.LogFile, levelVar)
	slog.SetDefault(logger)

	slog.Info("coachvox starting",
		"config", *configPath,
		"service", cfg.Service.URL,
		"recognizer", cfg.Recognizer.Name,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Recognizer registry ───────────────────────────────────────────────────
	registry := config.NewRegistry()
	registerRecognizers(registry)

	// ── Application ───────────────────────────────────────────────────────────
	application, err = app.New(cfg, registry,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithResultSink(printAnalysis),
		app.WithTranscriptSink(printTranscript),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown()

	go watcher.Run(ctx)

	slog.Info("ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerRecognizers wires the built-in recognition provider factories.
func registerRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("deepgram", func(entry config.RecognizerConfig) (recog.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
}

// printAnalysis renders a coaching response to stdout. The payload is either
// a plain string or a structured object; both are printed readably.
func printAnalysis(analysis json.RawMessage) {
	var text string
	if err := json.Unmarshal(analysis, &text); err == nil {
		fmt.Printf("\ncoach: %s\n", text)
		return
	}
	fmt.Printf("\ncoach: %s\n", analysis)
}

// printTranscript shows what the recognizer heard. Interim fragments
// overwrite the current line; finals commit it.
func printTranscript(text string, final bool) {
	if final {
		fmt.Printf("\ryou: %s\n", text)
		return
	}
	fmt.Printf("\ryou: %s", text)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. With a log file configured, output
// goes to a size-rotated file; otherwise to stderr.
func newLogger(logFile string, level slog.Leveler) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
