package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/batch"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/convert"
	"github.com/MikeSquared-Agency/scribe/internal/dedupe"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const usage = `usage: scribe <command> [flags]

commands:
  convert   convert one transcript file to a conversation record
  batch     convert a directory of transcripts into a dataset
  serve     run the NATS + HTTP service (default)
`

func main() {
	cfg := config.Load()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	// stdout carries command output everywhere except serve.
	logOut := os.Stderr
	if cmd == "serve" {
		logOut = os.Stdout
	}
	setupLogging(cfg.LogLevel, logOut)

	var err error
	switch cmd {
	case "convert":
		err = runConvert(cfg, args)
	case "batch":
		err = runBatch(cfg, args)
	case "serve":
		err = runServe(cfg)
	case "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		slog.Error("scribe failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func runConvert(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	in := fs.String("i", "", "input transcript path (- for stdin)")
	out := fs.String("o", "", "output JSON path (- or empty for stdout)")
	speaker := fs.String("a", cfg.AssistantSpeaker, "assistant speaker id, e.g. 00 (or SCRIBE_ASSISTANT_SPEAKER)")
	system := fs.String("system", cfg.SystemContext, "system context (or SCRIBE_SYSTEM_CONTEXT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("%w: convert requires -i", errUsage)
	}
	if *speaker == "" {
		return fmt.Errorf("%w: convert requires -a", errUsage)
	}

	if *in == "-" {
		if *out == "" || *out == "-" {
			return convert.Convert(os.Stdin, os.Stdout, *speaker, *system)
		}
		return convert.ConvertToFile(os.Stdin, *out, *speaker, *system)
	}

	dst := *out
	if dst == "-" {
		dst = ""
	}
	s, err := convert.ConvertFile(*in, *speaker, dst, *system)
	if err != nil {
		return err
	}
	if dst == "" {
		fmt.Fprintln(os.Stdout, s)
	}
	return nil
}

func runBatch(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	bc := batch.Config{}
	fs.StringVar(&bc.InputDir, "in", "", "directory of transcripts")
	fs.StringVar(&bc.OutputDir, "out", "", "directory for per-transcript JSON records")
	fs.StringVar(&bc.DatasetPath, "dataset", "", "JSON Lines dataset to append to")
	fs.StringVar(&bc.ManifestPath, "manifest", "", "YAML manifest with per-file settings")
	fs.StringVar(&bc.Pattern, "pattern", "*.txt", "file name glob")
	fs.StringVar(&bc.AssistantSpeaker, "a", cfg.AssistantSpeaker, "default assistant speaker id")
	fs.StringVar(&bc.SystemContext, "system", cfg.SystemContext, "default system context")
	fs.IntVar(&bc.MinTurns, "min-turns", 0, "skip conversations with fewer non-system messages")
	fs.StringVar(&bc.StatePath, "state", cfg.StatePath, "resumable state file")
	fs.BoolVar(&bc.DryRun, "dry-run", false, "parse only, write nothing")
	persist := fs.Bool("persist", false, "store conversations in Postgres (DATABASE_URL)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if bc.InputDir == "" {
		return fmt.Errorf("%w: batch requires -in", errUsage)
	}
	if bc.OutputDir == "" && bc.DatasetPath == "" && !*persist && !bc.DryRun {
		return fmt.Errorf("%w: batch needs at least one of -out, -dataset, -persist or -dry-run", errUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var persister batch.Persister
	if *persist && !bc.DryRun {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("%w: -persist requires DATABASE_URL", errUsage)
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		persister = db
	}

	var notifier batch.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
	}

	summary, err := batch.NewRunner(bc, persister, notifier, slog.Default()).Run(ctx)
	if summary != nil {
		fmt.Fprint(os.Stdout, batch.FormatSummary(summary))
	}
	return err
}

func runServe(cfg config.Config) error {
	slog.Info("scribe starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database (optional: without it conversations are published but not stored)
	var db *store.Store
	var apiStore api.ConversationStore
	var persister processor.Persister
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		apiStore, persister = db, db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, conversations will not be persisted")
	}

	// Redis dedupe guard (optional)
	var guard dedupe.Guard = dedupe.NewMemory()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		guard = dedupe.NewRedis(rdb, "scribe:transcript:", 24*time.Hour)
		slog.Info("redis connected")
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	proc := processor.New(persister, hermesClient, guard, slog.Default())
	if err := hermesClient.Subscribe(hermes.SubjectTranscriptSubmitted, proc.HandleTranscriptSubmitted); err != nil {
		return err
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, apiStore)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"persist":   db != nil,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("scribe ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	slog.Info("scribe stopped")
	return nil
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
