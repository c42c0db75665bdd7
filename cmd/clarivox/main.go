// Command clarivox is the main entry point for the Clarivox transcript
// cleaning service.
//
// It runs in three modes:
//
//	clarivox visit1.yaml visit2.json   # batch: clean transcript files, print JSON
//	clarivox -serve                    # HTTP server: MCP, metrics, health
//	clarivox -mcp                      # MCP server on stdin/stdout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/hmorven/clarivox/internal/app"
	"github.com/hmorven/clarivox/internal/config"
	"github.com/hmorven/clarivox/internal/health"
	"github.com/hmorven/clarivox/internal/mcpserver"
	"github.com/hmorven/clarivox/internal/observe"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serve := flag.Bool("serve", false, "run the HTTP server (MCP, metrics, health)")
	mcpStdio := flag.Bool("mcp", false, "run as an MCP server on stdin/stdout")
	outPath := flag.String("out", "", "write batch results to this file instead of stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clarivox: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clarivox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it without
	// swapping the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("clarivox starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "clarivox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := app.NewRegistry(cfg)
	recognizer, err := reg.CreateRecognizer(cfg.Recognizer)
	if err != nil {
		slog.Error("failed to create recognizer", "name", cfg.Recognizer.Name, "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, &app.Providers{Recognizer: recognizer})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	var exit int
	switch {
	case *serve:
		exit = runServe(ctx, cfg, *configPath, application, logLevel)
	case *mcpStdio:
		exit = runMCPStdio(ctx, application)
	default:
		exit = runBatch(ctx, application, flag.Args(), *outPath)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return exit
}

// ── Batch mode ────────────────────────────────────────────────────────────────

// runBatch cleans each transcript file and writes the results as a JSON
// array. A path of "-" reads a single transcript from stdin.
func runBatch(ctx context.Context, application *app.App, paths []string, outPath string) int {
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "clarivox: no transcript files given (or use -serve / -mcp)")
		return 2
	}

	transcripts := make([]dialogue.Transcript, 0, len(paths))
	for _, path := range paths {
		t, err := loadTranscript(path)
		if err != nil {
			slog.Error("failed to load transcript", "path", path, "err", err)
			return 1
		}
		transcripts = append(transcripts, t)
	}

	results, err := application.ProcessBatch(ctx, transcripts)
	if err != nil {
		slog.Error("processing failed", "err", err)
		return 1
	}

	out := os.Stdout
	if outPath != "" && outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			slog.Error("failed to create output file", "path", outPath, "err", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		slog.Error("failed to encode results", "err", err)
		return 1
	}

	for _, res := range results {
		for _, f := range res.Flags {
			slog.Warn("safety flag raised",
				"transcript_id", res.TranscriptID,
				"turn", f.Turn,
				"rule", f.Rule,
			)
		}
	}
	return 0
}

// loadTranscript reads one transcript from a YAML or JSON file. "-" reads
// JSON from stdin.
func loadTranscript(path string) (dialogue.Transcript, error) {
	var t dialogue.Transcript

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return t, err
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	default:
		err = json.Unmarshal(data, &t)
	}
	if err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	if t.ID == "" {
		t.ID = filepath.Base(path)
	}
	return t, nil
}

// ── Serve mode ────────────────────────────────────────────────────────────────

// runServe exposes the pipeline over HTTP: the MCP endpoint at /mcp,
// Prometheus metrics at /metrics, and health probes. The config file is
// watched for changes; log level and pipeline lexicons reload without a
// restart.
func runServe(ctx context.Context, cfg *config.Config, configPath string, application *app.App, logLevel *slog.LevelVar) int {
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	var checkers []health.Checker
	if application.Results() != nil {
		checkers = append(checkers, health.StoreChecker(application.Results()))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/mcp", mcpserver.New(application).HTTPHandler())
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.PipelineChanged {
			application.ApplyConfig(new)
		}
		if diff.ServerChanged || diff.StorageChanged {
			slog.Warn("server or storage config changed — restart required to apply")
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Listen ────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr, "tls", cfg.Server.TLS != nil)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	return 0
}

// ── MCP stdio mode ────────────────────────────────────────────────────────────

func runMCPStdio(ctx context.Context, application *app.App) int {
	slog.Info("mcp server on stdio")
	if err := mcpserver.New(application).ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
