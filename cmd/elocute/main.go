// Command elocute is the main entry point for the elocute engagement server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/elocute/elocute/internal/app"
	"github.com/elocute/elocute/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A .env file next to the binary can supply the ELOCUTE_* overrides.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "elocute: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "elocute: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var is shared with the app so a config reload can adjust
	// verbosity without a restart.
	level := &slog.LevelVar{}
	level.Set(cfg.Server.LogLevel.Level())

	logger, closeLog := newLogger(cfg.Server, level)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("elocute starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLogLevel(level),
		app.WithConfigFile(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = ":8080"
	}
	logFile := cfg.Server.LogFile
	if logFile == "" {
		logFile = "(stderr only)"
	}
	watch := "off"
	if cfg.Server.WatchConfig {
		watch = "on"
	}

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        elocute — startup summary       ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Detector tiers", tierSummary(cfg.Detector.Tiers))
	printRow("Video rate", fmt.Sprintf("%d Hz", orInt(cfg.Session.VideoSampleHz, 12)))
	printRow("Audio rate", fmt.Sprintf("%d Hz", orInt(cfg.Session.AudioSampleHz, 20)))
	printRow("Stream cadence", fmt.Sprintf("%d ms", orInt(cfg.Server.StreamIntervalMS, 250)))
	printRow("Config watch", watch)
	printRow("Log file", logFile)
	printRow("Listen addr", listen)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// tierSummary renders the configured tier chain for the summary box.
func tierSummary(tiers []config.TierConfig) string {
	if len(tiers) == 0 {
		return "(synthetic only)"
	}
	types := make([]string, len(tiers))
	for i, t := range tiers {
		types[i] = string(t.Type)
	}
	return strings.Join(types, ", ")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. When server.log_file is set the output
// additionally goes to a size-rotated file. The returned func closes the file
// writer, if any.
func newLogger(server config.ServerConfig, level *slog.LevelVar) (*slog.Logger, func()) {
	var out io.Writer = os.Stderr
	closeLog := func() {}

	if server.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   server.LogFile,
			MaxSize:    server.LogFileMaxSizeMB,
			MaxBackups: server.LogFileMaxBackups,
		}
		out = io.MultiWriter(os.Stderr, rotated)
		closeLog = func() { _ = rotated.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeLog
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// orInt returns v unless it is zero, in which case it returns def. Used to
// display effective values for settings that default at their point of use.
func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
