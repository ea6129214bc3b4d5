package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/weftlabs/meshbond/internal/config"
	"github.com/weftlabs/meshbond/internal/runtime"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "/etc/meshbond/config.json", "path to the config file")
		verbose     = pflag.BoolP("verbose", "v", false, "set debug logging level")
		showVersion = pflag.Bool("version", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("meshbondd %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	_ = godotenv.Load()

	if env := os.Getenv("MESHBOND_CONFIG"); env != "" && !pflag.CommandLine.Changed("config") {
		*configPath = env
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := newLogger(*verbose, cfg.Daemon.LogFile)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting meshbondd",
		"version", version,
		"config", *configPath,
		"socket", cfg.Daemon.Socket,
	)
	if err := runtime.Run(ctx, logger, cfg); err != nil {
		log.Fatalf("daemon exited with error: %v", err)
	}
}

func newLogger(verbose bool, logFile string) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	cleanup := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		cleanup = func() { f.Close() }
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    logFile != "",
		TimeFormat: time.RFC3339,
	})), cleanup, nil
}
