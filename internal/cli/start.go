package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/weftlabs/meshbond/internal/config"
	"github.com/weftlabs/meshbond/internal/runtime"
)

const defaultConfigPath = "/etc/meshbond/config.json"

func newStartCmd(verbose *bool) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the bonding daemon in the foreground.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, closeLog, err := daemonLogger(*verbose, cfg.Daemon.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting meshbond daemon",
				"config", configPath,
				"socket", cfg.Daemon.Socket,
				"port", cfg.NodeDiscovery.Port,
			)
			return runtime.Run(ctx, log, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", envOr("MESHBOND_CONFIG", defaultConfigPath),
		"path to the config file")
	return cmd
}

// daemonLogger tees logs to stdout and, when configured, the daemon log
// file so `meshbond logs` has something to read.
func daemonLogger(verbose bool, logFile string) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeLog = func() { f.Close() }
	}

	log := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    logFile != "",
		TimeFormat: time.RFC3339,
	}))
	return log, closeLog, nil
}
