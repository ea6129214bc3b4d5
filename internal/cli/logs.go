package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftlabs/meshbond/internal/config"
)

func newLogsCmd() *cobra.Command {
	var (
		configPath string
		file       string
		follow     bool
		level      string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := config.LoadOrDefault(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				path = cfg.Daemon.LogFile
			}
			if path == "" {
				return errors.New("no log file configured; set daemon.log_file or pass --file")
			}

			minLevel, err := parseLevel(level)
			if err != nil {
				return err
			}
			return tailLogs(cmd, path, follow, minLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", envOr("MESHBOND_CONFIG", defaultConfigPath),
		"path to the config file")
	cmd.Flags().StringVar(&file, "file", "", "log file to read (overrides the configured path)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep the file open and print new lines as they appear")
	cmd.Flags().StringVarP(&level, "level", "l", "debug", "minimum level to print (debug, info, warn, error)")
	return cmd
}

// Log lines carry the tint level tokens. Lines without a recognizable
// token (wrapped stack traces etc.) are always printed.
var levelTokens = map[string]int{"DBG": 0, "INF": 1, "WRN": 2, "ERR": 3}

func parseLevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "debug":
		return 0, nil
	case "info":
		return 1, nil
	case "warn", "warning":
		return 2, nil
	case "error":
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

func lineLevel(line string) (int, bool) {
	for token, rank := range levelTokens {
		if strings.Contains(line, " "+token+" ") {
			return rank, true
		}
	}
	return 0, false
}

func tailLogs(cmd *cobra.Command, path string, follow bool, minLevel int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if rank, ok := lineLevel(line); !ok || rank >= minLevel {
				fmt.Print(line)
			}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read log file: %w", err)
		}
		if !follow {
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}
