// Package cli implements the meshbond operator command tree. Every
// command except start talks to a running daemon over its unix socket.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const defaultSocket = "/tmp/meshbondd.sock"

// Run executes the command tree and returns the process exit code.
func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:           "meshbond",
		Short:         "Multi-path connection bonding engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	var socket string
	rootCmd.PersistentFlags().StringVar(&socket, "socket", envOr("MESHBOND_SOCKET", defaultSocket),
		"path to the daemon control socket")

	rootCmd.AddCommand(
		newStartCmd(&verbose),
		newStatusCmd(&socket),
		newStatsCmd(&socket),
		newLogsCmd(),
		newTestCmd(&socket),
		newFailoverCmd(&socket),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
