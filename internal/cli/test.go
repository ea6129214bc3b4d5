package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTestCmd(socket *string) *cobra.Command {
	var durationS int

	cmd := &cobra.Command{
		Use:   "test <interface>",
		Short: "Run an on-demand quality test against one interface.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iface := args[0]
			fmt.Printf("Testing %s for %ds...\n", iface, durationS)

			result, err := NewClient(*socket).Test(cmd.Context(), iface, time.Duration(durationS)*time.Second)
			if err != nil {
				return err
			}

			fmt.Printf("Samples:   %d\n", len(result.Samples))
			fmt.Printf("Bandwidth: %.1f Mbps\n", result.Average.BandwidthMbps)
			fmt.Printf("Latency:   %.1f ms\n", result.Average.LatencyMs)
			fmt.Printf("Jitter:    %.1f ms\n", result.Average.JitterMs)
			fmt.Printf("Loss:      %.1f%%\n", result.Average.LossPct)
			return nil
		},
	}

	cmd.Flags().IntVarP(&durationS, "duration", "d", 10, "test duration in seconds")
	return cmd
}
