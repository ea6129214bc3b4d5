package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/weftlabs/meshbond/internal/quality"
)

func newStatsCmd(socket *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the performance report, or export it as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := NewClient(*socket).Stats(cmd.Context())
			if err != nil {
				return err
			}
			if output != "" {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
				if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				fmt.Println("Report written to", output)
				return nil
			}
			renderStats(report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a JSON file instead of rendering it")
	return cmd
}

func renderStats(r quality.Report) {
	fmt.Printf("Node:            %s\n", r.NodeID)
	fmt.Printf("Mesh nodes:      %d\n", r.TotalNodes)
	fmt.Printf("Total bandwidth: %.1f Mbps\n", r.TotalBandwidthMbps)
	fmt.Printf("Average latency: %.1f ms\n", r.AverageLatencyMs)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Interface", "Kind", "Bandwidth", "Latency", "Avg Latency", "Peak BW", "Loss", "Data Used"})
	for _, ifc := range r.Interfaces {
		table.Append([]string{
			ifc.Name,
			string(ifc.Kind),
			fmt.Sprintf("%.1f Mbps", ifc.Current.BandwidthMbps),
			fmt.Sprintf("%.1f ms", ifc.Current.LatencyMs),
			fmt.Sprintf("%.1f ms", ifc.Average.LatencyMs),
			fmt.Sprintf("%.1f Mbps", ifc.Peak.BandwidthMbps),
			fmt.Sprintf("%.1f%%", ifc.Current.LossPct),
			dataUsage(ifc),
		})
	}
	table.Render()

	if len(r.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Println("  -", rec)
		}
	}
}

func dataUsage(ifc quality.InterfaceReport) string {
	if ifc.DataCapMB > 0 {
		return fmt.Sprintf("%.0f/%.0f MB", ifc.DataUsedMB, ifc.DataCapMB)
	}
	return fmt.Sprintf("%.0f MB", ifc.DataUsedMB)
}
