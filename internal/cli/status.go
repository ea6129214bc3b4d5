package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/weftlabs/meshbond/internal/mesh"
)

func newStatusCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's mesh and failover status.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := NewClient(*socket).Status(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(st)
			return nil
		},
	}
}

func renderStatus(st mesh.Status) {
	fmt.Printf("Node:     %s (%s)\n", st.Local.ID, st.Local.Address)
	fmt.Printf("State:    %s\n", st.Failover.State)
	fmt.Printf("Primary:  %s\n", st.Failover.Primary)
	fmt.Printf("Mode:     %s\n", st.Mode)
	if !st.StartedAt.IsZero() {
		fmt.Printf("Uptime:   %s\n", time.Since(st.StartedAt).Round(time.Second))
	}
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Interface", "Kind", "Active", "Bandwidth", "Latency", "Loss", "Weight", "Queue"})
	for _, ifc := range st.Local.Interfaces {
		var queue string
		if q, ok := st.Queues[ifc.Name]; ok {
			queue = fmt.Sprintf("%d (%d dropped)", q.Depth, q.Dropped)
		}
		table.Append([]string{
			ifc.Name,
			string(ifc.Kind),
			strconv.FormatBool(ifc.Active),
			fmt.Sprintf("%.1f Mbps", ifc.Quality.BandwidthMbps),
			fmt.Sprintf("%.1f ms", ifc.Quality.LatencyMs),
			fmt.Sprintf("%.1f%%", ifc.Quality.LossPct),
			fmt.Sprintf("%.2f", st.Weights[ifc.Name]),
			queue,
		})
	}
	table.Render()

	if len(st.Peers) > 0 {
		fmt.Println()
		peers := tablewriter.NewWriter(os.Stdout)
		peers.SetHeader([]string{"Peer", "Address", "Interfaces", "Last Seen"})
		for _, p := range st.Peers {
			peers.Append([]string{
				p.ID,
				p.Address,
				strconv.Itoa(len(p.Interfaces)),
				p.LastSeen.Format(time.RFC3339),
			})
		}
		peers.Render()
	}

	if len(st.Failover.Events) > 0 {
		fmt.Println("\nRecent events:")
		for _, ev := range st.Failover.Events {
			fmt.Printf("  %s  %-20s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Interface)
		}
	}
}
