package quality_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/platform"
	"github.com/weftlabs/meshbond/internal/quality"
)

func healthyNode() node.Node {
	return node.Node{
		ID:      "node-1",
		Address: "192.168.1.10",
		Interfaces: []node.Interface{
			{Name: "eth0", Kind: node.KindWired, Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
			{Name: "wlan0", Kind: node.KindWireless, Quality: node.Quality{BandwidthMbps: 50, LatencyMs: 30}},
		},
	}
}

func TestReportTotals(t *testing.T) {
	t.Parallel()

	c := newCollector(t, &fakeProber{}, 10)
	r := c.Report(healthyNode(), 2)

	require.Equal(t, "node-1", r.NodeID)
	require.Equal(t, 3, r.TotalNodes, "local node counts itself")
	require.InDelta(t, 150, r.TotalBandwidthMbps, 1e-9)
	require.InDelta(t, 20, r.AverageLatencyMs, 1e-9)
	require.Len(t, r.Interfaces, 2)
	require.False(t, r.GeneratedAt.IsZero())
}

func TestReportSkipsZeroLatencyInAverage(t *testing.T) {
	t.Parallel()

	local := healthyNode()
	local.Interfaces = append(local.Interfaces, node.Interface{
		Name:    "ppp0",
		Quality: node.Quality{BandwidthMbps: 10},
	})

	c := newCollector(t, &fakeProber{}, 10)
	r := c.Report(local, 2)

	require.InDelta(t, 20, r.AverageLatencyMs, 1e-9, "unmeasured interfaces do not drag the average to zero")
	require.InDelta(t, 160, r.TotalBandwidthMbps, 1e-9)
}

func TestReportRecommendations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		local     node.Node
		peerCount int
		want      []string
	}{
		{
			name:      "healthy mesh has no advisories",
			local:     healthyNode(),
			peerCount: 2,
			want:      nil,
		},
		{
			name: "high latency interface",
			local: node.Node{Interfaces: []node.Interface{
				{Name: "ppp0", Quality: node.Quality{LatencyMs: 150}},
				{Name: "eth0", Quality: node.Quality{LatencyMs: 10}},
			}},
			peerCount: 2,
			want: []string{
				"High latency on ppp0: consider failing over",
				"High average latency: optimize routing",
			},
		},
		{
			name: "lossy interface",
			local: node.Node{Interfaces: []node.Interface{
				{Name: "wlan0", Quality: node.Quality{LatencyMs: 20, LossPct: 8}},
			}},
			peerCount: 2,
			want:      []string{"Packet loss on wlan0: investigate connection quality"},
		},
		{
			name:      "alone in the mesh",
			local:     healthyNode(),
			peerCount: 0,
			want:      []string{"Low mesh redundancy: fewer than 2 nodes visible"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newCollector(t, &fakeProber{}, 10)
			r := c.Report(tt.local, tt.peerCount)
			require.Equal(t, tt.want, r.Recommendations)
		})
	}
}

func TestReportCarriesHistoryDerivedBlocks(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		latency: map[string]time.Duration{"8.8.8.8": 10 * time.Millisecond, "1.1.1.1": 10 * time.Millisecond},
		jitter:  platform.ProbeStats{Sent: 5, Received: 5},
		loss:    platform.ProbeStats{Sent: 10, Received: 10},
	}
	c := newCollector(t, prober, 10)
	c.Sample(context.Background(), node.Interface{Name: "eth0"})

	r := c.Report(healthyNode(), 2)

	var eth0 quality.InterfaceReport
	for _, block := range r.Interfaces {
		if block.Name == "eth0" {
			eth0 = block
		}
	}
	require.InDelta(t, 10, eth0.Average.LatencyMs, 1e-9)
	require.InDelta(t, 10, eth0.Peak.LatencyMs, 1e-9)
}
