package aggregator_test

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/aggregator"
	"github.com/weftlabs/meshbond/internal/node"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeInterfaces() []node.Interface {
	return []node.Interface{
		{Name: "eth0", Kind: node.KindWired, Active: true,
			Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
		{Name: "wlan0", Kind: node.KindWireless, Active: true,
			Quality: node.Quality{BandwidthMbps: 50, LatencyMs: 25}},
		{Name: "ppp0", Kind: node.KindCellular, Active: true,
			Quality: node.Quality{BandwidthMbps: 15, LatencyMs: 45}},
	}
}

func newAggregator(t *testing.T, cfg *aggregator.Config, ifaces []node.Interface) *aggregator.Aggregator {
	t.Helper()
	if cfg == nil {
		cfg = &aggregator.Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(42))
	}
	a, err := aggregator.New(cfg)
	require.NoError(t, err)
	a.Initialize(ifaces)
	return a
}

func TestWeights_SumToOne(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())

	weights := a.Weights()
	require.Len(t, weights, 3)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	require.Greater(t, weights["eth0"], weights["wlan0"])
	require.Greater(t, weights["wlan0"], weights["ppp0"])
}

func TestWeights_EmptyWhenNoneQualify(t *testing.T) {
	t.Parallel()

	ifaces := []node.Interface{
		{Name: "eth0", Active: false, Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
		{Name: "wlan0", Active: true, Quality: node.Quality{BandwidthMbps: 0, LatencyMs: 25}},
		{Name: "ppp0", Active: true, Quality: node.Quality{BandwidthMbps: 15, LatencyMs: node.LatencySentinel}},
	}
	a := newAggregator(t, nil, ifaces)

	require.Empty(t, a.Weights())
}

func TestWeights_SentinelLatencyDisqualifies(t *testing.T) {
	t.Parallel()

	ifaces := threeInterfaces()
	ifaces[2].Quality.LatencyMs = node.LatencySentinel
	a := newAggregator(t, nil, ifaces)

	weights := a.Weights()
	require.NotContains(t, weights, "ppp0")
	require.Len(t, weights, 2)
}

func TestMode_AutoSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ifaces []node.Interface
		want   aggregator.Mode
	}{
		{
			name:   "three active picks load_balance",
			ifaces: threeInterfaces(),
			want:   aggregator.ModeLoadBalance,
		},
		{
			name: "one active picks failover",
			ifaces: []node.Interface{
				{Name: "eth0", Active: true, Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
				{Name: "wlan0", Active: false},
			},
			want: aggregator.ModeFailover,
		},
		{
			name:   "none active picks failover",
			ifaces: []node.Interface{{Name: "eth0", Active: false}},
			want:   aggregator.ModeFailover,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newAggregator(t, nil, tt.ifaces)
			require.Equal(t, tt.want, a.Mode())
		})
	}
}

func TestMode_AdaptivePinnedByConfig(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, &aggregator.Config{Mode: aggregator.ModeAdaptive}, threeInterfaces())
	require.Equal(t, aggregator.ModeAdaptive, a.Mode())

	// Auto-switching never leaves a configured adaptive mode.
	a.Optimize(threeInterfaces()[:1])
	require.Equal(t, aggregator.ModeAdaptive, a.Mode())
}

// Scenario: 1000 seeded load-balance selections across three interfaces
// choose every interface at least once, ordered by weight.
func TestSelect_LoadBalance_Distribution(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, &aggregator.Config{Rand: rand.New(rand.NewSource(7))}, threeInterfaces())
	require.Equal(t, aggregator.ModeLoadBalance, a.Mode())

	counts := map[string]int{}
	for range 1000 {
		name, err := a.Select(0)
		require.NoError(t, err)
		counts[name]++
	}

	require.Greater(t, counts["eth0"], 0)
	require.Greater(t, counts["wlan0"], 0)
	require.Greater(t, counts["ppp0"], 0)
	require.Greater(t, counts["eth0"], counts["wlan0"])
	require.Greater(t, counts["wlan0"], counts["ppp0"])
}

func TestSelect_Failover_FirstActive(t *testing.T) {
	t.Parallel()

	ifaces := threeInterfaces()
	ifaces[0].Active = false
	a := newAggregator(t, nil, ifaces)
	require.Equal(t, aggregator.ModeLoadBalance, a.Mode())

	// Force failover semantics through a one-active snapshot.
	ifaces[1].Active = false
	a.Optimize(ifaces)
	require.Equal(t, aggregator.ModeFailover, a.Mode())

	name, err := a.Select(0)
	require.NoError(t, err)
	require.Equal(t, "ppp0", name)
}

func TestSelect_Adaptive(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, &aggregator.Config{Mode: aggregator.ModeAdaptive}, threeInterfaces())

	// Large packets go to the highest-bandwidth interface.
	name, err := a.Select(2000)
	require.NoError(t, err)
	require.Equal(t, "eth0", name)

	// Small packets go to the lowest-latency interface; eth0 wins both.
	name, err = a.Select(100)
	require.NoError(t, err)
	require.Equal(t, "eth0", name)
}

func TestSelect_Adaptive_TiesBreakBySnapshotOrder(t *testing.T) {
	t.Parallel()

	ifaces := []node.Interface{
		{Name: "eth0", Active: true, Quality: node.Quality{BandwidthMbps: 50, LatencyMs: 20}},
		{Name: "eth1", Active: true, Quality: node.Quality{BandwidthMbps: 50, LatencyMs: 20}},
	}
	a := newAggregator(t, &aggregator.Config{Mode: aggregator.ModeAdaptive}, ifaces)

	name, err := a.Select(5000)
	require.NoError(t, err)
	require.Equal(t, "eth0", name)

	name, err = a.Select(64)
	require.NoError(t, err)
	require.Equal(t, "eth0", name)
}

func TestSelect_NoRoute(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, []node.Interface{{Name: "eth0", Active: false}})

	_, err := a.Select(0)
	require.ErrorIs(t, err, aggregator.ErrNoRoute)
}

func TestSelect_FailedViewExcludesInterface(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())
	a.SetFailedView(func() map[string]bool { return map[string]bool{"eth0": true} })
	a.Optimize(threeInterfaces())

	weights := a.Weights()
	require.NotContains(t, weights, "eth0")

	for range 50 {
		name, err := a.Select(0)
		require.NoError(t, err)
		require.NotEqual(t, "eth0", name)
	}
}

// Scenario: with capacity 2, the third enqueue reports ErrQueueFull and
// leaves the queue length at 2.
func TestEnqueue_QueueFull(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, &aggregator.Config{MaxQueueSize: 2}, threeInterfaces())

	_, err := a.Enqueue([]byte("one"), "eth0")
	require.NoError(t, err)
	_, err = a.Enqueue([]byte("two"), "eth0")
	require.NoError(t, err)

	before := a.QueueStats()["eth0"]
	_, err = a.Enqueue([]byte("three"), "eth0")
	require.ErrorIs(t, err, aggregator.ErrQueueFull)

	after := a.QueueStats()["eth0"]
	require.Equal(t, 2, after.Depth)
	require.Equal(t, before.PacketsSent, after.PacketsSent, "no accounting on failure")
	require.Equal(t, before.BytesSent, after.BytesSent)
	require.Equal(t, before.Dropped+1, after.Dropped)
}

func TestEnqueue_AccountingOnSuccess(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())

	payload := []byte("hello mesh")
	name, err := a.Enqueue(payload, "wlan0")
	require.NoError(t, err)
	require.Equal(t, "wlan0", name)

	stats := a.QueueStats()["wlan0"]
	require.Equal(t, 1, stats.Depth)
	require.Equal(t, uint64(1), stats.PacketsSent)
	require.Equal(t, uint64(len(payload)), stats.BytesSent)
}

func TestEnqueue_SelectsWhenInterfaceOmitted(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())

	name, err := a.Enqueue([]byte("auto"), "")
	require.NoError(t, err)
	require.Contains(t, []string{"eth0", "wlan0", "ppp0"}, name)

	got, ok := a.Dequeue(name)
	require.True(t, ok)
	require.Equal(t, []byte("auto"), got)
}

func TestEnqueue_NoRouteWhenNothingUsable(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, []node.Interface{{Name: "eth0", Active: false}})

	_, err := a.Enqueue([]byte("stranded"), "")
	require.ErrorIs(t, err, aggregator.ErrNoRoute)
}

func TestDequeue_FIFOAndEmpty(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())

	_, err := a.Enqueue([]byte("first"), "eth0")
	require.NoError(t, err)
	_, err = a.Enqueue([]byte("second"), "eth0")
	require.NoError(t, err)

	got, ok := a.Dequeue("eth0")
	require.True(t, ok)
	require.Equal(t, []byte("first"), got)

	got, ok = a.Dequeue("eth0")
	require.True(t, ok)
	require.Equal(t, []byte("second"), got)

	_, ok = a.Dequeue("eth0")
	require.False(t, ok)

	_, ok = a.Dequeue("tun9")
	require.False(t, ok)
}

func TestWeights_MatchFormula(t *testing.T) {
	t.Parallel()

	a := newAggregator(t, nil, threeInterfaces())

	raw := map[string]float64{
		"eth0":  (100.0 / 100) * math.Max(0.1, 100.0/10),
		"wlan0": (50.0 / 100) * math.Max(0.1, 100.0/25),
		"ppp0":  (15.0 / 100) * math.Max(0.1, 100.0/45),
	}
	var total float64
	for _, v := range raw {
		total += v
	}

	weights := a.Weights()
	for name, want := range raw {
		require.InDelta(t, want/total, weights[name], 1e-9, name)
	}
}
