package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/node"
)

func TestHistoryPushEvictsOldest(t *testing.T) {
	t.Parallel()

	h := newHistory(3)
	for i := 1; i <= 5; i++ {
		h.push(node.Quality{LatencyMs: float64(i)})
	}

	got := h.snapshot()
	require.Len(t, got, 3)
	require.InDelta(t, 3, got[0].LatencyMs, 1e-9)
	require.InDelta(t, 5, got[2].LatencyMs, 1e-9)
}

func TestHistoryAverage(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	h := newHistory(10)
	h.push(node.Quality{BandwidthMbps: 100, LatencyMs: 10, JitterMs: 2, LossPct: 0})
	h.push(node.Quality{BandwidthMbps: 50, LatencyMs: 30, JitterMs: 4, LossPct: 10, MeasuredAt: ts})

	avg := h.average()
	require.InDelta(t, 75, avg.BandwidthMbps, 1e-9)
	require.InDelta(t, 20, avg.LatencyMs, 1e-9)
	require.InDelta(t, 3, avg.JitterMs, 1e-9)
	require.InDelta(t, 5, avg.LossPct, 1e-9)
	require.Equal(t, ts, avg.MeasuredAt, "average carries the newest timestamp")
}

func TestHistoryPeakTakesMaxPerField(t *testing.T) {
	t.Parallel()

	h := newHistory(10)
	h.push(node.Quality{BandwidthMbps: 100, LatencyMs: 10, JitterMs: 5, LossPct: 0})
	h.push(node.Quality{BandwidthMbps: 50, LatencyMs: 30, JitterMs: 1, LossPct: 12})

	peak := h.peak()
	require.InDelta(t, 100, peak.BandwidthMbps, 1e-9)
	require.InDelta(t, 30, peak.LatencyMs, 1e-9)
	require.InDelta(t, 5, peak.JitterMs, 1e-9)
	require.InDelta(t, 12, peak.LossPct, 1e-9, "peak loss is the worst loss seen, not the best")
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()

	h := newHistory(3)
	require.Empty(t, h.snapshot())
	require.Equal(t, node.Quality{}, h.average())
	require.Equal(t, node.Quality{}, h.peak())
}
