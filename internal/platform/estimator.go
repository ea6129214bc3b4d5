package platform

import (
	"context"
	"sync"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/weftlabs/meshbond/internal/node"
)

// Class-based bandwidth estimates in Mbps.
const (
	estimateWiredMbps    = 100
	estimateWirelessMbps = 50
	estimateCellularMbps = 15
	estimateUnknownMbps  = 10
)

// ClassEstimator estimates bandwidth from the interface kind alone. This is
// the default estimator.
type ClassEstimator struct{}

func (ClassEstimator) EstimateMbps(_ context.Context, iface node.Interface) float64 {
	switch iface.Kind {
	case node.KindWired:
		return estimateWiredMbps
	case node.KindWireless:
		return estimateWirelessMbps
	case node.KindCellular:
		return estimateCellularMbps
	default:
		return estimateUnknownMbps
	}
}

// ioCountersFunc matches gopsutil's per-nic counter call; tests substitute
// a canned implementation.
type ioCountersFunc func(ctx context.Context, pernic bool) ([]gnet.IOCountersStat, error)

// ThroughputEstimator derives bandwidth from kernel byte counters sampled
// between calls. Until two samples exist for an interface, or when the link
// is near idle, it falls back to the class estimate: passive counters
// cannot distinguish an idle link from a dead one.
type ThroughputEstimator struct {
	mu       sync.Mutex
	lastSeen map[string]counterSample
	counters ioCountersFunc
	fallback ClassEstimator
	now      func() time.Time
}

type counterSample struct {
	bytes uint64
	at    time.Time
}

// idleFloorMbps is the observed rate below which the fallback estimate is
// reported instead.
const idleFloorMbps = 0.01

func NewThroughputEstimator() *ThroughputEstimator {
	return &ThroughputEstimator{
		lastSeen: make(map[string]counterSample),
		counters: gnet.IOCountersWithContext,
		now:      time.Now,
	}
}

func (t *ThroughputEstimator) EstimateMbps(ctx context.Context, iface node.Interface) float64 {
	stats, err := t.counters(ctx, true)
	if err != nil {
		return t.fallback.EstimateMbps(ctx, iface)
	}

	var total uint64
	found := false
	for _, st := range stats {
		if st.Name == iface.Name {
			total = st.BytesSent + st.BytesRecv
			found = true
			break
		}
	}
	if !found {
		return t.fallback.EstimateMbps(ctx, iface)
	}

	now := t.now()

	t.mu.Lock()
	prev, ok := t.lastSeen[iface.Name]
	t.lastSeen[iface.Name] = counterSample{bytes: total, at: now}
	t.mu.Unlock()

	// First sample, or counter wraparound after an interface reset.
	if !ok || total < prev.bytes {
		return t.fallback.EstimateMbps(ctx, iface)
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return t.fallback.EstimateMbps(ctx, iface)
	}

	mbps := float64(total-prev.bytes) * 8 / elapsed / 1e6
	if mbps < idleFloorMbps {
		return t.fallback.EstimateMbps(ctx, iface)
	}
	return mbps
}
