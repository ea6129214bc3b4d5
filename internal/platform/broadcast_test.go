package platform

import (
	"context"
	"testing"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/node"
)

// The broadcaster tests exercise a real socket with a unicast destination so
// they stay inside the loopback interface.
func newLoopbackBroadcaster(t *testing.T) *UDPBroadcaster {
	t.Helper()
	b, err := NewUDPBroadcaster(context.Background(), BroadcastConfig{
		Logger: testLogger(),
		Port:   0,
		Addr:   "127.0.0.1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBroadcaster_SendRecvRoundTrip(t *testing.T) {
	t.Parallel()

	b := newLoopbackBroadcaster(t)

	payload := []byte(`{"type":"DISCOVERY_REQUEST"}`)
	require.NoError(t, b.Send(context.Background(), payload))

	got, err := b.Recv(context.Background(), 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, payload, got[0])
}

func TestBroadcaster_RecvWindowExpiresEmpty(t *testing.T) {
	t.Parallel()

	b := newLoopbackBroadcaster(t)

	start := time.Now()
	got, err := b.Recv(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, got)
	require.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestBroadcaster_RecvHonoursContext(t *testing.T) {
	t.Parallel()

	b := newLoopbackBroadcaster(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Recv(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBroadcaster_ValidateConfig(t *testing.T) {
	t.Parallel()

	cfg := BroadcastConfig{}
	require.Error(t, cfg.Validate())

	cfg.Logger = testLogger()
	cfg.Port = -1
	require.Error(t, cfg.Validate())

	cfg.Port = 9999
	require.NoError(t, cfg.Validate())
	require.Equal(t, "255.255.255.255", cfg.Addr)
	require.Equal(t, defaultDatagramBuffer, cfg.BufferSize)
}

func TestThroughputEstimator_FallsBackUntilTwoSamples(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	bytes := uint64(1_000_000)

	est := NewThroughputEstimator()
	est.now = func() time.Time { return now }
	est.counters = func(ctx context.Context, pernic bool) ([]gnet.IOCountersStat, error) {
		return []gnet.IOCountersStat{{Name: "eth0", BytesSent: bytes, BytesRecv: 0}}, nil
	}

	iface := node.Interface{Name: "eth0", Kind: node.KindWired}

	// First sample has no baseline: class estimate.
	require.Equal(t, 100.0, est.EstimateMbps(context.Background(), iface))

	// 1 MB in 1 s = 8 Mbps.
	now = now.Add(time.Second)
	bytes += 1_000_000
	require.InDelta(t, 8.0, est.EstimateMbps(context.Background(), iface), 0.001)

	// Idle link falls back again.
	now = now.Add(time.Second)
	require.Equal(t, 100.0, est.EstimateMbps(context.Background(), iface))
}
