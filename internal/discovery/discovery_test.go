package discovery_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/discovery"
	"github.com/weftlabs/meshbond/internal/node"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroadcaster records sends and serves canned receive payloads.
type fakeBroadcaster struct {
	mu       sync.Mutex
	sent     [][]byte
	inbox    [][]byte
	recvErr  error
	sendErr  error
	closeErr error
}

func (f *fakeBroadcaster) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeBroadcaster) Recv(_ context.Context, _ time.Duration) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inbox, f.recvErr
}

func (f *fakeBroadcaster) Close() error { return f.closeErr }

func (f *fakeBroadcaster) sentMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func localNode() node.Node {
	return node.Node{
		ID:      selfID,
		Address: "192.168.1.10",
		Interfaces: []node.Interface{
			{Name: "eth0", Up: true, Active: true, Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
		},
	}
}

func newDiscoverer(t *testing.T, b *fakeBroadcaster) *discovery.Discoverer {
	t.Helper()
	d, err := discovery.New(&discovery.Config{
		Logger:       testLogger(),
		Broadcaster:  b,
		NodeID:       selfID,
		ListenWindow: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return d
}

func TestRunPass_RequestThenAdvertisement(t *testing.T) {
	t.Parallel()

	b := &fakeBroadcaster{}
	d := newDiscoverer(t, b)

	peers, err := d.RunPass(context.Background(), localNode())
	require.NoError(t, err)
	require.Empty(t, peers)

	sent := b.sentMessages()
	require.Len(t, sent, 2, "one request, one unconditional advertisement")

	var req discovery.Request
	require.NoError(t, json.Unmarshal(sent[0], &req))
	require.Equal(t, discovery.TypeDiscoveryRequest, req.Type)
	require.Equal(t, selfID, req.NodeID)
	require.Equal(t, discovery.DefaultGroup, req.Group)

	var adv discovery.Advertisement
	require.NoError(t, json.Unmarshal(sent[1], &adv))
	require.Equal(t, discovery.TypeNodeAdvertisement, adv.Type)
	require.Equal(t, selfID, adv.NodeData.NodeID)
	require.Equal(t, []string{"eth0"}, adv.NodeData.Connections)
}

func TestRunPass_CollectsValidPeersOnly(t *testing.T) {
	t.Parallel()

	b := &fakeBroadcaster{inbox: [][]byte{
		validAdvertisement(t, nil),
		[]byte("garbage"),
		validAdvertisement(t, func(m map[string]any) { m["group"] = "OTHER" }),
		validAdvertisement(t, func(m map[string]any) {
			m["node_data"].(map[string]any)["node_id"] = selfID
		}),
	}}
	d := newDiscoverer(t, b)

	peers, err := d.RunPass(context.Background(), localNode())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, peerID, peers[0].ID)
	require.Equal(t, "192.168.1.20", peers[0].Address)
}

func TestRunPass_AdvertisesDespiteTransportErrors(t *testing.T) {
	t.Parallel()

	b := &fakeBroadcaster{recvErr: io.ErrUnexpectedEOF}
	d := newDiscoverer(t, b)

	peers, err := d.RunPass(context.Background(), localNode())
	require.NoError(t, err, "transport errors are swallowed")
	require.Empty(t, peers)
	require.Len(t, b.sentMessages(), 2)
}
