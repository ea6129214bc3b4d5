package node_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weftlabs/meshbond/internal/node"
)

func sampleNode() node.Node {
	return node.Node{
		ID:      "11111111-2222-3333-4444-555555555555",
		Address: "192.168.1.10",
		Interfaces: []node.Interface{
			{Name: "eth0", Kind: node.KindWired, Up: true, Active: true,
				Quality: node.Quality{BandwidthMbps: 100, LatencyMs: 10}},
			{Name: "wlan0", Kind: node.KindWireless, Up: true, Active: true,
				Quality: node.Quality{BandwidthMbps: 50, LatencyMs: 25},
				DataCapMB: 1000, DataUsedMB: 250},
			{Name: "ppp0", Kind: node.KindCellular, Up: true, Active: false,
				Quality: node.Quality{BandwidthMbps: 15, LatencyMs: 45},
				DataCapMB: 500, DataUsedMB: 600},
		},
	}
}

func TestNode_Clone_IsIndependent(t *testing.T) {
	t.Parallel()

	orig := sampleNode()
	clone := orig.Clone()

	clone.Interfaces[0].Quality.LatencyMs = 999
	clone.Interfaces[1].Active = false

	require.Equal(t, 10.0, orig.Interfaces[0].Quality.LatencyMs)
	require.True(t, orig.Interfaces[1].Active)
}

func TestNode_Connections_PreservesRecordOrder(t *testing.T) {
	t.Parallel()

	n := sampleNode()
	require.Equal(t, []string{"eth0", "wlan0", "ppp0"}, n.Connections())
	require.Equal(t, []string{"eth0", "wlan0"}, n.ActiveInterfaces())
}

func TestNode_DataCapsRemaining(t *testing.T) {
	t.Parallel()

	n := sampleNode()
	caps := n.DataCapsRemaining()

	require.Equal(t, 0.0, caps["eth0"], "uncapped interface reports 0")
	require.Equal(t, 750.0, caps["wlan0"])
	require.Equal(t, 0.0, caps["ppp0"], "overdrawn cap clamps to 0")
}

func TestNode_Interface_Lookup(t *testing.T) {
	t.Parallel()

	n := sampleNode()

	ifc, ok := n.Interface("wlan0")
	require.True(t, ok)
	require.Equal(t, node.KindWireless, ifc.Kind)

	_, ok = n.Interface("tun0")
	require.False(t, ok)
}

func TestNode_QualityMaps(t *testing.T) {
	t.Parallel()

	n := sampleNode()
	require.Equal(t, map[string]float64{"eth0": 100, "wlan0": 50, "ppp0": 15}, n.Bandwidth())
	require.Equal(t, map[string]float64{"eth0": 10, "wlan0": 25, "ppp0": 45}, n.Latency())
}
