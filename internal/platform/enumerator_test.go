package platform

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weftlabs/meshbond/internal/node"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want node.Kind
	}{
		{"eth0", node.KindWired},
		{"enp3s0", node.KindWired},
		{"ens33", node.KindWired},
		{"wlan0", node.KindWireless},
		{"wlp2s0", node.KindWireless},
		{"wifi0", node.KindWireless},
		{"ppp0", node.KindCellular},
		{"wwan0", node.KindCellular},
		{"rmnet_data0", node.KindCellular},
		{"cdc-wdm0", node.KindCellular},
		{"tun0", node.KindUnknown},
		{"docker0", node.KindUnknown},
		{"br-1234", node.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.name))
		})
	}
}

const wirelessFixture = `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
 ath0: 0000   70.  -43.  -256        0      0      0      0      0        0
`

func writeWirelessFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wireless")
	require.NoError(t, os.WriteFile(path, []byte(wirelessFixture), 0o644))
	return path
}

func TestEnumerator_WirelessTable(t *testing.T) {
	t.Parallel()

	e := NewSystemEnumerator(testLogger())
	e.wirelessProcPath = writeWirelessFixture(t)

	table := e.wirelessTable()
	require.Equal(t, map[string]int{"wlan0": -56, "ath0": -43}, table)
}

func TestEnumerator_WirelessTable_MissingFile(t *testing.T) {
	t.Parallel()

	e := NewSystemEnumerator(testLogger())
	e.wirelessProcPath = filepath.Join(t.TempDir(), "nope")

	require.Empty(t, e.wirelessTable())
}

func TestClassEstimator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind node.Kind
		want float64
	}{
		{node.KindWired, 100},
		{node.KindWireless, 50},
		{node.KindCellular, 15},
		{node.KindUnknown, 10},
	}
	for _, tt := range tests {
		got := ClassEstimator{}.EstimateMbps(context.Background(), node.Interface{Kind: tt.kind})
		require.Equal(t, tt.want, got)
	}
}
