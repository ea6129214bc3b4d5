package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/config"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 9999, cfg.NodeDiscovery.Port)
	require.Equal(t, "MESH_NETWORK_GROUP", cfg.NodeDiscovery.Group)
	require.Equal(t, 1000, cfg.LinkAggregation.MaxQueueSize)
	require.Equal(t, 3, cfg.Failover.Threshold)
	require.Equal(t, 2, cfg.Failover.RecoveryThreshold)
}

func TestValidate_FillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	require.Empty(t, cmp.Diff(config.Default(), cfg))
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad port", func(c *config.Config) { c.NodeDiscovery.Port = 70000 }},
		{"bad mode", func(c *config.Config) { c.LinkAggregation.Mode = "round_robin" }},
		{"bad bandwidth source", func(c *config.Config) { c.Quality.BandwidthSource = "guess" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "meshbond.json")

	orig := config.Default()
	orig.NodeDiscovery.Port = 9998
	orig.Interfaces.Primary = "enp3s0"
	orig.Failover.Targets = []string{"9.9.9.9"}
	require.NoError(t, orig.Save(path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(orig, loaded))
}

func TestLoad_PartialFileTakesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node_discovery": {"port": 8888}}`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 8888, cfg.NodeDiscovery.Port)
	require.Equal(t, 5, cfg.NodeDiscovery.BroadcastInterval)
	require.Equal(t, "load_balance", cfg.LinkAggregation.Mode)
}

func TestSkeleton_IsParseableConfig(t *testing.T) {
	t.Parallel()

	skeleton, err := config.Skeleton()
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(skeleton), &cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, *config.Default(), cfg)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)

	_, err = config.LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
