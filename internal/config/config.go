// Package config defines the engine's JSON configuration: schema,
// defaults, validation, and atomic persistence. Intervals and timeouts
// are carried as integer seconds on the wire.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	NodeDiscovery   NodeDiscovery   `json:"node_discovery"`
	LinkAggregation LinkAggregation `json:"link_aggregation"`
	Failover        Failover        `json:"failover"`
	Interfaces      Interfaces      `json:"interfaces"`
	Quality         Quality         `json:"quality"`
	Daemon          Daemon          `json:"daemon"`
	Notifications   Notifications   `json:"notifications"`
}

type NodeDiscovery struct {
	Port              int    `json:"port"`
	BroadcastInterval int    `json:"broadcast_interval"`
	NodeTimeout       int    `json:"node_timeout"`
	Group             string `json:"group"`
	BroadcastAddr     string `json:"broadcast_addr"`
	ListenWindow      int    `json:"listen_window"`
}

type LinkAggregation struct {
	Mode              string `json:"mode"`
	MaxQueueSize      int    `json:"max_queue_size"`
	RebalanceInterval int    `json:"rebalance_interval"`
}

type Failover struct {
	Threshold          int      `json:"threshold"`
	RecoveryThreshold  int      `json:"recovery_threshold"`
	MonitoringInterval int      `json:"monitoring_interval"`
	Targets            []string `json:"targets"`
	ProbeTimeout       int      `json:"probe_timeout"`
}

type Interfaces struct {
	Primary string   `json:"primary"`
	Backups []string `json:"backups"`
}

type Quality struct {
	LatencyTargets  []string `json:"latency_targets"`
	ProbeTimeout    int      `json:"probe_timeout"`
	HistorySize     int      `json:"history_size"`
	BandwidthSource string   `json:"bandwidth_source"` // "class" | "observed"
}

type Daemon struct {
	Socket               string `json:"socket"`
	LogFile              string `json:"log_file"`
	MetricsAddr          string `json:"metrics_addr"`
	HousekeepingInterval int    `json:"housekeeping_interval"`
}

type Notifications struct {
	WebhookURL string `json:"webhook_url"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NodeDiscovery: NodeDiscovery{
			Port:              9999,
			BroadcastInterval: 5,
			NodeTimeout:       60,
			Group:             "MESH_NETWORK_GROUP",
			BroadcastAddr:     "255.255.255.255",
			ListenWindow:      3,
		},
		LinkAggregation: LinkAggregation{
			Mode:              "load_balance",
			MaxQueueSize:      1000,
			RebalanceInterval: 30,
		},
		Failover: Failover{
			Threshold:          3,
			RecoveryThreshold:  2,
			MonitoringInterval: 10,
			Targets:            []string{"8.8.8.8", "1.1.1.1"},
			ProbeTimeout:       5,
		},
		Interfaces: Interfaces{
			Primary: "eth0",
			Backups: []string{"wlan0", "ppp0"},
		},
		Quality: Quality{
			LatencyTargets:  []string{"8.8.8.8", "1.1.1.1"},
			ProbeTimeout:    2,
			HistorySize:     100,
			BandwidthSource: "class",
		},
		Daemon: Daemon{
			Socket:               "/tmp/meshbondd.sock",
			HousekeepingInterval: 1,
		},
	}
}

// Load reads and validates a configuration file. Fields left at their
// zero value take defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fills defaults for zero values and rejects values that have no
// sane interpretation.
func (c *Config) Validate() error {
	def := Default()

	if c.NodeDiscovery.Port == 0 {
		c.NodeDiscovery.Port = def.NodeDiscovery.Port
	}
	if c.NodeDiscovery.Port < 0 || c.NodeDiscovery.Port > 65535 {
		return fmt.Errorf("node_discovery.port out of range: %d", c.NodeDiscovery.Port)
	}
	if c.NodeDiscovery.BroadcastInterval <= 0 {
		c.NodeDiscovery.BroadcastInterval = def.NodeDiscovery.BroadcastInterval
	}
	if c.NodeDiscovery.NodeTimeout <= 0 {
		c.NodeDiscovery.NodeTimeout = def.NodeDiscovery.NodeTimeout
	}
	if c.NodeDiscovery.Group == "" {
		c.NodeDiscovery.Group = def.NodeDiscovery.Group
	}
	if c.NodeDiscovery.BroadcastAddr == "" {
		c.NodeDiscovery.BroadcastAddr = def.NodeDiscovery.BroadcastAddr
	}
	if c.NodeDiscovery.ListenWindow <= 0 {
		c.NodeDiscovery.ListenWindow = def.NodeDiscovery.ListenWindow
	}

	switch c.LinkAggregation.Mode {
	case "":
		c.LinkAggregation.Mode = def.LinkAggregation.Mode
	case "load_balance", "failover", "adaptive":
	default:
		return fmt.Errorf("link_aggregation.mode unknown: %q", c.LinkAggregation.Mode)
	}
	if c.LinkAggregation.MaxQueueSize <= 0 {
		c.LinkAggregation.MaxQueueSize = def.LinkAggregation.MaxQueueSize
	}
	if c.LinkAggregation.RebalanceInterval <= 0 {
		c.LinkAggregation.RebalanceInterval = def.LinkAggregation.RebalanceInterval
	}

	if c.Failover.Threshold <= 0 {
		c.Failover.Threshold = def.Failover.Threshold
	}
	if c.Failover.RecoveryThreshold <= 0 {
		c.Failover.RecoveryThreshold = def.Failover.RecoveryThreshold
	}
	if c.Failover.MonitoringInterval <= 0 {
		c.Failover.MonitoringInterval = def.Failover.MonitoringInterval
	}
	if len(c.Failover.Targets) == 0 {
		c.Failover.Targets = def.Failover.Targets
	}
	if c.Failover.ProbeTimeout <= 0 {
		c.Failover.ProbeTimeout = def.Failover.ProbeTimeout
	}

	if len(c.Quality.LatencyTargets) == 0 {
		c.Quality.LatencyTargets = def.Quality.LatencyTargets
	}
	if c.Quality.ProbeTimeout <= 0 {
		c.Quality.ProbeTimeout = def.Quality.ProbeTimeout
	}
	if c.Quality.HistorySize <= 0 {
		c.Quality.HistorySize = def.Quality.HistorySize
	}
	switch c.Quality.BandwidthSource {
	case "":
		c.Quality.BandwidthSource = def.Quality.BandwidthSource
	case "class", "observed":
	default:
		return fmt.Errorf("quality.bandwidth_source unknown: %q", c.Quality.BandwidthSource)
	}

	if c.Daemon.Socket == "" {
		c.Daemon.Socket = def.Daemon.Socket
	}
	if c.Daemon.HousekeepingInterval <= 0 {
		c.Daemon.HousekeepingInterval = def.Daemon.HousekeepingInterval
	}
	return nil
}

// Save writes the configuration atomically: temp file in the target
// directory, then rename.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".meshbond-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename config into place: %w", err)
	}
	return nil
}

// Skeleton renders the default configuration as indented JSON, for the
// `meshbond config` command.
func Skeleton() (string, error) {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode skeleton: %w", err)
	}
	return string(data) + "\n", nil
}

// Duration helpers: wire values are integer seconds.

func (d NodeDiscovery) BroadcastEvery() time.Duration { return seconds(d.BroadcastInterval) }
func (d NodeDiscovery) PeerTTL() time.Duration        { return seconds(d.NodeTimeout) }
func (d NodeDiscovery) Window() time.Duration         { return seconds(d.ListenWindow) }

func (l LinkAggregation) RebalanceEvery() time.Duration { return seconds(l.RebalanceInterval) }

func (f Failover) MonitorEvery() time.Duration { return seconds(f.MonitoringInterval) }
func (f Failover) ProbeDeadline() time.Duration { return seconds(f.ProbeTimeout) }

func (q Quality) ProbeDeadline() time.Duration { return seconds(q.ProbeTimeout) }

func (d Daemon) HousekeepEvery() time.Duration { return seconds(d.HousekeepingInterval) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ErrNotFound reports a missing config file; callers fall back to
// defaults.
var ErrNotFound = errors.New("config file not found")

// LoadOrDefault loads the file when path is non-empty, otherwise returns
// defaults. A missing file at an explicit path is an error.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(errors.Unwrap(err)) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return cfg, nil
}
