// Package node defines the shared data model for the bonding engine: the
// local node, discovered peers, and the per-interface records the control
// loops read and write.
package node

import (
	"slices"
	"time"
)

// Kind classifies a network interface by its transport medium.
type Kind string

const (
	KindWired    Kind = "wired"
	KindWireless Kind = "wireless"
	KindCellular Kind = "cellular"
	KindUnknown  Kind = "unknown"
)

// LatencySentinel is the latency reported when no probe target is reachable.
// Interfaces at or above this value never qualify for weighted selection.
const LatencySentinel = 1000.0

// Quality is one measurement round for an interface. Bandwidth is a single
// symmetric scalar in Mbps.
type Quality struct {
	BandwidthMbps float64   `json:"bandwidth_mbps"`
	LatencyMs     float64   `json:"latency_ms"`
	JitterMs      float64   `json:"jitter_ms"`
	LossPct       float64   `json:"loss_pct"`
	MeasuredAt    time.Time `json:"last_measured_at"`
}

// Interface is the record kept for each local network interface.
type Interface struct {
	Name           string `json:"name"`
	Kind           Kind   `json:"kind"`
	Up             bool   `json:"up"`
	Address        string `json:"address,omitempty"`
	HWAddress      string `json:"hw_address,omitempty"`
	SignalStrength int    `json:"signal_strength,omitempty"` // dBm, wireless only

	Quality Quality `json:"quality"`

	DataUsedMB  float64 `json:"data_used_mb"`
	DataCapMB   float64 `json:"data_cap_mb"` // 0 = unlimited
	PacketsSent uint64  `json:"packets_sent"`
	BytesSent   uint64  `json:"bytes_sent"`

	// Active means administratively and operationally up and not failed
	// out by the failover manager.
	Active               bool `json:"active"`
	ConsecutiveFailures  int  `json:"consecutive_failures"`
	ConsecutiveSuccesses int  `json:"consecutive_successes"`
}

// Node is a host participating in the mesh. The local node carries
// UpdatedAt; peers carry LastSeen, touched on every advertisement.
type Node struct {
	ID         string      `json:"node_id"`
	Address    string      `json:"address"`
	Interfaces []Interface `json:"interfaces"`
	LastSeen   time.Time   `json:"last_seen,omitzero"`
	UpdatedAt  time.Time   `json:"updated_at,omitzero"`
}

// Clone returns a deep copy. Readers of shared state always receive clones,
// never aliases into the record under mutation.
func (n Node) Clone() Node {
	out := n
	out.Interfaces = slices.Clone(n.Interfaces)
	return out
}

// Interface returns the named interface record and whether it exists.
func (n Node) Interface(name string) (Interface, bool) {
	for _, ifc := range n.Interfaces {
		if ifc.Name == name {
			return ifc, true
		}
	}
	return Interface{}, false
}

// Connections lists interface names in record order. Record order is the
// deterministic iteration order used by selection.
func (n Node) Connections() []string {
	names := make([]string, 0, len(n.Interfaces))
	for _, ifc := range n.Interfaces {
		names = append(names, ifc.Name)
	}
	return names
}

// Bandwidth maps interface name to current bandwidth in Mbps.
func (n Node) Bandwidth() map[string]float64 {
	out := make(map[string]float64, len(n.Interfaces))
	for _, ifc := range n.Interfaces {
		out[ifc.Name] = ifc.Quality.BandwidthMbps
	}
	return out
}

// Latency maps interface name to current latency in milliseconds.
func (n Node) Latency() map[string]float64 {
	out := make(map[string]float64, len(n.Interfaces))
	for _, ifc := range n.Interfaces {
		out[ifc.Name] = ifc.Quality.LatencyMs
	}
	return out
}

// DataCapsRemaining maps interface name to remaining transfer allowance in
// MB. Interfaces without a cap report 0 (unlimited).
func (n Node) DataCapsRemaining() map[string]float64 {
	out := make(map[string]float64, len(n.Interfaces))
	for _, ifc := range n.Interfaces {
		if ifc.DataCapMB <= 0 {
			out[ifc.Name] = 0
			continue
		}
		remaining := ifc.DataCapMB - ifc.DataUsedMB
		if remaining < 0 {
			remaining = 0
		}
		out[ifc.Name] = remaining
	}
	return out
}

// ActiveInterfaces returns the names of interfaces currently active, in
// record order.
func (n Node) ActiveInterfaces() []string {
	names := make([]string, 0, len(n.Interfaces))
	for _, ifc := range n.Interfaces {
		if ifc.Active {
			names = append(names, ifc.Name)
		}
	}
	return names
}
