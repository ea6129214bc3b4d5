package quality

import (
	"fmt"
	"time"

	"github.com/weftlabs/meshbond/internal/node"
)

// Recommendation rule thresholds.
const (
	highLatencyMs    = 100
	highLossPct      = 5
	minMeshNodes     = 2
	highAvgLatencyMs = 50
)

// InterfaceReport is the per-interface block of a performance report.
type InterfaceReport struct {
	Name           string       `json:"name"`
	Kind           node.Kind    `json:"kind"`
	Current        node.Quality `json:"current"`
	Average        node.Quality `json:"average"`
	Peak           node.Quality `json:"peak"`
	SignalStrength int          `json:"signal_strength,omitempty"`
	DataUsedMB     float64      `json:"data_used_mb"`
	DataCapMB      float64      `json:"data_cap_mb"`
}

// Report combines global mesh metrics with per-interface blocks and the
// recommendations whose rules fired.
type Report struct {
	GeneratedAt        time.Time         `json:"generated_at"`
	NodeID             string            `json:"node_id"`
	TotalBandwidthMbps float64           `json:"total_bandwidth_mbps"`
	AverageLatencyMs   float64           `json:"average_latency_ms"`
	TotalNodes         int               `json:"total_nodes"`
	Interfaces         []InterfaceReport `json:"interfaces"`
	Recommendations    []string          `json:"recommendations"`
}

// Report builds a performance report for the local node. peerCount is the
// number of live peers; the local node always counts itself.
func (c *Collector) Report(local node.Node, peerCount int) Report {
	r := Report{
		GeneratedAt: c.cfg.Clock.Now(),
		NodeID:      local.ID,
		TotalNodes:  1 + peerCount,
	}

	var latencySum float64
	var latencyCount int

	for _, ifc := range local.Interfaces {
		r.TotalBandwidthMbps += ifc.Quality.BandwidthMbps
		if ifc.Quality.LatencyMs > 0 {
			latencySum += ifc.Quality.LatencyMs
			latencyCount++
		}

		block := InterfaceReport{
			Name:           ifc.Name,
			Kind:           ifc.Kind,
			Current:        ifc.Quality,
			SignalStrength: ifc.SignalStrength,
			DataUsedMB:     ifc.DataUsedMB,
			DataCapMB:      ifc.DataCapMB,
		}
		if avg, ok := c.Average(ifc.Name); ok {
			block.Average = avg
		}
		if peak, ok := c.Peak(ifc.Name); ok {
			block.Peak = peak
		}
		r.Interfaces = append(r.Interfaces, block)
	}

	if latencyCount > 0 {
		r.AverageLatencyMs = latencySum / float64(latencyCount)
	}

	r.Recommendations = recommendations(local, r.TotalNodes, r.AverageLatencyMs)
	return r
}

// recommendations applies the advisory rules to the current snapshot.
func recommendations(local node.Node, totalNodes int, avgLatencyMs float64) []string {
	var recs []string
	for _, ifc := range local.Interfaces {
		if ifc.Quality.LatencyMs > highLatencyMs {
			recs = append(recs, fmt.Sprintf("High latency on %s: consider failing over", ifc.Name))
		}
		if ifc.Quality.LossPct > highLossPct {
			recs = append(recs, fmt.Sprintf("Packet loss on %s: investigate connection quality", ifc.Name))
		}
	}
	if totalNodes < minMeshNodes {
		recs = append(recs, "Low mesh redundancy: fewer than 2 nodes visible")
	}
	if avgLatencyMs > highAvgLatencyMs {
		recs = append(recs, "High average latency: optimize routing")
	}
	return recs
}
