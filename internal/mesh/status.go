package mesh

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/weftlabs/meshbond/internal/aggregator"
	"github.com/weftlabs/meshbond/internal/failover"
	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/platform"
	"github.com/weftlabs/meshbond/internal/quality"
)

// Status is the operator-facing view of the engine. Every field is a
// value copy; holding a Status never aliases live state.
type Status struct {
	Running           bool                             `json:"running"`
	StartedAt         time.Time                        `json:"started_at,omitzero"`
	Local             node.Node                        `json:"local"`
	Peers             []node.Node                      `json:"peers"`
	ActiveConnections []string                         `json:"active_connections"`
	Mode              aggregator.Mode                  `json:"mode"`
	Weights           map[string]float64               `json:"weights"`
	Queues            map[string]aggregator.QueueStats `json:"queues"`
	Failover          failover.Status                  `json:"failover"`
}

// Status assembles the current view from the shared state. Stale peers
// are filtered even between discovery ticks.
func (m *Manager) Status() Status {
	m.peers.DeleteExpired()

	m.mu.RLock()
	st := Status{
		Running:   m.running,
		StartedAt: m.startedAt,
		Local:     m.local.Clone(),
	}
	m.mu.RUnlock()

	for _, item := range m.peers.Items() {
		st.Peers = append(st.Peers, item.Value().Clone())
	}
	slices.SortFunc(st.Peers, func(a, b node.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})

	st.ActiveConnections = st.Local.ActiveInterfaces()
	st.Mode = m.cfg.Aggregator.Mode()
	st.Weights = m.cfg.Aggregator.Weights()
	st.Queues = m.cfg.Aggregator.QueueStats()
	st.Failover = m.cfg.Failover.Snapshot()
	return st
}

// Peers returns clones of the live peer records.
func (m *Manager) Peers() []node.Node {
	return m.Status().Peers
}

// Stats builds the performance report for the local node and current
// peer count.
func (m *Manager) Stats() quality.Report {
	m.peers.DeleteExpired()
	return m.cfg.Collector.Report(m.LocalNode(), m.peers.Len())
}

// TestResult is the outcome of an on-demand probe suite run against one
// interface.
type TestResult struct {
	Interface string         `json:"interface"`
	Duration  time.Duration  `json:"duration"`
	Samples   []node.Quality `json:"samples"`
	Average   node.Quality   `json:"average"`
}

// TestInterface runs the measurement suite repeatedly against one
// interface for roughly the given duration and returns the samples with
// their mean. At least one sample is always taken.
func (m *Manager) TestInterface(ctx context.Context, name string, duration time.Duration) (TestResult, error) {
	local := m.LocalNode()
	ifc, ok := local.Interface(name)
	if !ok {
		return TestResult{}, fmt.Errorf("%w: %s", platform.ErrUnavailableInterface, name)
	}

	result := TestResult{Interface: name, Duration: duration}
	deadline := m.cfg.Clock.Now().Add(duration)
	for {
		sample := m.cfg.Collector.Sample(ctx, ifc)
		result.Samples = append(result.Samples, sample)
		if ctx.Err() != nil || !m.cfg.Clock.Now().Before(deadline) {
			break
		}
	}

	var avg node.Quality
	for _, s := range result.Samples {
		avg.BandwidthMbps += s.BandwidthMbps
		avg.LatencyMs += s.LatencyMs
		avg.JitterMs += s.JitterMs
		avg.LossPct += s.LossPct
	}
	n := float64(len(result.Samples))
	avg.BandwidthMbps /= n
	avg.LatencyMs /= n
	avg.JitterMs /= n
	avg.LossPct /= n
	avg.MeasuredAt = result.Samples[len(result.Samples)-1].MeasuredAt
	result.Average = avg
	return result, nil
}
