// Package aggregator steers outbound packets across the local interfaces:
// it computes per-interface weights from live quality, picks an interface
// per packet according to the aggregation mode, and owns the bounded
// per-interface send queues.
package aggregator

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/weftlabs/meshbond/internal/metrics"
	"github.com/weftlabs/meshbond/internal/node"
)

// Mode is the aggregation policy in force.
type Mode string

const (
	ModeLoadBalance Mode = "load_balance"
	ModeFailover    Mode = "failover"
	ModeAdaptive    Mode = "adaptive"
)

var (
	// ErrNoRoute is returned when selection found no usable interface.
	ErrNoRoute = errors.New("no route available")

	// ErrQueueFull is returned when the target queue is at capacity. The
	// caller keeps the payload; existing traffic is never dropped.
	ErrQueueFull = errors.New("send queue full")
)

const (
	defaultMaxQueueSize = 1000

	// largePacketBytes is the adaptive-mode threshold above which
	// selection prefers bandwidth over latency.
	largePacketBytes = 1000
)

type Config struct {
	Logger *slog.Logger

	// MaxQueueSize caps every per-interface send queue.
	MaxQueueSize int

	// Mode pins the aggregation mode. Only ModeAdaptive is honoured as a
	// pin; otherwise the mode follows the active interface count.
	Mode Mode

	// Rand drives weighted selection. Tests inject a seeded source.
	Rand *rand.Rand
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return nil
}

// Aggregator is safe for concurrent use. Select and Enqueue take the read
// lock; Optimize takes the write lock briefly and never blocks selection
// for the duration of a probe.
type Aggregator struct {
	log *slog.Logger
	cfg *Config

	mu       sync.RWMutex
	snapshot []node.Interface
	weights  map[string]float64
	mode     Mode
	queues   map[string]*sendQueue

	// failedView reports the failover manager's failed set. Nil before
	// wiring; then nothing is considered failed.
	failedView func() map[string]bool

	randMu sync.Mutex
	rng    *rand.Rand
}

func New(cfg *Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := ModeFailover
	if cfg.Mode == ModeAdaptive {
		mode = ModeAdaptive
	}
	return &Aggregator{
		log:    cfg.Logger,
		cfg:    cfg,
		mode:   mode,
		queues: make(map[string]*sendQueue),
		rng:    cfg.Rand,
	}, nil
}

// SetFailedView wires the failover manager's live failed set into
// selection. Interfaces in the set never qualify.
func (a *Aggregator) SetFailedView(view func() map[string]bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedView = view
}

// Initialize builds the queues and the first weight map from the local
// node's interface set.
func (a *Aggregator) Initialize(ifaces []node.Interface) {
	a.Optimize(ifaces)
}

// Optimize refreshes the interface snapshot, recomputes weights and
// re-evaluates the mode. Called on the optimization tick; idempotent.
func (a *Aggregator) Optimize(ifaces []node.Interface) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snapshot = make([]node.Interface, len(ifaces))
	copy(a.snapshot, ifaces)

	for _, ifc := range a.snapshot {
		if _, ok := a.queues[ifc.Name]; !ok {
			a.queues[ifc.Name] = newSendQueue(a.cfg.MaxQueueSize)
		}
	}

	failed := a.failedLocked()
	a.weights = computeWeights(a.snapshot, failed)

	if a.cfg.Mode != ModeAdaptive {
		active := 0
		for _, ifc := range a.snapshot {
			if ifc.Active && !failed[ifc.Name] {
				active++
			}
		}
		if active <= 1 {
			a.mode = ModeFailover
		} else {
			a.mode = ModeLoadBalance
		}
	}
}

// computeWeights implements the weighting rule: for each qualifying
// interface, raw = (bandwidth/100) * max(0.1, 100/latency), normalized so
// the weights sum to 1. Disqualified interfaces are absent; no qualifying
// interface yields an empty map.
func computeWeights(ifaces []node.Interface, failed map[string]bool) map[string]float64 {
	raw := make(map[string]float64)
	var total float64
	for _, ifc := range ifaces {
		if !qualifies(ifc, failed) {
			continue
		}
		w := (ifc.Quality.BandwidthMbps / 100) * max(0.1, 100/ifc.Quality.LatencyMs)
		raw[ifc.Name] = w
		total += w
	}
	weights := make(map[string]float64, len(raw))
	for name, w := range raw {
		if total > 0 {
			weights[name] = w / total
		} else {
			weights[name] = 0
		}
	}
	return weights
}

func qualifies(ifc node.Interface, failed map[string]bool) bool {
	return ifc.Active &&
		!failed[ifc.Name] &&
		ifc.Quality.BandwidthMbps > 0 &&
		ifc.Quality.LatencyMs > 0 &&
		ifc.Quality.LatencyMs < node.LatencySentinel
}

// Select picks the interface the next packet of the given size should
// leave on, honouring the current mode.
func (a *Aggregator) Select(packetSize int) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selectLocked(packetSize)
}

func (a *Aggregator) selectLocked(packetSize int) (string, error) {
	switch a.mode {
	case ModeFailover:
		return a.selectFailoverLocked()
	case ModeAdaptive:
		return a.selectAdaptiveLocked(packetSize)
	default:
		return a.selectLoadBalanceLocked()
	}
}

// selectFailoverLocked returns the first usable interface in snapshot
// order.
func (a *Aggregator) selectFailoverLocked() (string, error) {
	failed := a.failedLocked()
	for _, ifc := range a.snapshot {
		if ifc.Active && !failed[ifc.Name] {
			return ifc.Name, nil
		}
	}
	return "", ErrNoRoute
}

// selectLoadBalanceLocked draws a qualifying interface with probability
// proportional to its weight. A qualified set whose weights are all zero
// degenerates to the first qualified interface.
func (a *Aggregator) selectLoadBalanceLocked() (string, error) {
	failed := a.failedLocked()
	var qualified []node.Interface
	var total float64
	for _, ifc := range a.snapshot {
		if qualifies(ifc, failed) {
			qualified = append(qualified, ifc)
			total += a.weights[ifc.Name]
		}
	}
	if len(qualified) == 0 {
		return "", ErrNoRoute
	}
	if total <= 0 {
		return qualified[0].Name, nil
	}

	a.randMu.Lock()
	r := a.rng.Float64() * total
	a.randMu.Unlock()

	for _, ifc := range qualified {
		r -= a.weights[ifc.Name]
		if r <= 0 {
			return ifc.Name, nil
		}
	}
	return qualified[len(qualified)-1].Name, nil
}

// selectAdaptiveLocked prefers bandwidth for large packets and latency for
// small ones. Ties break by snapshot order. Zero size falls back to
// load balancing.
func (a *Aggregator) selectAdaptiveLocked(packetSize int) (string, error) {
	if packetSize == 0 {
		return a.selectLoadBalanceLocked()
	}

	failed := a.failedLocked()
	best := ""
	var bestVal float64
	for _, ifc := range a.snapshot {
		if !ifc.Active || failed[ifc.Name] {
			continue
		}
		if packetSize > largePacketBytes {
			if best == "" || ifc.Quality.BandwidthMbps > bestVal {
				best, bestVal = ifc.Name, ifc.Quality.BandwidthMbps
			}
		} else {
			if best == "" || ifc.Quality.LatencyMs < bestVal {
				best, bestVal = ifc.Name, ifc.Quality.LatencyMs
			}
		}
	}
	if best == "" {
		return "", ErrNoRoute
	}
	return best, nil
}

func (a *Aggregator) failedLocked() map[string]bool {
	if a.failedView == nil {
		return nil
	}
	return a.failedView()
}

// Enqueue places the payload on the named interface's queue. An empty
// iface invokes selection with the payload size. On success it returns the
// interface used; queue accounting updates only on success.
func (a *Aggregator) Enqueue(payload []byte, iface string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if iface == "" {
		selected, err := a.selectLocked(len(payload))
		if err != nil {
			metrics.EnqueueRejectedTotal.WithLabelValues("no_route").Inc()
			return "", err
		}
		iface = selected
	}

	q, ok := a.queues[iface]
	if !ok {
		metrics.EnqueueRejectedTotal.WithLabelValues("no_route").Inc()
		return "", fmt.Errorf("%w: unknown interface %s", ErrNoRoute, iface)
	}
	if !q.tryPush(payload) {
		metrics.EnqueueRejectedTotal.WithLabelValues("queue_full").Inc()
		return "", fmt.Errorf("%w: %s", ErrQueueFull, iface)
	}
	return iface, nil
}

// Dequeue pops the oldest payload pending on the interface.
func (a *Aggregator) Dequeue(iface string) ([]byte, bool) {
	a.mu.RLock()
	q, ok := a.queues[iface]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return q.pop()
}

// Weights returns a copy of the current weight map.
func (a *Aggregator) Weights() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.weights))
	for name, w := range a.weights {
		out[name] = w
	}
	return out
}

// Mode returns the mode currently in force.
func (a *Aggregator) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// QueueStats returns per-interface queue accounting snapshots.
func (a *Aggregator) QueueStats() map[string]QueueStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]QueueStats, len(a.queues))
	for name, q := range a.queues {
		out[name] = q.stats()
	}
	return out
}
