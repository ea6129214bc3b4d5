// Package quality measures per-interface link quality: bandwidth estimate,
// latency, jitter, and packet loss, with a bounded rolling history and
// derived averages and peaks per interface.
package quality

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/platform"
)

const (
	defaultHistorySize    = 100
	defaultJitterProbes   = 5
	defaultJitterInterval = 100 * time.Millisecond
	defaultLossProbes     = 10
	defaultProbeTimeout   = 2 * time.Second
	defaultPoolSize       = 4
)

// DefaultLatencyTargets are the anycast resolvers probed when the config
// does not name its own.
var DefaultLatencyTargets = []string{"8.8.8.8", "1.1.1.1"}

type Config struct {
	Logger    *slog.Logger
	Prober    platform.Prober
	Estimator platform.BandwidthEstimator
	Clock     clockwork.Clock

	LatencyTargets []string
	ProbeTimeout   time.Duration
	JitterProbes   int
	JitterInterval time.Duration
	LossProbes     int
	HistorySize    int
	PoolSize       int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Prober == nil {
		return errors.New("prober is required")
	}
	if c.Estimator == nil {
		c.Estimator = platform.ClassEstimator{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.LatencyTargets) == 0 {
		c.LatencyTargets = DefaultLatencyTargets
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.JitterProbes <= 0 {
		c.JitterProbes = defaultJitterProbes
	}
	if c.JitterInterval <= 0 {
		c.JitterInterval = defaultJitterInterval
	}
	if c.LossProbes <= 0 {
		c.LossProbes = defaultLossProbes
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	return nil
}

// Collector samples interface quality and maintains the rolling history.
type Collector struct {
	log *slog.Logger
	cfg *Config

	pool pond.ResultPool[sampleResult]

	mu        sync.Mutex
	histories map[string]*history
}

type sampleResult struct {
	name    string
	quality node.Quality
}

func New(cfg *Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{
		log:       cfg.Logger,
		cfg:       cfg,
		pool:      pond.NewResultPool[sampleResult](cfg.PoolSize),
		histories: make(map[string]*history),
	}, nil
}

// SampleAll measures every interface concurrently and returns the new
// quality snapshots keyed by interface name. A monitoring tick is bounded
// by the slowest interface, not the sum of all of them.
func (c *Collector) SampleAll(ctx context.Context, ifaces []node.Interface) map[string]node.Quality {
	group := c.pool.NewGroupContext(ctx)

	for _, ifc := range ifaces {
		ifc := ifc
		group.SubmitErr(func() (sampleResult, error) {
			return sampleResult{name: ifc.Name, quality: c.Sample(ctx, ifc)}, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		c.log.Error("quality sampling group failed", "error", err)
	}

	out := make(map[string]node.Quality, len(results))
	for _, r := range results {
		out[r.name] = r.quality
	}
	return out
}

// Sample measures one interface. Probe failures degrade single fields
// rather than failing the sample: unreachable targets produce the latency
// sentinel, an unusable jitter batch produces zero jitter.
func (c *Collector) Sample(ctx context.Context, ifc node.Interface) node.Quality {
	q := node.Quality{
		BandwidthMbps: c.cfg.Estimator.EstimateMbps(ctx, ifc),
		LatencyMs:     c.measureLatency(ctx, ifc.Name),
		MeasuredAt:    c.cfg.Clock.Now(),
	}
	q.JitterMs = c.measureJitter(ctx, ifc.Name)
	q.LossPct = c.measureLoss(ctx, ifc.Name)

	c.mu.Lock()
	h, ok := c.histories[ifc.Name]
	if !ok {
		h = newHistory(c.cfg.HistorySize)
		c.histories[ifc.Name] = h
	}
	h.push(q)
	c.mu.Unlock()

	return q
}

// measureLatency probes each latency target once and averages the RTTs
// that came back. No reachable target yields the sentinel.
func (c *Collector) measureLatency(ctx context.Context, iface string) float64 {
	var sum float64
	var ok int
	for _, target := range c.cfg.LatencyTargets {
		stats, err := c.cfg.Prober.Probe(ctx, iface, target, platform.ProbeOptions{
			Count:   1,
			Timeout: c.cfg.ProbeTimeout,
		})
		if err != nil {
			c.log.Debug("latency probe failed", "interface", iface, "target", target, "error", err)
			continue
		}
		if stats.Reachable() {
			sum += float64(stats.AvgRTT.Microseconds()) / 1000
			ok++
		}
	}
	if ok == 0 {
		return node.LatencySentinel
	}
	return sum / float64(ok)
}

// measureJitter sends a short spaced batch and reports the standard
// deviation of the RTTs. Fewer than two replies yield zero.
func (c *Collector) measureJitter(ctx context.Context, iface string) float64 {
	target := c.cfg.LatencyTargets[0]
	stats, err := c.cfg.Prober.Probe(ctx, iface, target, platform.ProbeOptions{
		Count:    c.cfg.JitterProbes,
		Interval: c.cfg.JitterInterval,
		Timeout:  c.batchTimeout(c.cfg.JitterProbes),
	})
	if err != nil {
		c.log.Debug("jitter probe failed", "interface", iface, "target", target, "error", err)
		return 0
	}
	if stats.Received < 2 {
		return 0
	}
	return float64(stats.StdDevRTT.Microseconds()) / 1000
}

// measureLoss sends a fixed batch and reports the loss percentage.
func (c *Collector) measureLoss(ctx context.Context, iface string) float64 {
	target := c.cfg.LatencyTargets[0]
	stats, err := c.cfg.Prober.Probe(ctx, iface, target, platform.ProbeOptions{
		Count:    c.cfg.LossProbes,
		Interval: c.cfg.JitterInterval,
		Timeout:  c.batchTimeout(c.cfg.LossProbes),
	})
	if err != nil {
		c.log.Debug("loss probe failed", "interface", iface, "target", target, "error", err)
		return 100
	}
	if stats.Sent == 0 {
		return 100
	}
	return math.Round(stats.LossPct*100) / 100
}

// batchTimeout bounds a probe batch: the per-probe deadline plus the time
// the batch spends pacing itself.
func (c *Collector) batchTimeout(count int) time.Duration {
	return c.cfg.ProbeTimeout + time.Duration(count)*c.cfg.JitterInterval
}

// History returns a copy of the retained samples for the interface.
func (c *Collector) History(name string) []node.Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histories[name]
	if !ok {
		return nil
	}
	return h.snapshot()
}

// Average returns the per-field mean over the retained samples.
func (c *Collector) Average(name string) (node.Quality, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histories[name]
	if !ok || len(h.samples) == 0 {
		return node.Quality{}, false
	}
	return h.average(), true
}

// Peak returns the per-field maximum over the retained samples.
func (c *Collector) Peak(name string) (node.Quality, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histories[name]
	if !ok || len(h.samples) == 0 {
		return node.Quality{}, false
	}
	return h.peak(), true
}
