// Package mesh owns the engine's shared state - the local node record and
// the peer table - and coordinates the discovery, monitoring, optimization
// and housekeeping loops against it.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/weftlabs/meshbond/internal/aggregator"
	"github.com/weftlabs/meshbond/internal/failover"
	"github.com/weftlabs/meshbond/internal/metrics"
	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/platform"
	"github.com/weftlabs/meshbond/internal/quality"
)

const (
	defaultDiscoveryInterval = 5 * time.Second
	defaultMonitorInterval   = 10 * time.Second
	defaultOptimizeInterval  = 30 * time.Second
	defaultHousekeepInterval = 1 * time.Second
	defaultPeerTTL           = 60 * time.Second

	bytesPerMB = 1 << 20
)

// Discoverer runs one discovery pass and returns the peers heard from.
type Discoverer interface {
	RunPass(ctx context.Context, local node.Node) ([]node.Node, error)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Enumerator platform.Enumerator
	Discoverer Discoverer
	Collector  *quality.Collector
	Aggregator *aggregator.Aggregator
	Failover   *failover.Manager

	// NodeID is the stable local identity derived at composition time.
	NodeID string
	// Address is the local outbound address advertised to peers.
	Address string
	// InitialInterfaces seeds the local node record; the monitoring loop
	// reconciles against live enumeration afterwards.
	InitialInterfaces []node.Interface

	DiscoveryInterval time.Duration
	MonitorInterval   time.Duration
	OptimizeInterval  time.Duration
	HousekeepInterval time.Duration
	PeerTTL           time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Enumerator == nil {
		return errors.New("enumerator is required")
	}
	if c.Discoverer == nil {
		return errors.New("discoverer is required")
	}
	if c.Collector == nil {
		return errors.New("collector is required")
	}
	if c.Aggregator == nil {
		return errors.New("aggregator is required")
	}
	if c.Failover == nil {
		return errors.New("failover manager is required")
	}
	if c.NodeID == "" {
		return errors.New("node id is required")
	}
	if len(c.InitialInterfaces) == 0 {
		return errors.New("at least one interface is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = defaultDiscoveryInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.OptimizeInterval <= 0 {
		c.OptimizeInterval = defaultOptimizeInterval
	}
	if c.HousekeepInterval <= 0 {
		c.HousekeepInterval = defaultHousekeepInterval
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = defaultPeerTTL
	}
	return nil
}

// Manager is the engine's composition point at runtime. The local node
// record lives behind a reader-writer lock; the peer table carries
// per-item freshness TTLs.
type Manager struct {
	log *slog.Logger
	cfg *Config

	mu        sync.RWMutex
	local     node.Node
	running   bool
	startedAt time.Time

	peers *ttlcache.Cache[string, node.Node]
}

func New(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		log: cfg.Logger,
		cfg: cfg,
		peers: ttlcache.New(
			ttlcache.WithTTL[string, node.Node](cfg.PeerTTL),
			ttlcache.WithDisableTouchOnHit[string, node.Node](),
		),
		local: node.Node{
			ID:         cfg.NodeID,
			Address:    cfg.Address,
			Interfaces: append([]node.Interface(nil), cfg.InitialInterfaces...),
		},
	}
	return m, nil
}

// Run measures the initial interface set, initializes the aggregator and
// failover manager against it, then drives the four loops until ctx is
// cancelled. A loop failing with a non-context error takes the others
// down and is returned.
func (m *Manager) Run(ctx context.Context) error {
	m.startup(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.running = true
	m.startedAt = m.cfg.Clock.Now()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	loops := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
	}{
		{"discovery", m.cfg.DiscoveryInterval, m.discoveryTick},
		{"monitoring", m.cfg.MonitorInterval, m.monitoringTick},
		{"optimization", m.cfg.OptimizeInterval, m.optimizationTick},
		{"housekeeping", m.cfg.HousekeepInterval, m.housekeepingTick},
	}

	errCh := make(chan error, len(loops))
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.runLoop(ctx, loop.name, loop.interval, loop.tick); err != nil {
				errCh <- fmt.Errorf("%s loop failed: %w", loop.name, err)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}
	return nil
}

// startup performs the one-time measurement and component initialization
// before the loops begin.
func (m *Manager) startup(ctx context.Context) {
	m.mu.RLock()
	ifaces := append([]node.Interface(nil), m.local.Interfaces...)
	m.mu.RUnlock()

	samples := m.cfg.Collector.SampleAll(ctx, ifaces)
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	for i := range m.local.Interfaces {
		if q, ok := samples[m.local.Interfaces[i].Name]; ok {
			m.local.Interfaces[i].Quality = q
		}
	}
	m.local.UpdatedAt = now
	local := m.local.Clone()
	m.mu.Unlock()

	m.cfg.Aggregator.Initialize(local.Interfaces)
	m.cfg.Aggregator.SetFailedView(m.cfg.Failover.Failed)

	m.log.Info("mesh: started",
		"node_id", local.ID,
		"address", local.Address,
		"interfaces", local.Connections(),
	)
}

// runLoop drives one control loop: an immediate first tick, then one tick
// per interval until ctx is done. A panic inside a tick is not recovered;
// tick implementations log and swallow their own errors.
func (m *Manager) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) error {
	ticker := m.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("mesh: loop stopping", "loop", name, "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			tick(ctx)
		}
	}
}

// discoveryTick runs one discovery pass, reconciles returned peers into
// the table and evicts stale entries.
func (m *Manager) discoveryTick(ctx context.Context) {
	local := m.LocalNode()

	peers, err := m.cfg.Discoverer.RunPass(ctx, local)
	if err != nil {
		m.log.Error("mesh: discovery pass failed", "error", err)
		metrics.LoopTicksTotal.WithLabelValues("discovery", "error").Inc()
		return
	}

	m.UpsertPeers(peers)
	m.peers.DeleteExpired()
	metrics.PeersCurrent.Set(float64(m.peers.Len()))
	metrics.LoopTicksTotal.WithLabelValues("discovery", "ok").Inc()
}

// monitoringTick refreshes local interface quality and runs the failover
// health checks, then mirrors the failover view into the node record.
func (m *Manager) monitoringTick(ctx context.Context) {
	m.reconcileInterfaces(ctx)

	m.mu.RLock()
	ifaces := append([]node.Interface(nil), m.local.Interfaces...)
	m.mu.RUnlock()

	samples := m.cfg.Collector.SampleAll(ctx, ifaces)

	names := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Up {
			names = append(names, ifc.Name)
		}
	}
	m.cfg.Failover.CheckHealth(ctx, names)

	failed := m.cfg.Failover.Failed()
	counters := m.cfg.Failover.Snapshot().Counters
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	for i := range m.local.Interfaces {
		ifc := &m.local.Interfaces[i]
		if q, ok := samples[ifc.Name]; ok {
			ifc.Quality = q
		}
		ifc.Active = ifc.Up && !failed[ifc.Name]
		if c, ok := counters[ifc.Name]; ok {
			ifc.ConsecutiveFailures = c.ConsecutiveFailures
			ifc.ConsecutiveSuccesses = c.ConsecutiveSuccesses
		}
	}
	m.local.UpdatedAt = now
	m.mu.Unlock()

	metrics.LoopTicksTotal.WithLabelValues("monitoring", "ok").Inc()
}

// reconcileInterfaces refreshes the interface set from live enumeration:
// operational state and addresses are updated, new interfaces join the
// record, vanished interfaces leave the active set.
func (m *Manager) reconcileInterfaces(ctx context.Context) {
	live, err := m.cfg.Enumerator.Interfaces(ctx)
	if err != nil {
		m.log.Error("mesh: interface enumeration failed", "error", err)
		return
	}
	byName := make(map[string]node.Interface, len(live))
	for _, ifc := range live {
		byName[ifc.Name] = ifc
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.local.Interfaces))
	for i := range m.local.Interfaces {
		ifc := &m.local.Interfaces[i]
		seen[ifc.Name] = true
		cur, ok := byName[ifc.Name]
		if !ok {
			// Vanished interface: out of the active set, record kept
			// for when it returns.
			ifc.Up = false
			ifc.Active = false
			continue
		}
		ifc.Up = cur.Up
		ifc.Address = cur.Address
		ifc.HWAddress = cur.HWAddress
		ifc.SignalStrength = cur.SignalStrength
	}
	for _, ifc := range live {
		if !seen[ifc.Name] {
			m.log.Info("mesh: new interface discovered", "interface", ifc.Name, "kind", ifc.Kind)
			m.local.Interfaces = append(m.local.Interfaces, ifc)
		}
	}
}

// optimizationTick republishes the local interface snapshot to the
// aggregator and logs a concise load summary.
func (m *Manager) optimizationTick(_ context.Context) {
	local := m.LocalNode()
	m.cfg.Aggregator.Optimize(local.Interfaces)

	m.log.Info("mesh: optimization",
		"mode", m.cfg.Aggregator.Mode(),
		"weights", m.cfg.Aggregator.Weights(),
		"active", local.ActiveInterfaces(),
	)
	metrics.LoopTicksTotal.WithLabelValues("optimization", "ok").Inc()
}

// housekeepingTick mirrors queue accounting into the node record and
// publishes gauge snapshots.
func (m *Manager) housekeepingTick(_ context.Context) {
	stats := m.cfg.Aggregator.QueueStats()

	m.mu.Lock()
	active := 0
	for i := range m.local.Interfaces {
		ifc := &m.local.Interfaces[i]
		if st, ok := stats[ifc.Name]; ok {
			ifc.PacketsSent = st.PacketsSent
			ifc.BytesSent = st.BytesSent
			ifc.DataUsedMB = float64(st.BytesSent) / bytesPerMB
		}
		if ifc.Active {
			active++
		}
	}
	m.mu.Unlock()

	for name, st := range stats {
		metrics.QueueDepth.WithLabelValues(name).Set(float64(st.Depth))
	}
	metrics.ActiveInterfacesCurrent.Set(float64(active))
	metrics.LoopTicksTotal.WithLabelValues("housekeeping", "ok").Inc()
}

// UpsertPeers merges discovered peer records into the table. Each entry's
// TTL is discounted by the advertised record's age, so a record already
// older than the freshness window never becomes visible.
func (m *Manager) UpsertPeers(peers []node.Node) {
	now := m.cfg.Clock.Now()
	for _, peer := range peers {
		if peer.ID == "" || peer.ID == m.cfg.NodeID {
			continue
		}
		ttl := m.cfg.PeerTTL
		if !peer.LastSeen.IsZero() {
			age := now.Sub(peer.LastSeen)
			if age >= m.cfg.PeerTTL {
				continue
			}
			if age > 0 {
				ttl = m.cfg.PeerTTL - age
			}
		} else {
			peer.LastSeen = now
		}
		m.peers.Set(peer.ID, peer, ttl)
	}
}

// LocalNode returns a clone of the local node record.
func (m *Manager) LocalNode() node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local.Clone()
}

// ManualFailover delegates the operator override to the failover manager
// and refreshes the aggregator's snapshot immediately.
func (m *Manager) ManualFailover(from, to string) error {
	if err := m.cfg.Failover.ManualFailover(from, to); err != nil {
		return err
	}
	m.cfg.Aggregator.Optimize(m.LocalNode().Interfaces)
	return nil
}

// SetInterfaceAdmin brings the named interface administratively up or
// down through the platform port.
func (m *Manager) SetInterfaceAdmin(name string, up bool) error {
	if _, ok := m.LocalNode().Interface(name); !ok {
		return fmt.Errorf("%w: %s", platform.ErrUnavailableInterface, name)
	}
	if up {
		return m.cfg.Enumerator.AdminUp(name)
	}
	return m.cfg.Enumerator.AdminDown(name)
}
