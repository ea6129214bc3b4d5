// Package failover tracks per-interface health, moves traffic away from
// interfaces whose health has deteriorated past a threshold, and restores
// them after sustained recovery. Hysteresis on both edges prevents
// flapping.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/weftlabs/meshbond/internal/metrics"
	"github.com/weftlabs/meshbond/internal/notify"
	"github.com/weftlabs/meshbond/internal/platform"
)

// State is the manager's view of overall interface health.
type State int

const (
	StateNormal State = iota
	StateMonitoring
	StateFailingOver
	StateRecovering
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateMonitoring:
		return "monitoring"
	case StateFailingOver:
		return "failing_over"
	case StateRecovering:
		return "recovering"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// EventType labels entries in the failover event log.
type EventType string

const (
	EventConnectionLost     EventType = "connection_lost"
	EventConnectionRestored EventType = "connection_restored"
	EventManualFailover     EventType = "manual_failover"
)

// Event is one recorded failover occurrence.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Interface string    `json:"interface"`
	Details   string    `json:"details,omitempty"`
}

// Counters is a snapshot of one interface's hysteresis state.
type Counters struct {
	ConsecutiveFailures  int  `json:"consecutive_failures"`
	ConsecutiveSuccesses int  `json:"consecutive_successes"`
	Failed               bool `json:"failed"`
}

// Status is the externally visible failover view, copied by value.
type Status struct {
	State    State               `json:"state"`
	Primary  string              `json:"primary"`
	Backups  []string            `json:"backups"`
	Failed   []string            `json:"failed"`
	Events   []Event             `json:"events"`
	Counters map[string]Counters `json:"counters"`
}

const (
	defaultFailThreshold    = 3
	defaultRecoverThreshold = 2
	defaultProbeTimeout     = 5 * time.Second
	defaultMaxEvents        = 10
)

// DefaultTargets are the reachability targets probed when the config does
// not name its own.
var DefaultTargets = []string{"8.8.8.8", "1.1.1.1"}

type Config struct {
	Logger   *slog.Logger
	Prober   platform.Prober
	Notifier notify.Notifier
	Clock    clockwork.Clock

	Targets          []string
	FailThreshold    int
	RecoverThreshold int
	ProbeTimeout     time.Duration
	MaxEvents        int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Prober == nil {
		return errors.New("prober is required")
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.Targets) == 0 {
		c.Targets = DefaultTargets
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = defaultFailThreshold
	}
	if c.RecoverThreshold <= 0 {
		c.RecoverThreshold = defaultRecoverThreshold
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	return nil
}

// Manager runs the failover state machine. All mutable state lives behind
// one mutex; external callers receive snapshots by value.
type Manager struct {
	log *slog.Logger
	cfg *Config

	mu        sync.Mutex
	state     State
	primary   string
	preferred []string // primary preference order: configured primary, backups, rest
	all       []string
	trackers  map[string]*tracker
	events    []Event

	// degradedNotified holds the critical notification to one per
	// Degraded entry.
	degradedNotified bool
}

func New(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:      cfg.Logger,
		cfg:      cfg,
		state:    StateNormal,
		trackers: make(map[string]*tracker),
	}, nil
}

// Init seeds the manager with the interface set and the configured
// primary/backup preference. Interfaces not named in the preference keep
// their enumeration order after the backups.
func (m *Manager) Init(primary string, backups []string, all []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.all = slices.Clone(all)
	m.trackers = make(map[string]*tracker, len(all))
	for _, name := range all {
		m.trackers[name] = &tracker{}
	}

	m.preferred = m.preferred[:0]
	appendKnown := func(name string) {
		if slices.Contains(all, name) && !slices.Contains(m.preferred, name) {
			m.preferred = append(m.preferred, name)
		}
	}
	appendKnown(primary)
	for _, b := range backups {
		appendKnown(b)
	}
	for _, name := range all {
		appendKnown(name)
	}

	if len(m.preferred) > 0 {
		m.primary = m.preferred[0]
	}
	m.state = m.inferStateLocked()
}

// CheckHealth runs one monitoring tick over the given interfaces. Each
// interface is probed against every target concurrently under the probe
// deadline; an interface is healthy iff strictly more than half of its
// probes succeed.
func (m *Manager) CheckHealth(ctx context.Context, ifaces []string) {
	results := make([]bool, len(ifaces))
	var wg sync.WaitGroup
	for i, name := range ifaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probeInterface(ctx, name)
		}()
	}
	wg.Wait()

	for i, name := range ifaces {
		m.applyOutcome(name, results[i])
	}

	m.mu.Lock()
	m.setStateLocked(m.inferStateLocked())
	m.mu.Unlock()
}

// probeInterface probes every target via the interface and reports whether
// strictly more than half succeeded.
func (m *Manager) probeInterface(ctx context.Context, name string) bool {
	targets := m.cfg.Targets
	successes := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := m.cfg.Prober.Probe(ctx, name, target, platform.ProbeOptions{
				Count:   1,
				Timeout: m.cfg.ProbeTimeout,
			})
			if err != nil {
				m.log.Debug("failover: probe failed", "interface", name, "target", target, "error", err)
				return
			}
			successes[i] = stats.Reachable()
		}()
	}
	wg.Wait()

	ok := 0
	for _, s := range successes {
		if s {
			ok++
		}
	}
	healthy := ok*2 > len(targets)
	outcome := "unhealthy"
	if healthy {
		outcome = "healthy"
	}
	metrics.HealthChecksTotal.WithLabelValues(name, outcome).Inc()
	return healthy
}

// applyOutcome feeds one health-check result into the interface's tracker
// and handles any resulting transition.
func (m *Manager) applyOutcome(name string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.trackers[name]
	if !ok {
		tr = &tracker{}
		m.trackers[name] = tr
		if !slices.Contains(m.all, name) {
			m.all = append(m.all, name)
			m.preferred = append(m.preferred, name)
		}
	}

	switch tr.onOutcome(healthy, m.cfg.FailThreshold, m.cfg.RecoverThreshold) {
	case TransitionFailed:
		m.setStateLocked(StateFailingOver)
		m.recordEventLocked(EventConnectionLost, name,
			fmt.Sprintf("%d consecutive failed health checks", tr.consecFails))
		m.log.Warn("failover: interface failed", "interface", name)
		if name == m.primary {
			m.electPrimaryLocked()
		}
	case TransitionRecovered:
		m.setStateLocked(StateRecovering)
		m.recordEventLocked(EventConnectionRestored, name,
			fmt.Sprintf("%d consecutive successful health checks", tr.consecSuccesses))
		m.log.Info("failover: interface recovered", "interface", name)
		m.electPrimaryLocked()
	}
}

// electPrimaryLocked picks the first non-failed interface in preference
// order. With everything failed the primary is cleared.
func (m *Manager) electPrimaryLocked() {
	for _, name := range m.preferred {
		if tr, ok := m.trackers[name]; ok && !tr.failed {
			if m.primary != name {
				m.log.Info("failover: new primary", "primary", name, "previous", m.primary)
			}
			m.primary = name
			return
		}
	}
	m.primary = ""
}

// inferStateLocked derives the steady state from the failed-set size.
func (m *Manager) inferStateLocked() State {
	total := len(m.all)
	active := 0
	for _, name := range m.all {
		if tr, ok := m.trackers[name]; ok && !tr.failed {
			active++
		}
	}
	switch {
	case total > 0 && active == 0:
		return StateDegraded
	case active == total:
		return StateNormal
	case active == 1:
		return StateMonitoring
	default:
		return StateNormal
	}
}

// setStateLocked applies a transition, logging it and firing the critical
// notification exactly once per Degraded entry.
func (m *Manager) setStateLocked(next State) {
	if next == m.state {
		return
	}
	m.log.Info("failover: state changed", "from", m.state, "to", next)
	m.state = next
	metrics.FailoverState.Set(float64(next))

	if next == StateDegraded {
		if !m.degradedNotified {
			m.degradedNotified = true
			m.cfg.Notifier.Critical(context.Background(), "mesh degraded",
				"all interfaces have failed health checks; traffic cannot be steered")
		}
		return
	}
	m.degradedNotified = false
}

func (m *Manager) recordEventLocked(typ EventType, iface, details string) {
	m.events = append(m.events, Event{
		Timestamp: m.cfg.Clock.Now(),
		Type:      typ,
		Interface: iface,
		Details:   details,
	})
	if len(m.events) > m.cfg.MaxEvents {
		m.events = m.events[len(m.events)-m.cfg.MaxEvents:]
	}
	metrics.FailoverTransitionsTotal.WithLabelValues(string(typ)).Inc()
}

// ManualFailover forces traffic from one interface to another: from joins
// the failed set, to leaves it, and to becomes primary.
func (m *Manager) ManualFailover(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromTr, ok := m.trackers[from]
	if !ok {
		return fmt.Errorf("unknown interface: %s", from)
	}
	toTr, ok := m.trackers[to]
	if !ok {
		return fmt.Errorf("unknown interface: %s", to)
	}

	fromTr.failed = true
	fromTr.consecFails = 0
	fromTr.consecSuccesses = 0
	toTr.failed = false
	toTr.consecFails = 0
	toTr.consecSuccesses = 0
	m.primary = to

	m.recordEventLocked(EventManualFailover, from, fmt.Sprintf("forced over to %s", to))
	m.log.Info("failover: manual override", "from", from, "to", to)
	m.setStateLocked(m.inferStateLocked())
	return nil
}

// Failed returns the current failed set. The aggregator consumes this as
// its health view.
func (m *Manager) Failed() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for name, tr := range m.trackers {
		if tr.failed {
			out[name] = true
		}
	}
	return out
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the full failover view by value.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:    m.state,
		Primary:  m.primary,
		Events:   slices.Clone(m.events),
		Counters: make(map[string]Counters, len(m.trackers)),
	}
	for _, name := range m.preferred {
		if name != m.primary {
			st.Backups = append(st.Backups, name)
		}
	}
	for name, tr := range m.trackers {
		if tr.failed {
			st.Failed = append(st.Failed, name)
		}
		st.Counters[name] = Counters{
			ConsecutiveFailures:  tr.consecFails,
			ConsecutiveSuccesses: tr.consecSuccesses,
			Failed:               tr.failed,
		}
	}
	slices.Sort(st.Failed)
	return st
}
