// Package platform supplies the OS-level capabilities the bonding engine
// consumes: interface enumeration and classification, admin state changes,
// broadcast datagram I/O, and bounded-deadline reachability probes. The
// engine depends only on the port interfaces here; tests substitute fakes.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/weftlabs/meshbond/internal/node"
)

var (
	// ErrUnavailableInterface is returned when a named interface has
	// disappeared from the system.
	ErrUnavailableInterface = errors.New("interface unavailable")

	// ErrProbeTimeout is returned when a reachability check exceeded its
	// deadline.
	ErrProbeTimeout = errors.New("probe timeout")
)

// Enumerator lists and manages local network interfaces.
type Enumerator interface {
	// Interfaces returns all non-loopback interfaces, classified by kind.
	Interfaces(ctx context.Context) ([]node.Interface, error)
	// IsUp reports the operational state of the named interface.
	IsUp(name string) (bool, error)
	// AdminUp brings the named interface administratively up.
	AdminUp(name string) error
	// AdminDown takes the named interface administratively down.
	AdminDown(name string) error
	// LocalAddress returns the host's outbound IPv4 address.
	LocalAddress() (string, error)
	// HWAddress returns the hardware address of the named interface.
	HWAddress(name string) (string, error)
}

// Broadcaster sends and receives discovery datagrams on the broadcast
// domain. Implementations own a bound socket; a bind failure at
// construction aborts startup.
type Broadcaster interface {
	// Send writes one datagram to the broadcast address.
	Send(ctx context.Context, payload []byte) error
	// Recv collects datagrams arriving within the window. It returns
	// early when ctx is done.
	Recv(ctx context.Context, window time.Duration) ([][]byte, error)
	Close() error
}

// ProbeOptions bound a probe batch. Zero values take the prober defaults
// (one echo, 100ms spacing).
type ProbeOptions struct {
	Count    int
	Interval time.Duration
	Timeout  time.Duration
}

// ProbeStats summarizes one probe batch against a single target.
type ProbeStats struct {
	Sent      int
	Received  int
	AvgRTT    time.Duration
	StdDevRTT time.Duration
	RTTs      []time.Duration
	LossPct   float64
}

// Reachable reports whether any echo came back.
func (s ProbeStats) Reachable() bool { return s.Received > 0 }

// Prober runs reachability checks bound to a specific interface. Probes
// must honour the timeout in opts; a lapsed ctx deadline surfaces as
// ErrProbeTimeout.
type Prober interface {
	Probe(ctx context.Context, ifaceName, target string, opts ProbeOptions) (ProbeStats, error)
}

// BandwidthEstimator produces the bandwidth figure carried in the quality
// snapshot. The default is a class-based estimate; an observed-throughput
// implementation may substitute real measurements.
type BandwidthEstimator interface {
	EstimateMbps(ctx context.Context, iface node.Interface) float64
}
