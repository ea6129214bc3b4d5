package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	defaultProbeCount    = 1
	defaultProbeInterval = 100 * time.Millisecond
	defaultProbeTimeout  = 2 * time.Second
	defaultICMPSize      = 56 // 64 bytes - 8 byte ICMP header
)

// ICMPProber implements Prober with ICMP echo batches bound to a specific
// interface.
type ICMPProber struct {
	log        *slog.Logger
	privileged bool
}

// NewICMPProber returns a prober using raw ICMP sockets when privileged is
// true, UDP ping sockets otherwise.
func NewICMPProber(log *slog.Logger, privileged bool) *ICMPProber {
	return &ICMPProber{log: log, privileged: privileged}
}

// Probe sends opts.Count echoes to target out of the named interface and
// returns the batch statistics. The batch never outlives opts.Timeout.
func (p *ICMPProber) Probe(ctx context.Context, ifaceName, target string, opts ProbeOptions) (ProbeStats, error) {
	if _, err := net.InterfaceByName(ifaceName); err != nil {
		return ProbeStats{}, fmt.Errorf("%w: %s", ErrUnavailableInterface, ifaceName)
	}

	if opts.Count <= 0 {
		opts.Count = defaultProbeCount
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}

	pinger, err := probing.NewPinger(target)
	if err != nil {
		return ProbeStats{}, fmt.Errorf("failed to create pinger for %s: %w", target, err)
	}
	defer pinger.Stop()
	pinger.SetPrivileged(p.privileged)

	pinger.InterfaceName = ifaceName
	pinger.Count = opts.Count
	pinger.Interval = opts.Interval
	pinger.Timeout = opts.Timeout
	pinger.Size = defaultICMPSize

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := pinger.RunWithContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ProbeStats{}, fmt.Errorf("%w: %s via %s", ErrProbeTimeout, target, ifaceName)
		}
		return ProbeStats{}, fmt.Errorf("failed to probe %s via %s: %w", target, ifaceName, err)
	}

	stats := pinger.Statistics()
	return ProbeStats{
		Sent:      stats.PacketsSent,
		Received:  stats.PacketsRecv,
		AvgRTT:    stats.AvgRtt,
		StdDevRTT: stats.StdDevRtt,
		RTTs:      stats.Rtts,
		LossPct:   stats.PacketLoss,
	}, nil
}
