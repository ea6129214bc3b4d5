// Package discovery implements neighbour discovery over broadcast
// datagrams: node identity, the JSON wire format, and the periodic
// request/listen/advertise pass.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/weftlabs/meshbond/internal/metrics"
	"github.com/weftlabs/meshbond/internal/node"
	"github.com/weftlabs/meshbond/internal/platform"
)

const defaultListenWindow = 3 * time.Second

type Config struct {
	Logger      *slog.Logger
	Broadcaster platform.Broadcaster
	Clock       clockwork.Clock

	// NodeID is the local identity; advertisements echoing it are skipped.
	NodeID string
	// Group is the namespace selector; defaults to DefaultGroup.
	Group string
	// ListenWindow bounds the post-request collection phase.
	ListenWindow time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Broadcaster == nil {
		return errors.New("broadcaster is required")
	}
	if c.NodeID == "" {
		return errors.New("node id is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.ListenWindow <= 0 {
		c.ListenWindow = defaultListenWindow
	}
	return nil
}

// Discoverer runs discovery passes against the broadcast domain.
type Discoverer struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Discoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Discoverer{log: cfg.Logger, cfg: cfg}, nil
}

// RunPass performs one discovery pass: broadcast a request, collect replies
// for the listen window, validate them, then advertise the local node
// unconditionally. Transport errors are logged and swallowed; the pass
// returns whatever peers it collected. Malformed datagrams are dropped and
// counted.
func (d *Discoverer) RunPass(ctx context.Context, local node.Node) ([]node.Node, error) {
	now := d.cfg.Clock.Now()

	req := Request{
		Type:      TypeDiscoveryRequest,
		NodeID:    d.cfg.NodeID,
		Group:     d.cfg.Group,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
	if err := d.send(ctx, req); err != nil {
		d.log.Error("discovery: failed to broadcast request", "error", err)
	}

	raws, err := d.cfg.Broadcaster.Recv(ctx, d.cfg.ListenWindow)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error("discovery: receive failed", "error", err)
	}

	var peers []node.Node
	for _, raw := range raws {
		payload, result, err := Decode(raw, d.cfg.NodeID, d.cfg.Group)
		switch result {
		case DecodedPeer:
			metrics.DatagramsTotal.WithLabelValues("peer").Inc()
			peers = append(peers, payload.Node())
		case DecodedSkip:
			metrics.DatagramsTotal.WithLabelValues("skipped").Inc()
		case DecodedMalformed:
			metrics.DatagramsTotal.WithLabelValues("malformed").Inc()
			d.log.Debug("discovery: dropped malformed datagram", "error", err)
		}
	}

	if err := d.Advertise(ctx, local); err != nil {
		d.log.Error("discovery: failed to broadcast advertisement", "error", err)
	}

	metrics.DiscoveryPassesTotal.Inc()
	return peers, nil
}

// Advertise broadcasts one advertisement for the given node.
func (d *Discoverer) Advertise(ctx context.Context, local node.Node) error {
	now := d.cfg.Clock.Now()
	adv := Advertisement{
		Type:      TypeNodeAdvertisement,
		NodeData:  EncodeNode(local, now),
		Group:     d.cfg.Group,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
	return d.send(ctx, adv)
}

func (d *Discoverer) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode datagram: %w", err)
	}
	return d.cfg.Broadcaster.Send(ctx, data)
}
