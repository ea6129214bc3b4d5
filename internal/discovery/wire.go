package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weftlabs/meshbond/internal/node"
)

const (
	TypeDiscoveryRequest  = "DISCOVERY_REQUEST"
	TypeNodeAdvertisement = "NODE_ADVERTISEMENT"

	// DefaultGroup is the namespace selector carried in every datagram.
	// Nodes in different groups are invisible to each other.
	DefaultGroup = "MESH_NETWORK_GROUP"
)

// ErrMalformedDatagram is returned when a payload fails wire validation.
var ErrMalformedDatagram = errors.New("malformed datagram")

// envelope is the part of every datagram read before type dispatch.
type envelope struct {
	Type  string `json:"type"`
	Group string `json:"group"`
}

// Request solicits advertisements from every node in the group.
type Request struct {
	Type      string  `json:"type"`
	NodeID    string  `json:"node_id"`
	Group     string  `json:"group"`
	Timestamp float64 `json:"timestamp"`
}

// Advertisement carries one node's full record.
type Advertisement struct {
	Type      string  `json:"type"`
	NodeData  Payload `json:"node_data"`
	Group     string  `json:"group"`
	Timestamp float64 `json:"timestamp"`
}

// Payload is the wire form of a node record. Timestamps are seconds since
// the epoch.
type Payload struct {
	NodeID      string             `json:"node_id"`
	IPAddress   string             `json:"ip_address"`
	Connections []string           `json:"connections"`
	Bandwidth   map[string]float64 `json:"bandwidth"`
	Latency     map[string]float64 `json:"latency"`
	DataCaps    map[string]float64 `json:"data_caps"`
	Timestamp   float64            `json:"timestamp"`
}

// EncodeNode converts a node record to its wire payload.
func EncodeNode(n node.Node, now time.Time) Payload {
	return Payload{
		NodeID:      n.ID,
		IPAddress:   n.Address,
		Connections: n.Connections(),
		Bandwidth:   n.Bandwidth(),
		Latency:     n.Latency(),
		DataCaps:    n.DataCapsRemaining(),
		Timestamp:   float64(now.UnixNano()) / float64(time.Second),
	}
}

// Node converts a received payload back into a node record. The remaining
// data cap is carried as the peer's cap; usage on a remote node is not
// observable. Quality for connections absent from the maps is zero.
func (p Payload) Node() node.Node {
	n := node.Node{
		ID:      p.NodeID,
		Address: p.IPAddress,
	}
	if p.Timestamp > 0 {
		n.LastSeen = time.Unix(0, int64(p.Timestamp*float64(time.Second)))
	}
	for _, name := range p.Connections {
		n.Interfaces = append(n.Interfaces, node.Interface{
			Name:   name,
			Kind:   node.KindUnknown,
			Up:     true,
			Active: true,
			Quality: node.Quality{
				BandwidthMbps: p.Bandwidth[name],
				LatencyMs:     p.Latency[name],
				MeasuredAt:    n.LastSeen,
			},
			DataCapMB: p.DataCaps[name],
		})
	}
	return n
}

// requiredFields maps each mandatory payload field to a checker for its
// wire type. data_caps is optional for compatibility with minimal senders.
var requiredFields = map[string]func(json.RawMessage) bool{
	"node_id":     isJSONString,
	"ip_address":  isJSONString,
	"connections": isJSONArray,
	"bandwidth":   isJSONObject,
	"latency":     isJSONObject,
}

// DecodeResult classifies one received datagram.
type DecodeResult int

const (
	// DecodedPeer means the datagram was a valid advertisement from
	// another node.
	DecodedPeer DecodeResult = iota
	// DecodedSkip means the datagram was well-formed but carries nothing
	// for us: a request, an echo of our own advertisement, or another
	// group's traffic.
	DecodedSkip
	// DecodedMalformed means the datagram failed validation.
	DecodedMalformed
)

// Decode validates one raw datagram. A valid advertisement from a foreign
// node yields DecodedPeer and its payload. Requests, own echoes and other
// groups' datagrams are skipped without error. Everything else is
// malformed and returns a wrapped ErrMalformedDatagram.
func Decode(raw []byte, selfID, group string) (Payload, DecodeResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Payload{}, DecodedMalformed, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedDatagram, err)
	}
	if env.Group != group {
		return Payload{}, DecodedSkip, nil
	}

	switch env.Type {
	case TypeDiscoveryRequest:
		return Payload{}, DecodedSkip, nil
	case TypeNodeAdvertisement:
	default:
		return Payload{}, DecodedMalformed, fmt.Errorf("%w: unknown type %q", ErrMalformedDatagram, env.Type)
	}

	var adv struct {
		NodeData json.RawMessage `json:"node_data"`
	}
	if err := json.Unmarshal(raw, &adv); err != nil {
		return Payload{}, DecodedMalformed, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(adv.NodeData, &fields); err != nil {
		return Payload{}, DecodedMalformed, fmt.Errorf("%w: node_data is not an object: %v", ErrMalformedDatagram, err)
	}
	for name, check := range requiredFields {
		raw, ok := fields[name]
		if !ok {
			return Payload{}, DecodedMalformed, fmt.Errorf("%w: missing field %q", ErrMalformedDatagram, name)
		}
		if !check(raw) {
			return Payload{}, DecodedMalformed, fmt.Errorf("%w: field %q has wrong type", ErrMalformedDatagram, name)
		}
	}

	var payload Payload
	if err := json.Unmarshal(adv.NodeData, &payload); err != nil {
		return Payload{}, DecodedMalformed, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}
	if payload.NodeID == selfID {
		return Payload{}, DecodedSkip, nil
	}
	return payload, DecodedPeer, nil
}

func isJSONString(raw json.RawMessage) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil
}

func isJSONArray(raw json.RawMessage) bool {
	var a []any
	return json.Unmarshal(raw, &a) == nil
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]any
	return json.Unmarshal(raw, &m) == nil
}
