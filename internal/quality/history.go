package quality

import "github.com/weftlabs/meshbond/internal/node"

// history is the bounded per-interface sample deque. Access is guarded by
// the collector's mutex.
type history struct {
	samples []node.Quality
	cap     int
}

func newHistory(cap int) *history {
	return &history{cap: cap}
}

func (h *history) push(q node.Quality) {
	h.samples = append(h.samples, q)
	if len(h.samples) > h.cap {
		h.samples = h.samples[len(h.samples)-h.cap:]
	}
}

func (h *history) snapshot() []node.Quality {
	out := make([]node.Quality, len(h.samples))
	copy(out, h.samples)
	return out
}

// average is the arithmetic mean per field over the retained samples.
func (h *history) average() node.Quality {
	if len(h.samples) == 0 {
		return node.Quality{}
	}
	var avg node.Quality
	for _, s := range h.samples {
		avg.BandwidthMbps += s.BandwidthMbps
		avg.LatencyMs += s.LatencyMs
		avg.JitterMs += s.JitterMs
		avg.LossPct += s.LossPct
	}
	n := float64(len(h.samples))
	avg.BandwidthMbps /= n
	avg.LatencyMs /= n
	avg.JitterMs /= n
	avg.LossPct /= n
	avg.MeasuredAt = h.samples[len(h.samples)-1].MeasuredAt
	return avg
}

// peak is the maximum per field over the retained samples, loss included.
func (h *history) peak() node.Quality {
	if len(h.samples) == 0 {
		return node.Quality{}
	}
	var peak node.Quality
	for _, s := range h.samples {
		peak.BandwidthMbps = max(peak.BandwidthMbps, s.BandwidthMbps)
		peak.LatencyMs = max(peak.LatencyMs, s.LatencyMs)
		peak.JitterMs = max(peak.JitterMs, s.JitterMs)
		peak.LossPct = max(peak.LossPct, s.LossPct)
	}
	peak.MeasuredAt = h.samples[len(h.samples)-1].MeasuredAt
	return peak
}
