package aggregator

import "sync"

// QueueStats is a point-in-time copy of one queue's accounting.
type QueueStats struct {
	Depth       int    `json:"depth"`
	PacketsSent uint64 `json:"packets_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
	Dropped     uint64 `json:"dropped"`
}

// sendQueue is the bounded FIFO of payloads pending on one interface. Each
// queue has its own mutex; enqueue and dequeue never take any other lock.
type sendQueue struct {
	mu    sync.Mutex
	items [][]byte
	cap   int

	packets uint64
	bytes   uint64
	dropped uint64
}

func newSendQueue(cap int) *sendQueue {
	return &sendQueue{cap: cap}
}

// tryPush appends the payload and updates accounting, or reports false at
// capacity with no side effects.
func (q *sendQueue) tryPush(payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		q.dropped++
		return false
	}
	q.items = append(q.items, payload)
	q.packets++
	q.bytes += uint64(len(payload))
	return true
}

// pop removes and returns the oldest payload, or false when empty.
func (q *sendQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	payload := q.items[0]
	q.items = q.items[1:]
	return payload, true
}

func (q *sendQueue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:       len(q.items),
		PacketsSent: q.packets,
		BytesSent:   q.bytes,
		Dropped:     q.dropped,
	}
}
