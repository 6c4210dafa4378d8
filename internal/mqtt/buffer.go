package mqtt

import log "github.com/sirupsen/logrus"

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 256

// outgoing is a serialized message waiting for the broker.
type outgoing struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages while the broker is unreachable. When full, the
// oldest QoS 0 message (a telemetry sample) is evicted first. A sample never
// evicts a QoS 1 lifecycle event; it is dropped itself instead. Lifecycle
// events only evict each other once nothing else is left.
// Not safe for concurrent use; the caller synchronizes.
type backlog struct {
	items    []outgoing
	capacity int
	overflow bool // warned since the last take
	dropped  uint64
}

func newBacklog(capacity int) *backlog {
	return &backlog{items: make([]outgoing, 0, capacity), capacity: capacity}
}

func (b *backlog) add(m outgoing) {
	if len(b.items) < b.capacity {
		b.items = append(b.items, m)
		return
	}
	if !b.overflow {
		log.WithFields(log.Fields{"component": "mqtt", "capacity": b.capacity}).
			Warn("offline buffer full, dropping oldest telemetry")
		b.overflow = true
	}
	b.dropped++

	victim := -1
	for i, it := range b.items {
		if it.qos == 0 {
			victim = i
			break
		}
	}
	if victim < 0 {
		if m.qos == 0 {
			// Full of lifecycle events: the sample is the one to go.
			return
		}
		victim = 0
	}
	b.items = append(b.items[:victim], b.items[victim+1:]...)
	b.items = append(b.items, m)
}

// requeue puts unsent messages back ahead of anything added since they were
// taken, applying the usual eviction if that overfills the backlog.
func (b *backlog) requeue(ms []outgoing) {
	newer := b.items
	b.items = make([]outgoing, 0, b.capacity)
	for _, m := range ms {
		b.add(m)
	}
	for _, m := range newer {
		b.add(m)
	}
}

// take returns everything held, oldest first, and empties the backlog.
func (b *backlog) take() []outgoing {
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = make([]outgoing, 0, b.capacity)
	b.overflow = false
	return out
}

func (b *backlog) size() int { return len(b.items) }
