package bus

import (
	"strings"
	"sync"
	"time"
)

// Broadcaster is an in-process fan-out of domain events to subscribed
// real-time clients. Delivery is best-effort and at-most-once: a full
// subscriber buffer drops the event, nothing is persisted or retried, and a
// subscriber that attaches after an event was published never receives it.
// Events are delivered to each subscriber in publish order.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	topicPrefix string
	ch          chan Event
}

// New creates a new broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event on the given topic to all subscribers whose
// topic prefix matches.
func (b *Broadcaster) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Timestamp: time.Now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(topic, sub.topicPrefix) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber buffer full: drop (best-effort delivery).
			}
		}
	}
}

// Subscribe returns a channel that receives events whose topic starts with
// the given prefix. An empty prefix receives everything. bufSize controls
// the channel buffer. Returns the channel and an unsubscribe function.
func (b *Broadcaster) Subscribe(topicPrefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{topicPrefix: topicPrefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
