package telemetry

import "sync"

// subscriberBuffer is the per-subscriber event buffer size.
// A subscriber that falls this far behind starts losing events rather
// than blocking the core.
const subscriberBuffer = 32

// Subscriber receives core events on C. The channel is closed when the
// subscriber is removed from the broker.
type Subscriber struct {
	// C delivers events in publish order.
	C chan Event

	// dropped counts events lost because the buffer was full.
	dropped int
	mu      sync.Mutex
}

// Dropped returns how many events this subscriber has missed.
func (s *Subscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) recordDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// broker fans events out to subscribers.
//
// Publish snapshots the subscriber set under the read lock and delivers to
// every member: a subscriber present for the whole call receives the event
// exactly once. Sends are non-blocking; a full buffer drops the event for
// that subscriber only.
type broker struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[*Subscriber]struct{})}
}

// subscribe registers a new subscriber.
func (b *broker) subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// unsubscribe removes a subscriber and closes its channel.
// Safe to call for an already-removed subscriber.
func (b *broker) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, exists := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if exists {
		close(sub.C)
	}
}

// publish delivers an event to every current subscriber.
func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			sub.recordDrop()
		}
	}
}

// count returns the number of active subscribers.
func (b *broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
