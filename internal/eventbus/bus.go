package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Capacity is the bounded size of each subscriber's queue (§4.I).
const Capacity = 32000

var log = logrus.WithField("component", "eventbus")

// Bus is a single-producer, multi-consumer broadcast channel. Every
// Publish fans out to every current subscriber's own bounded queue;
// a slow subscriber never blocks the producer or any other subscriber
// — its queue simply drops the event and the drop is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// New constructs an empty Bus. Subscribers register with Subscribe.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscription is a consumer's handle on the Bus: a receive-only channel
// plus the id needed to unsubscribe.
type Subscription struct {
	id int
	ch chan Event
	b  *Bus
}

// C returns the channel to receive events from. It is closed when the
// bus unsubscribes this subscription or Close is called on the Bus.
func (s *Subscription) C() <-chan Event { return s.ch }

// Unsubscribe removes this subscription from the bus and closes its
// channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.b.unsubscribe(s.id) }

// Subscribe registers a new consumer and returns its Subscription. A
// subscriber registered before Publish is called observes every
// subsequent event that fits in its queue; events arriving while its
// queue is full are dropped for it (per-consumer FIFO, no
// cross-consumer ordering guarantee per §4.I).
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, Capacity)
	b.subs[id] = ch
	return &Subscription{id: id, ch: ch, b: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans ev out to every current subscriber. It never blocks: a
// subscriber whose queue is full has ev dropped for it specifically.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.WithField("subscriber", id).Warn("event dropped: subscriber queue full")
		}
	}
}

// Close terminates every current subscription after broadcasting a
// Termination event, which every subscriber must honour by shutting
// down its own processing loop.
func (b *Bus) Close() {
	b.Publish(Termination())
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
