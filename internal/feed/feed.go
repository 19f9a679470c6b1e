package feed

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the per-subscriber buffer used when none is configured.
const DefaultCapacity = 256

// Feed is an in-process, ordered, lossless publish/subscribe channel with
// namespace filtering. A full subscriber blocks the publisher; events are
// never dropped. Subscribers only see events published after they subscribed.
type Feed struct {
	capacity int

	pubMu sync.Mutex
	seq   uint64

	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is a consumer handle. Read events from C; call Close when done.
// C is never closed; select on it together with your own cancellation.
type Subscription struct {
	C <-chan Event

	ch        chan Event
	namespace string
	done      chan struct{}
	once      sync.Once
	unsub     func()
}

// Close detaches the subscription. A publisher blocked on this subscriber is
// released. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.unsub()
	})
}

// New creates a feed whose subscribers buffer up to capacity events.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity: capacity,
		subs:     make(map[int]*Subscription),
	}
}

// Publish assigns the next sequence number and delivers evt to every
// subscriber whose namespace is a prefix of evt.Kind, waiting for buffer space
// where needed. Concurrent publishers are serialized so every subscriber sees
// the same order. It returns ctx.Err() if ctx ends while waiting; subscribers
// already served keep the event.
func (f *Feed) Publish(ctx context.Context, evt Event) (Event, error) {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	f.seq++
	evt.Seq = f.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	f.mu.RLock()
	targets := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return evt, ctx.Err()
		}
	}
	return evt, nil
}

// Subscribe returns a subscription receiving events whose kind starts with
// namespace. An empty namespace receives everything.
func (f *Feed) Subscribe(namespace string) *Subscription {
	ch := make(chan Event, f.capacity)
	sub := &Subscription{
		C:         ch,
		ch:        ch,
		namespace: namespace,
		done:      make(chan struct{}),
	}

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = sub
	f.mu.Unlock()

	sub.unsub = func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
	return sub
}

// Subscribers returns the number of attached subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
