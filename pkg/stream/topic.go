// Package stream provides the broadcast channels the session manager publishes on.
//
// A Topic has a single producer and any number of subscribers. Each subscriber
// owns a RingChannel, so a slow reader loses its oldest values instead of
// stalling the producer. New subscribers first receive the most recent value.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// DefaultCapacity is the per-subscriber buffer size used when none is given.
const DefaultCapacity = 16

// Topic is a single-producer, multi-consumer broadcast channel.
type Topic[T any] struct {
	name     string
	capacity int

	mu     sync.Mutex // orders Publish against Subscribe, unsubscribe and Close
	subs   *hashmap.Map[uint64, *Subscription[T]]
	nextID atomic.Uint64
	last   *T
	closed bool
}

// NewTopic creates a topic whose subscribers buffer up to capacity values.
// A non-positive capacity selects DefaultCapacity.
func NewTopic[T any](name string, capacity int) *Topic[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Topic[T]{
		name:     name,
		capacity: capacity,
		subs:     hashmap.New[uint64, *Subscription[T]](),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Publish delivers v to every subscriber without blocking.
// Publishing on a closed topic is a no-op.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.last = &v
	t.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		s.ring.Send(v)
		return true
	})
}

// Last returns the most recently published value.
func (t *Topic[T]) Last() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		var zero T
		return zero, false
	}
	return *t.last, true
}

// Subscribe registers a new subscriber. The latest value, if any, is delivered first.
// Subscribing to a closed topic returns a subscription whose channel is already closed.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		id:    t.nextID.Add(1),
		ring:  NewRingChannel[T](t.capacity),
		topic: t,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		s.ring.Close()
		s.closed = true
		return s
	}
	if t.last != nil {
		s.ring.Send(*t.last)
	}
	t.subs.Set(s.id, s)
	return s
}

// Subscribers returns the number of active subscriptions.
func (t *Topic[T]) Subscribers() int {
	return t.subs.Len()
}

// Close closes every subscription channel. Further publishes are dropped.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	subs := make([]*Subscription[T], 0, t.subs.Len())
	t.subs.Range(func(_ uint64, s *Subscription[T]) bool {
		subs = append(subs, s)
		return true
	})
	for _, s := range subs {
		s.closeLocked()
	}
}

func (t *Topic[T]) remove(s *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.closeLocked()
}

// Subscription is one consumer's view of a Topic.
type Subscription[T any] struct {
	id      uint64
	ring   *RingChannel[T]
	topic  *Topic[T]
	closed bool // guarded by topic.mu
}

// C returns the channel values arrive on. It is closed when the subscription or topic closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ring.C()
}

// Dropped returns how many values were overwritten before this subscriber read them.
func (s *Subscription[T]) Dropped() int64 {
	return s.ring.GetMetrics().Overwritten
}

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.topic.remove(s)
}

// closeLocked must be called with topic.mu held.
func (s *Subscription[T]) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.topic.subs.Del(s.id)
	s.ring.Close()
}
