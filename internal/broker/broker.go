// Package broker provides a best-effort publish/subscribe hub
package broker

import (
	"sync"
)

// Broker fans every published message out to all current subscribers.
// Each subscriber owns a bounded queue; when it is full the oldest queued
// message is dropped to make room. There is no replay.
type Broker[T any] struct {
	mu     sync.Mutex
	size   int
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// Subscription is one subscriber's view of a broker
type Subscription[T any] struct {
	broker  *Broker[T]
	ch      chan T
	dropped uint64
	once    sync.Once
}

// New creates a broker whose subscribers buffer up to size messages
func New[T any](size int) *Broker[T] {
	if size < 1 {
		size = 1
	}
	return &Broker[T]{
		size: size,
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber. It receives only messages
// published after this call.
func (b *Broker[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{broker: b, ch: make(chan T, b.size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers msg to every subscriber without blocking
func (b *Broker[T]) Publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(msg)
	}
}

// push is called with the broker lock held, which makes the
// drop-then-send sequence atomic with respect to other publishers
func (s *Subscription[T]) push(msg T) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Len returns the number of current subscribers
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everybody and closes their channels
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

// C returns the channel messages are delivered on. It is closed once the
// subscription or the broker is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many messages were discarded because the queue was full
func (s *Subscription[T]) Dropped() uint64 {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

// Close unsubscribes s. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.once.Do(func() { close(s.ch) })
}
