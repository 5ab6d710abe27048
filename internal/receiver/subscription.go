package receiver

import (
	"context"
	"sync"

	"github.com/brije111/quietshare/internal/metrics"
)

// DefaultQueueSize is the number of undelivered events kept per subscription
const DefaultQueueSize = 16

// Subscription is the consumer side of one receiver run. Events are queued
// in order; when the queue is full the oldest event is dropped.
type Subscription struct {
	id      string
	profile string
	size    int
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []Event
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{} // closed when the receive loop has ended
}

func newSubscription(id, profileName string, size int, m *metrics.Metrics) *Subscription {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Subscription{
		id:      id,
		profile: profileName,
		size:    size,
		metrics: m,
		queue:   make([]Event, 0, size),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// ID returns the subscription identifier
func (s *Subscription) ID() string { return s.id }

// Profile returns the name of the profile being received
func (s *Subscription) Profile() string { return s.profile }

// Done is closed when the receive loop has ended, either because of Stop or
// because the source ran out or failed
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of events discarded because the queue was full
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the number of queued events
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next returns the oldest queued event, waiting for one if necessary. It
// returns ErrStopped once the subscription is stopped, or once the loop has
// ended and every queued event was delivered.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrStopped
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
			// Events pushed before done was closed are picked up above
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return Event{}, ErrStopped
			}
		}
	}
}

// TryNext returns the oldest queued event without waiting
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// push queues ev, dropping the oldest event if the queue is full
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	dropped := false
	if len(s.queue) >= s.size {
		s.queue = append(s.queue[:0], s.queue[1:]...)
		s.dropped++
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	if dropped {
		s.metrics.RecordEventsDropped(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish marks the loop as ended
func (s *Subscription) finish() {
	close(s.done)
}

// close discards queued events; Next returns ErrStopped from now on
func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
