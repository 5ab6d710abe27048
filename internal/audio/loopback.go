package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Loopback connects a sink to an input inside one process, standing in for
// a speaker and a microphone sharing the same air. Audio played while no
// source is open is lost, the same way sound is lost when nobody listens.
type Loopback struct {
	mu         sync.Mutex
	sampleRate int
	realtime   bool
	maxBacklog int
	src        *loopbackSource
}

// LoopbackOption configures a Loopback
type LoopbackOption func(*Loopback)

// WithRealtime makes Play block for the buffer's duration
func WithRealtime() LoopbackOption {
	return func(l *Loopback) { l.realtime = true }
}

// WithBacklog bounds the samples queued for a slow reader. Older samples
// are dropped first.
func WithBacklog(d time.Duration) LoopbackOption {
	return func(l *Loopback) {
		l.maxBacklog = int(d.Seconds() * float64(l.sampleRate))
	}
}

// NewLoopback creates a loopback device running at sampleRate
func NewLoopback(sampleRate int, opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		sampleRate: sampleRate,
		maxBacklog: sampleRate * 60,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Play implements Sink
func (l *Loopback) Play(ctx context.Context, buf Buffer) error {
	if buf.SampleRate != l.sampleRate {
		return fmt.Errorf("%w: loopback runs at %d Hz, got %d Hz", ErrSampleRate, l.sampleRate, buf.SampleRate)
	}

	l.mu.Lock()
	src := l.src
	l.mu.Unlock()
	if src != nil {
		src.write(buf.Samples, l.maxBacklog)
	}

	if !l.realtime {
		return ctx.Err()
	}
	timer := time.NewTimer(buf.Duration())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open implements Input
func (l *Loopback) Open(sampleRate int) (Source, error) {
	if sampleRate != l.sampleRate {
		return nil, fmt.Errorf("%w: loopback runs at %d Hz, requested %d Hz", ErrSampleRate, l.sampleRate, sampleRate)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.src != nil {
		return nil, ErrDeviceBusy
	}
	src := &loopbackSource{owner: l}
	src.cond = sync.NewCond(&src.mu)
	l.src = src
	return src, nil
}

func (l *Loopback) detach(src *loopbackSource) {
	l.mu.Lock()
	if l.src == src {
		l.src = nil
	}
	l.mu.Unlock()
}

type loopbackSource struct {
	owner   *Loopback
	mu      sync.Mutex
	cond    *sync.Cond
	pending []int16
	closed  bool
}

func (s *loopbackSource) write(samples []int16, maxBacklog int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, samples...)
	if over := len(s.pending) - maxBacklog; maxBacklog > 0 && over > 0 {
		remaining := copy(s.pending, s.pending[over:])
		s.pending = s.pending[:remaining]
	}
	s.cond.Broadcast()
}

func (s *loopbackSource) Read(p []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, ErrClosed
	}
	n := copy(p, s.pending)
	remaining := copy(s.pending, s.pending[n:])
	s.pending = s.pending[:remaining]
	return n, nil
}

func (s *loopbackSource) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.pending = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if !already {
		s.owner.detach(s)
	}
	return nil
}
