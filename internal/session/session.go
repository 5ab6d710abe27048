package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/receiver"
	"github.com/brije111/quietshare/internal/transmitter"
)

var (
	// ErrNotOpen is returned by operations that need an open profile
	ErrNotOpen = errors.New("session: not open")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("session: closed")
	// ErrNoInput is returned by Listen when the session has no audio input
	ErrNoInput = errors.New("session: no audio input configured")
)

// DefaultListenerBuffer is the event channel size of a listener
const DefaultListenerBuffer = 32

// Config holds session configuration
type Config struct {
	ListenerBuffer int
	Receiver       []receiver.Option
	Transmitter    []transmitter.Option
}

// Info represents a session snapshot for monitoring and APIs
type Info struct {
	Open        bool               `json:"open"`
	Profile     string             `json:"profile,omitempty"`
	OpenedAt    time.Time          `json:"opened_at,omitempty"`
	Uptime      time.Duration      `json:"uptime"`
	Listening   bool               `json:"listening"`
	ListenError string             `json:"listen_error,omitempty"`
	Switches    int                `json:"profile_switches"`
	Listeners   int                `json:"listeners"`
	Receiver    receiver.Status    `json:"receiver"`
	Transmitter *transmitter.Stats `json:"transmitter,omitempty"`
	Latest      *receiver.Event    `json:"latest_event,omitempty"`
}

// profileAware is implemented by sinks that announce the profile they play
type profileAware interface {
	SetProfile(name string)
}

// Listener receives a copy of every reception event. When its channel is
// full the oldest buffered event is dropped.
type Listener struct {
	id      string
	ch      chan receiver.Event
	dropped atomic.Uint64
}

// ID returns the listener identifier
func (l *Listener) ID() string { return l.id }

// Events returns the event channel. It is closed when the listener is
// removed or the session is closed.
func (l *Listener) Events() <-chan receiver.Event { return l.ch }

// Dropped returns the number of events this listener missed
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

func (l *Listener) deliver(ev receiver.Event) {
	select {
	case l.ch <- ev:
		return
	default:
	}
	select {
	case <-l.ch:
	default:
	}
	select {
	case l.ch <- ev:
	default:
	}
	l.dropped.Add(1)
}

// Session owns at most one transmitter and one receiver, both running the
// same profile. It is created by the caller and torn down with Close.
type Session struct {
	cfg      Config
	registry *profile.Registry
	sink     audio.Sink
	rx       *receiver.Receiver // nil when there is no input
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	profile   profile.Profile
	open      bool
	closed    bool
	openedAt  time.Time
	tx        *transmitter.Transmitter
	sub       *receiver.Subscription
	listenErr error
	latest    *receiver.Event
	switches  int
	listeners map[string]*Listener
}

// New creates a closed session. input may be nil for a send-only session.
func New(cfg Config, registry *profile.Registry, sink audio.Sink, input audio.Input, gate receiver.AccessGate, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ListenerBuffer <= 0 {
		cfg.ListenerBuffer = DefaultListenerBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		registry:  registry,
		sink:      sink,
		logger:    logger,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*Listener),
	}
	if input != nil {
		opts := append([]receiver.Option{receiver.WithMetrics(m)}, cfg.Receiver...)
		s.rx = receiver.New(input, gate, logger, opts...)
	}
	return s
}

// Open resolves profileName and starts the transmitter and receiver for it.
// If the access gate refuses the receiver, Open returns an error wrapping
// receiver.ErrAccessDenied but the session stays open for sending; Listen
// retries once access is granted.
func (s *Session) Open(ctx context.Context, profileName string) error {
	p, err := s.registry.Resolve(profileName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.open {
		return fmt.Errorf("session already open with profile %s", s.profile.Name)
	}
	return s.openLocked(ctx, p)
}

func (s *Session) openLocked(ctx context.Context, p profile.Profile) error {
	opts := append([]transmitter.Option{
		transmitter.WithLogger(s.logger),
		transmitter.WithMetrics(s.metrics),
	}, s.cfg.Transmitter...)
	tx, err := transmitter.New(p, s.sink, opts...)
	if err != nil {
		return err
	}

	if pa, ok := s.sink.(profileAware); ok {
		pa.SetProfile(p.Name)
	}

	s.profile = p
	s.tx = tx
	s.open = true
	s.openedAt = time.Now()

	s.logger.Info("Session opened",
		slog.String("profile", p.Name),
		slog.Bool("receive", s.rx != nil),
	)

	if s.rx == nil {
		return nil
	}
	return s.listenLocked(ctx)
}

// Listen starts the receiver if it is not running, for example after input
// access was granted
func (s *Session) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.open {
		return ErrNotOpen
	}
	if s.rx == nil {
		return ErrNoInput
	}
	if s.listeningLocked() {
		return nil
	}
	if s.sub != nil {
		// The run ended but pump has not released it yet
		s.rx.Stop(s.sub)
		s.sub = nil
	}
	return s.listenLocked(ctx)
}

// listenLocked starts the receiver. The run is bound to the session, not to
// ctx, which only aborts the start itself.
func (s *Session) listenLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub, err := s.rx.Start(s.ctx, s.profile)
	if err != nil {
		s.listenErr = err
		s.logger.Warn("Receiver not started",
			slog.String("profile", s.profile.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to start receiver: %w", err)
	}

	s.listenErr = nil
	s.sub = sub
	go s.pump(sub)
	return nil
}

// pump moves events from the receiver subscription to the listeners. It
// ends when the subscription is stopped.
func (s *Session) pump(sub *receiver.Subscription) {
	for {
		ev, err := sub.Next(s.ctx)
		if err != nil {
			s.ended(sub)
			return
		}
		s.dispatch(sub, ev)
	}
}

// ended releases a receiver run that finished on its own, after a source
// error or the end of a finite input, so Listen can start a new one
func (s *Session) ended(sub *receiver.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != sub {
		return
	}
	s.rx.Stop(sub)
	s.sub = nil
	s.listenErr = errors.New("receiver input ended")

	s.logger.Warn("Receiver stopped, input ended",
		slog.String("profile", s.profile.Name),
		slog.String("subscription_id", sub.ID()),
	)
}

// listeningLocked reports whether the current receiver run is still active
func (s *Session) listeningLocked() bool {
	if s.sub == nil {
		return false
	}
	select {
	case <-s.sub.Done():
		return false
	default:
		return true
	}
}

func (s *Session) dispatch(sub *receiver.Subscription, ev receiver.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop events read just before the subscription was torn down
	if s.sub != sub {
		return
	}
	s.latest = &ev
	for _, l := range s.listeners {
		l.deliver(ev)
	}
}

// teardownLocked stops the receiver then the transmitter. The receiver is
// fully stopped, input released, before it returns.
func (s *Session) teardownLocked() {
	if s.sub != nil {
		s.rx.Stop(s.sub)
		s.sub = nil
	}
	if s.tx != nil {
		s.tx.Close()
		s.tx = nil
	}
	s.open = false
}

// SwitchProfile replaces the running transmitter and receiver with ones for
// profileName. The old receiver is stopped before the new one starts.
func (s *Session) SwitchProfile(ctx context.Context, profileName string) error {
	p, err := s.registry.Resolve(profileName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	previous := s.profile.Name
	if s.open {
		s.teardownLocked()
	}
	s.switches++
	s.metrics.RecordProfileSwitch()

	s.logger.Info("Switching profile",
		slog.String("from", previous),
		slog.String("to", p.Name),
	)
	return s.openLocked(ctx, p)
}

// Send encodes payload with the session profile and queues it for playback
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	tx := s.tx
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if tx == nil {
		return ErrNotOpen
	}
	return tx.Send(payload)
}

// Profile returns the active profile
func (s *Session) Profile() (profile.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.open
}

// Events adds a listener with a channel of the given size; zero uses the
// session default
func (s *Session) Events(size int) *Listener {
	if size <= 0 {
		size = s.cfg.ListenerBuffer
	}
	l := &Listener{
		id: uuid.NewString(),
		ch: make(chan receiver.Event, size),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(l.ch)
		return l
	}
	s.listeners[l.id] = l
	s.metrics.SetListeners(len(s.listeners))
	return l
}

// RemoveListener detaches l and closes its channel
func (s *Session) RemoveListener(l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[l.id]; !ok {
		return
	}
	delete(s.listeners, l.id)
	close(l.ch)
	s.metrics.SetListeners(len(s.listeners))
}

// Latest returns the most recent reception event
func (s *Session) Latest() (receiver.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return receiver.Event{}, false
	}
	return *s.latest, true
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Open:      s.open,
		Switches:  s.switches,
		Listeners: len(s.listeners),
		Listening: s.listeningLocked(),
	}
	if s.open {
		info.Profile = s.profile.Name
		info.OpenedAt = s.openedAt
		info.Uptime = time.Since(s.openedAt)
	}
	if s.listenErr != nil {
		info.ListenError = s.listenErr.Error()
	}
	if s.rx != nil {
		info.Receiver = s.rx.Status()
	}
	if s.tx != nil {
		stats := s.tx.Stats()
		info.Transmitter = &stats
	}
	if s.latest != nil {
		ev := *s.latest
		info.Latest = &ev
	}
	return info
}

// Close tears the session down and closes every listener. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.teardownLocked()
	s.cancel()

	for id, l := range s.listeners {
		delete(s.listeners, id)
		close(l.ch)
	}
	s.metrics.SetListeners(0)

	s.logger.Info("Session closed", slog.Int("profile_switches", s.switches))
	return nil
}
