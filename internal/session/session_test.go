package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/receiver"
)

func newTestSession(t *testing.T, gate receiver.AccessGate) (*Session, *audio.Loopback) {
	t.Helper()
	reg, err := profile.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	lb := audio.NewLoopback(48000)
	s := New(Config{}, reg, lb, audio.Exclusive(lb), gate, nil, nil)
	t.Cleanup(func() { s.Close() })
	return s, lb
}

func waitEvent(t *testing.T, l *Listener) receiver.Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		if !ok {
			t.Fatal("Listener closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return receiver.Event{}
}

func TestSessionSendReceive(t *testing.T) {
	s, _ := newTestSession(t, receiver.AllowAll{})
	l := s.Events(0)

	if err := s.Open(context.Background(), "audible-fast"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Send([]byte("hi")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev := waitEvent(t, l)
	if ev.Kind != receiver.KindDecoded || string(ev.Payload) != "hi" {
		t.Fatalf("Expected Decoded(hi), got %v", ev)
	}

	latest, ok := s.Latest()
	if !ok || latest.ID != ev.ID {
		t.Errorf("Expected latest event %s, got %v", ev.ID, latest)
	}

	info := s.Info()
	if !info.Open || !info.Listening || info.Profile != "audible-fast" {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.Listeners != 1 {
		t.Errorf("Expected 1 listener, got %d", info.Listeners)
	}
	if info.Transmitter == nil || info.Latest == nil {
		t.Error("Expected transmitter stats and latest event in info")
	}
}

func TestSessionUnknownProfile(t *testing.T) {
	s, _ := newTestSession(t, receiver.AllowAll{})

	if err := s.Open(context.Background(), "nonexistent"); !errors.Is(err, profile.ErrUnknownProfile) {
		t.Errorf("Expected ErrUnknownProfile, got %v", err)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

func TestSessionSwitchProfile(t *testing.T) {
	s, _ := newTestSession(t, receiver.AllowAll{})
	l := s.Events(0)

	if err := s.Open(context.Background(), "audible-fast"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SwitchProfile(context.Background(), "nonexistent"); !errors.Is(err, profile.ErrUnknownProfile) {
		t.Fatalf("Expected ErrUnknownProfile, got %v", err)
	}
	if p, _ := s.Profile(); p.Name != "audible-fast" {
		t.Errorf("Expected profile unchanged after failed switch, got %s", p.Name)
	}

	// Repeated switches must never contend for the exclusive input
	for i := 0; i < 5; i++ {
		name := "ultrasonic"
		if i%2 == 1 {
			name = "audible-fast"
		}
		if err := s.SwitchProfile(context.Background(), name); err != nil {
			t.Fatalf("Switch %d to %s failed: %v", i, name, err)
		}
	}

	if err := s.Send([]byte("after switch")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ev := waitEvent(t, l)
	if ev.Profile != "ultrasonic" || string(ev.Payload) != "after switch" {
		t.Errorf("Expected Decoded(after switch) under ultrasonic, got %v", ev)
	}
	if info := s.Info(); info.Switches != 5 {
		t.Errorf("Expected 5 switches, got %d", info.Switches)
	}
}

func TestSessionAccessDenied(t *testing.T) {
	gate := receiver.NewToggleGate(false)
	s, _ := newTestSession(t, gate)
	l := s.Events(0)

	err := s.Open(context.Background(), "audible-fast")
	if !errors.Is(err, receiver.ErrAccessDenied) {
		t.Fatalf("Expected ErrAccessDenied, got %v", err)
	}

	info := s.Info()
	if !info.Open || info.Listening || info.ListenError == "" {
		t.Errorf("Expected open, not listening, with an error: %+v", info)
	}
	if err := s.Send([]byte("no ears")); err != nil {
		t.Errorf("Expected send to work without a receiver, got %v", err)
	}

	// Let the unheard frame finish playing before listening starts
	deadline := time.Now().Add(2 * time.Second)
	for s.Info().Transmitter.FramesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	gate.Set(true)
	if err := s.Listen(context.Background()); err != nil {
		t.Fatalf("Listen failed after grant: %v", err)
	}
	if err := s.Send([]byte("ears")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if ev := waitEvent(t, l); string(ev.Payload) != "ears" {
		t.Errorf("Expected Decoded(ears), got %v", ev)
	}
}

func TestSessionSendOnly(t *testing.T) {
	reg, _ := profile.LoadDefault()
	sink := audio.NewCaptureSink()
	s := New(Config{}, reg, sink, nil, nil, nil, nil)
	defer s.Close()

	if err := s.Open(context.Background(), "audible"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Listen(context.Background()); !errors.Is(err, ErrNoInput) {
		t.Errorf("Expected ErrNoInput, got %v", err)
	}
	if err := s.Send([]byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.Count() != 1 || sink.Buffers()[0].SampleRate != 44100 {
		t.Errorf("Expected one 44100 Hz buffer, got %d", sink.Count())
	}
}

func TestSessionClose(t *testing.T) {
	s, _ := newTestSession(t, receiver.AllowAll{})
	l := s.Events(4)

	if err := s.Open(context.Background(), "audible-fast"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}

	if _, ok := <-l.Events(); ok {
		t.Error("Expected listener channel closed")
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := s.Open(context.Background(), "audible-fast"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on reopen, got %v", err)
	}
	if info := s.Info(); info.Open || info.Listening {
		t.Errorf("Expected closed session info, got %+v", info)
	}
}

func TestListenerDropsOldest(t *testing.T) {
	s, _ := newTestSession(t, receiver.AllowAll{})
	l := s.Events(2)

	for _, id := range []string{"a", "b", "c", "d"} {
		l.deliver(receiver.Event{ID: id})
	}
	if l.Dropped() != 2 {
		t.Errorf("Expected 2 dropped, got %d", l.Dropped())
	}
	for _, want := range []string{"c", "d"} {
		if ev := <-l.Events(); ev.ID != want {
			t.Errorf("Expected %s, got %s", want, ev.ID)
		}
	}

	s.RemoveListener(l)
	if _, ok := <-l.Events(); ok {
		t.Error("Expected channel closed after removal")
	}
	// Removing twice is harmless
	s.RemoveListener(l)
}

type namedSink struct {
	audio.NullSink
	names []string
}

func (s *namedSink) SetProfile(name string) { s.names = append(s.names, name) }

func TestSessionAnnouncesProfileToSink(t *testing.T) {
	reg, _ := profile.LoadDefault()
	sink := &namedSink{}
	s := New(Config{}, reg, sink, nil, nil, nil, nil)
	defer s.Close()

	if err := s.Open(context.Background(), "audible"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SwitchProfile(context.Background(), "ultrasonic"); err != nil {
		t.Fatalf("SwitchProfile failed: %v", err)
	}

	if len(sink.names) != 2 || sink.names[0] != "audible" || sink.names[1] != "ultrasonic" {
		t.Errorf("Expected [audible ultrasonic], got %v", sink.names)
	}
}

type unpluggedSource struct{}

func (unpluggedSource) Read([]int16) (int, error) { return 0, errors.New("device unplugged") }
func (unpluggedSource) Close() error { return nil }

func TestSessionListenAfterSourceError(t *testing.T) {
	reg, _ := profile.LoadDefault()
	live := audio.NewLoopback(48000)

	// The first open fails on read; later opens get a working device
	var opens atomic.Int32
	input := audio.InputFunc(func(rate int) (audio.Source, error) {
		if opens.Add(1) == 1 {
			return unpluggedSource{}, nil
		}
		return live.Open(rate)
	})

	s := New(Config{}, reg, audio.NullSink{}, input, receiver.AllowAll{}, nil, nil)
	defer s.Close()
	l := s.Events(0)

	if err := s.Open(context.Background(), "audible-fast"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if ev := waitEvent(t, l); ev.Kind != receiver.KindFailed || ev.Reason != receiver.ReasonSourceError {
		t.Fatalf("Expected Failed(source_error), got %v", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for (s.Info().Listening || s.Info().ListenError == "") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if info := s.Info(); info.Listening || info.ListenError == "" {
		t.Fatalf("Expected not listening with an error after the source failed, got %+v", info)
	}

	if err := s.Listen(context.Background()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if opens.Load() != 2 {
		t.Errorf("Expected the input to be reopened, got %d opens", opens.Load())
	}
	if info := s.Info(); !info.Listening || !info.Receiver.Running {
		t.Errorf("Expected listening again, got %+v", info)
	}
}
