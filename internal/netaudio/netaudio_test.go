package netaudio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openInput(t *testing.T, sampleRate int) (*UDPInput, audio.Source) {
	t.Helper()
	in := NewUDPInput(InputConfig{Address: "127.0.0.1:0", IdleFlush: 50 * time.Millisecond}, testLogger(), nil)
	src, err := in.Open(sampleRate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return in, src
}

func readN(t *testing.T, src audio.Source, n int) []int16 {
	t.Helper()
	out := make([]int16, 0, n)
	done := make(chan error, 1)
	go func() {
		p := make([]int16, 256)
		for len(out) < n {
			k, err := src.Read(p)
			if err != nil {
				done <- err
				return
			}
			out = append(out, p[:k]...)
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Timed out after %d of %d samples", len(out), n)
	}
	return out
}

func TestSinkToInput(t *testing.T) {
	in, src := openInput(t, 8000)

	sink, err := NewUDPSink(SinkConfig{Address: in.LocalAddr().String(), PacketDuration: 10 * time.Millisecond}, testLogger())
	if err != nil {
		t.Fatalf("NewUDPSink failed: %v", err)
	}
	defer sink.Close()
	sink.SetProfile("audible")

	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = int16(i)
	}
	if err := sink.Play(context.Background(), audio.Buffer{Samples: samples, SampleRate: 8000}); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	got := readN(t, src, len(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}

	// 1 signaling + 13 audio + 1 end
	var stats Statistics
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats, _ = in.Statistics()
		if stats.PacketsProcessed == 15 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if stats.PacketsProcessed != 15 {
		t.Errorf("Expected 15 packets, got %d", stats.PacketsProcessed)
	}
	if stats.Profile != "audible" {
		t.Errorf("Expected profile audible, got %q", stats.Profile)
	}
}

func TestInputReordersAndFillsLoss(t *testing.T) {
	in, src := openInput(t, 8000)

	conn, err := net.DialUDP("udp", nil, in.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	send := func(seq uint32, value int16) {
		pcm := protocol.EncodePCM([]int16{value, value})
		packet, _ := protocol.MarshalAudioPacket(42, protocol.DirectionTX, seq, pcm)
		conn.Write(packet)
	}

	conn.Write(protocol.MarshalSignalingPacket(42, protocol.DirectionTX, protocol.NewSignalingPayload("x", 8000, 2)))
	send(0, 1)
	send(2, 3)
	send(1, 2)
	// Sequence 3 never arrives
	send(4, 5)
	conn.Write(protocol.MarshalEndPacket(42, protocol.DirectionTX))

	got := readN(t, src, 10)
	want := []int16{1, 1, 2, 2, 3, 3, 0, 0, 5, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sample %d: expected %d, got %d (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestInputIgnoresMismatchedRate(t *testing.T) {
	in, _ := openInput(t, 8000)

	conn, err := net.DialUDP("udp", nil, in.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write(protocol.MarshalSignalingPacket(7, protocol.DirectionTX, protocol.NewSignalingPayload("x", 48000, 2)))
	packet, _ := protocol.MarshalAudioPacket(7, protocol.DirectionTX, 0, protocol.EncodePCM([]int16{1, 1}))
	conn.Write(packet)
	conn.Write([]byte{0xde, 0xad})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stats, _ := in.Statistics(); stats.PacketsProcessed >= 2 && stats.ParseErrors >= 1 {
			if stats.Jitter != nil {
				t.Errorf("Expected no stream for mismatched rate, got %+v", stats.Jitter)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Packets were never processed")
}

func TestCloseUnblocksRead(t *testing.T) {
	_, src := openInput(t, 8000)

	done := make(chan error, 1)
	go func() {
		_, err := src.Read(make([]int16, 16))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	src.Close()

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestOpenBusyAddress(t *testing.T) {
	in, _ := openInput(t, 8000)

	second := NewUDPInput(InputConfig{Address: in.LocalAddr().String()}, testLogger(), nil)
	if _, err := second.Open(8000); !errors.Is(err, audio.ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}
}
