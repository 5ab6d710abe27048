package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExclusive(t *testing.T) {
	buf := Buffer{Samples: []int16{1, 2, 3}, SampleRate: 8000}
	in := Exclusive(InputFunc(func(rate int) (Source, error) {
		return NewBufferSource(buf), nil
	}))

	first, err := in.Open(8000)
	if err != nil {
		t.Fatalf("First Open failed: %v", err)
	}
	if _, err := in.Open(8000); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Expected ErrDeviceBusy, got %v", err)
	}

	first.Close()
	// Closing twice must not release someone else's claim
	second, err := in.Open(8000)
	if err != nil {
		t.Fatalf("Open after Close failed: %v", err)
	}
	first.Close()
	if _, err := in.Open(8000); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy while second source is open, got %v", err)
	}
	second.Close()
}

func TestBufferSource(t *testing.T) {
	src := NewBufferSource(Buffer{Samples: []int16{1, 2, 3, 4, 5}, SampleRate: 8000})
	p := make([]int16, 3)

	if n, err := src.Read(p); n != 3 || err != nil {
		t.Fatalf("Expected 3 samples, got %d (%v)", n, err)
	}
	if n, err := src.Read(p); n != 2 || err != nil {
		t.Fatalf("Expected 2 samples, got %d (%v)", n, err)
	}
	if _, err := src.Read(p); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	src.Close()
	if _, err := src.Read(p); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestLoopback(t *testing.T) {
	lb := NewLoopback(8000)
	ctx := context.Background()

	// Nobody listening: audio is lost
	if err := lb.Play(ctx, Buffer{Samples: []int16{9, 9}, SampleRate: 8000}); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	src, err := lb.Open(8000)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := lb.Open(8000); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}

	lb.Play(ctx, Buffer{Samples: []int16{1, 2, 3}, SampleRate: 8000})
	p := make([]int16, 8)
	n, err := src.Read(p)
	if err != nil || n != 3 || p[0] != 1 || p[2] != 3 {
		t.Fatalf("Unexpected read: n=%d err=%v samples=%v", n, err, p[:n])
	}

	if err := lb.Play(ctx, Buffer{Samples: []int16{1}, SampleRate: 16000}); !errors.Is(err, ErrSampleRate) {
		t.Errorf("Expected ErrSampleRate, got %v", err)
	}
	if _, err := lb.Open(16000); !errors.Is(err, ErrSampleRate) {
		t.Errorf("Expected ErrSampleRate, got %v", err)
	}
}

func TestLoopbackCloseUnblocksRead(t *testing.T) {
	lb := NewLoopback(8000)
	src, err := lb.Open(8000)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := src.Read(make([]int16, 4))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	src.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}

	// The device is free again
	again, err := lb.Open(8000)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	again.Close()
}

func TestLoopbackBacklog(t *testing.T) {
	lb := NewLoopback(1000, WithBacklog(10*time.Millisecond))
	src, _ := lb.Open(1000)
	defer src.Close()

	lb.Play(context.Background(), Buffer{Samples: []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, SampleRate: 1000})

	p := make([]int16, 32)
	n, _ := src.Read(p)
	if n != 10 || p[0] != 3 {
		t.Errorf("Expected newest 10 samples starting at 3, got n=%d first=%d", n, p[0])
	}
}

func TestLoopbackRealtime(t *testing.T) {
	lb := NewLoopback(1000, WithRealtime())
	start := time.Now()
	lb.Play(context.Background(), Buffer{Samples: make([]int16, 50), SampleRate: 1000})
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Expected Play to take about 50ms, took %v", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := lb.Play(ctx, Buffer{Samples: make([]int16, 5000), SampleRate: 1000}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCaptureSinkBlocking(t *testing.T) {
	sink := NewBlockingCaptureSink()
	done := make(chan error, 1)
	go func() {
		done <- sink.Play(context.Background(), Buffer{Samples: []int16{1}, SampleRate: 8000})
	}()

	select {
	case <-sink.Started():
	case <-time.After(time.Second):
		t.Fatal("Play never started")
	}
	select {
	case <-done:
		t.Fatal("Play returned before Release")
	case <-time.After(20 * time.Millisecond):
	}

	sink.Release()
	if err := <-done; err != nil {
		t.Errorf("Play failed: %v", err)
	}
	if sink.Count() != 1 {
		t.Errorf("Expected 1 captured buffer, got %d", sink.Count())
	}
}

func TestWAVSink(t *testing.T) {
	ctx := context.Background()
	buf := Buffer{Samples: []int16{1, 2, 3}, SampleRate: 8000}

	t.Run("per transmission", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		sink, err := NewWAVSink(dir, false)
		if err != nil {
			t.Fatalf("NewWAVSink failed: %v", err)
		}
		sink.Play(ctx, buf)
		sink.Play(ctx, buf)

		files := sink.Files()
		if len(files) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(files))
		}
		decoded, err := ReadWAVFile(files[1])
		if err != nil || len(decoded.Samples) != 3 {
			t.Errorf("Unexpected file contents: %v (%v)", decoded.Samples, err)
		}
	})

	t.Run("append", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "all.wav")
		sink, err := NewWAVSink(path, true)
		if err != nil {
			t.Fatalf("NewWAVSink failed: %v", err)
		}
		sink.Play(ctx, buf)
		sink.Play(ctx, buf)

		decoded, err := ReadWAVFile(path)
		if err != nil {
			t.Fatalf("ReadWAVFile failed: %v", err)
		}
		if len(decoded.Samples) != 6 {
			t.Errorf("Expected 6 samples, got %d", len(decoded.Samples))
		}
		if err := sink.Play(ctx, Buffer{Samples: []int16{1}, SampleRate: 16000}); !errors.Is(err, ErrSampleRate) {
			t.Errorf("Expected ErrSampleRate, got %v", err)
		}
	})
}

func TestWAVInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	data, _ := EncodeWAV(Buffer{Samples: []int16{5, 6, 7}, SampleRate: 8000})
	os.WriteFile(path, data, 0o644)

	in := WAVInput(path)
	if _, err := in.Open(16000); !errors.Is(err, ErrSampleRate) {
		t.Errorf("Expected ErrSampleRate, got %v", err)
	}

	src, err := in.Open(8000)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()
	p := make([]int16, 4)
	if n, _ := src.Read(p); n != 3 || p[0] != 5 {
		t.Errorf("Unexpected read: %v", p[:n])
	}
}
