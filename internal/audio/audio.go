package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceBusy is returned by Open when the device already has an open stream
	ErrDeviceBusy = errors.New("audio: device busy")
	// ErrClosed is returned by reads and plays on a closed stream
	ErrClosed = errors.New("audio: closed")
	// ErrSampleRate is returned when a device cannot run at the requested rate
	ErrSampleRate = errors.New("audio: unsupported sample rate")
)

// Buffer is a finite run of signed 16-bit mono PCM samples
type Buffer struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the buffer
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Sink plays buffers. Play takes ownership of buf and returns once the sink
// has consumed it, or when ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, buf Buffer) error
}

// Source is an open capture stream. Read blocks until at least one sample is
// available and returns io.EOF at the end of a finite stream. Close unblocks
// a pending Read and releases the device.
type Source interface {
	Read(p []int16) (int, error)
	Close() error
}

// Input opens capture streams on a device at the given sample rate
type Input interface {
	Open(sampleRate int) (Source, error)
}

// InputFunc adapts a function to the Input interface
type InputFunc func(sampleRate int) (Source, error)

// Open calls f
func (f InputFunc) Open(sampleRate int) (Source, error) {
	return f(sampleRate)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, buf Buffer) error

// Play calls f
func (f SinkFunc) Play(ctx context.Context, buf Buffer) error {
	return f(ctx, buf)
}
