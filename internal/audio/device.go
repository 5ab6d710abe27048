package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Exclusive wraps an input so that at most one source is open at a time.
// Open fails with ErrDeviceBusy until the open source is closed.
func Exclusive(in Input) Input {
	return &exclusiveInput{in: in}
}

type exclusiveInput struct {
	mu   sync.Mutex
	in   Input
	busy bool
}

func (e *exclusiveInput) Open(sampleRate int) (Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		return nil, ErrDeviceBusy
	}
	src, err := e.in.Open(sampleRate)
	if err != nil {
		return nil, err
	}
	e.busy = true
	return &exclusiveSource{Source: src, owner: e}, nil
}

func (e *exclusiveInput) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

type exclusiveSource struct {
	Source
	owner *exclusiveInput
	once  sync.Once
}

func (s *exclusiveSource) Close() error {
	err := s.Source.Close()
	s.once.Do(s.owner.release)
	return err
}

// BufferSource reads a fixed buffer and then reports io.EOF
type BufferSource struct {
	mu     sync.Mutex
	buf    Buffer
	pos    int
	closed bool
}

// NewBufferSource creates a source over buf
func NewBufferSource(buf Buffer) *BufferSource {
	return &BufferSource{buf: buf}
}

// Read implements Source
func (s *BufferSource) Read(p []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.pos >= len(s.buf.Samples) {
		return 0, io.EOF
	}
	n := copy(p, s.buf.Samples[s.pos:])
	s.pos += n
	return n, nil
}

// Close implements Source
func (s *BufferSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// WAVInput opens the WAV file at path as a finite capture stream. The file
// must match the requested sample rate.
func WAVInput(path string) Input {
	return InputFunc(func(sampleRate int) (Source, error) {
		buf, err := ReadWAVFile(path)
		if err != nil {
			return nil, err
		}
		if buf.SampleRate != sampleRate {
			return nil, fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrSampleRate, filepath.Base(path), buf.SampleRate, sampleRate)
		}
		return NewBufferSource(buf), nil
	})
}

// NullSink discards every buffer
type NullSink struct{}

// Play implements Sink
func (NullSink) Play(ctx context.Context, buf Buffer) error {
	return ctx.Err()
}

// CaptureSink records every buffer it is asked to play. If created with
// NewBlockingCaptureSink, Play blocks until Release is called.
type CaptureSink struct {
	mu      sync.Mutex
	buffers []Buffer
	started chan struct{}
	block   chan struct{}
	release sync.Once
}

// NewCaptureSink creates a sink that returns from Play immediately
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{started: make(chan struct{}, 64)}
}

// NewBlockingCaptureSink creates a sink whose Play calls block until Release
func NewBlockingCaptureSink() *CaptureSink {
	s := NewCaptureSink()
	s.block = make(chan struct{})
	return s
}

// Play implements Sink
func (s *CaptureSink) Play(ctx context.Context, buf Buffer) error {
	s.mu.Lock()
	s.buffers = append(s.buffers, buf)
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if s.block == nil {
		return ctx.Err()
	}
	select {
	case <-s.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started receives one value each time Play begins
func (s *CaptureSink) Started() <-chan struct{} {
	return s.started
}

// Release unblocks every current and future Play call
func (s *CaptureSink) Release() {
	if s.block == nil {
		return
	}
	s.release.Do(func() { close(s.block) })
}

// Buffers returns a copy of the recorded buffers
func (s *CaptureSink) Buffers() []Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Buffer, len(s.buffers))
	copy(out, s.buffers)
	return out
}

// Count returns the number of recorded buffers
func (s *CaptureSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// WAVSink writes played buffers to WAV files. In per-transmission mode every
// buffer becomes its own file in a directory; in append mode all buffers are
// concatenated into a single file that is rewritten after each play.
type WAVSink struct {
	mu         sync.Mutex
	path       string
	appendMode bool
	seq        int
	acc        Buffer
	written    []string
}

// NewWAVSink creates a WAV sink. With appendMode path names the output file,
// otherwise it names a directory that is created if missing.
func NewWAVSink(path string, appendMode bool) (*WAVSink, error) {
	dir := path
	if appendMode {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAV output directory: %w", err)
	}
	return &WAVSink{path: path, appendMode: appendMode}, nil
}

// Play implements Sink
func (s *WAVSink) Play(ctx context.Context, buf Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path
	out := buf
	if s.appendMode {
		if s.acc.SampleRate != 0 && s.acc.SampleRate != buf.SampleRate {
			return fmt.Errorf("%w: %s already holds %d Hz audio", ErrSampleRate, filepath.Base(s.path), s.acc.SampleRate)
		}
		s.acc.SampleRate = buf.SampleRate
		s.acc.Samples = append(s.acc.Samples, buf.Samples...)
		out = s.acc
	} else {
		s.seq++
		target = filepath.Join(s.path, fmt.Sprintf("tx-%s-%04d.wav", time.Now().Format("20060102-150405"), s.seq))
	}

	data, err := EncodeWAV(out)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write WAV file: %w", err)
	}
	if !s.appendMode || len(s.written) == 0 {
		s.written = append(s.written, target)
	}
	return nil
}

// Files returns the paths written so far
func (s *WAVSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}
