// Package speaker plays modem audio through the system output device using
// the beep speaker mixer.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/brije111/quietshare/internal/audio"
)

// Sink plays buffers on the default output device. The device is opened
// once at the sink's sample rate; buffers at other rates are resampled.
type Sink struct {
	sampleRate beep.SampleRate
	mu         sync.Mutex // serializes playback
}

// New initializes the output device. bufferTime sets the device latency;
// zero selects 100ms.
func New(sampleRate int, bufferTime time.Duration) (*Sink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", audio.ErrSampleRate, sampleRate)
	}
	if bufferTime <= 0 {
		bufferTime = time.Second / 10
	}
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(bufferTime)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	return &Sink{sampleRate: sr}, nil
}

// Play implements audio.Sink. It returns once the device has played the
// whole buffer, or stops playback early when ctx is cancelled.
func (s *Sink) Play(ctx context.Context, buf audio.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamer, err := s.streamer(buf)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(streamer, beep.Callback(func() {
		close(done)
	}))}
	speaker.Play(ctrl)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

func (s *Sink) streamer(buf audio.Buffer) (beep.Streamer, error) {
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", audio.ErrSampleRate, buf.SampleRate)
	}
	var st beep.Streamer = NewStreamer(buf)
	if from := beep.SampleRate(buf.SampleRate); from != s.sampleRate {
		st = beep.Resample(4, from, s.sampleRate, st)
	}
	return st, nil
}

// Close stops all playback and releases the device
func (s *Sink) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

// Streamer adapts a mono PCM-16 buffer to a stereo beep.Streamer
type Streamer struct {
	samples []int16
	pos     int
}

// NewStreamer creates a streamer over buf
func NewStreamer(buf audio.Buffer) *Streamer {
	return &Streamer{samples: buf.Samples}
}

// Stream implements beep.Streamer
func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos]) / 32768
		samples[n][0] = v
		samples[n][1] = v
		n++
		s.pos++
	}
	return n, true
}

// Err implements beep.Streamer
func (s *Streamer) Err() error { return nil }

// Len returns the total number of samples
func (s *Streamer) Len() int { return len(s.samples) }

// Position returns the number of samples streamed so far
func (s *Streamer) Position() int { return s.pos }
