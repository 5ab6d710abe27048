package transmitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/frame"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/modem"
	"github.com/brije111/quietshare/internal/profile"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds the profile maximum
	ErrPayloadTooLarge = frame.ErrPayloadTooLarge
	// ErrQueueFull is returned when a frame is already playing and another is waiting
	ErrQueueFull = errors.New("transmitter: transmit queue full")
	// ErrClosed is returned by Send after Close
	ErrClosed = errors.New("transmitter: closed")
)

// DefaultGuard is the silence placed before and after every frame
const DefaultGuard = 50 * time.Millisecond

// Stats represents transmitter statistics
type Stats struct {
	Profile        string    `json:"profile"`
	FramesSent     uint64    `json:"frames_sent"`
	BytesSent      uint64    `json:"bytes_sent"`
	RejectedSize   uint64    `json:"rejected_too_large"`
	RejectedQueue  uint64    `json:"rejected_queue_full"`
	PlayErrors     uint64    `json:"play_errors"`
	Playing        bool      `json:"playing"`
	Pending        int       `json:"pending"`
	LastSent       time.Time `json:"last_sent,omitempty"`
	MaxPayloadSize int       `json:"max_payload_size"`
}

type job struct {
	buf        audio.Buffer
	payloadLen int
	encodeTime time.Duration
}

// Transmitter encodes payloads for one profile and plays them on a sink
type Transmitter struct {
	profile profile.Profile
	codec   *modem.Codec
	sink    audio.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	guard   int // samples of silence on each side of a frame
	pending int // frames allowed to wait behind the playing one

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	occupancy int // playing + waiting
	playing   bool
	stats     Stats
}

// Option configures a Transmitter
type Option func(*Transmitter)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transmitter) { t.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transmitter) { t.metrics = m }
}

// WithGuard sets the silence placed before and after each frame
func WithGuard(d time.Duration) Option {
	return func(t *Transmitter) {
		t.guard = int(d.Seconds() * float64(t.profile.SampleRate))
	}
}

// WithPending sets how many frames may wait behind the playing one
func WithPending(n int) Option {
	return func(t *Transmitter) {
		if n >= 0 {
			t.pending = n
		}
	}
}

// New creates a transmitter for p playing on sink and starts its worker
func New(p profile.Profile, sink audio.Sink, opts ...Option) (*Transmitter, error) {
	codec, err := modem.NewCodec(p)
	if err != nil {
		return nil, fmt.Errorf("failed to build codec for profile %s: %w", p.Name, err)
	}

	t := &Transmitter{
		profile: p,
		codec:   codec,
		sink:    sink,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: 1,
	}
	WithGuard(DefaultGuard)(t)
	for _, opt := range opts {
		opt(t)
	}

	// The guard must cover the receiver's peak search past the preamble
	if minGuard := codec.SamplesPerSymbol(); t.guard < minGuard {
		t.guard = minGuard
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.queue = make(chan job, t.pending+1)
	t.stats.Profile = p.Name
	t.stats.MaxPayloadSize = p.MaxPayloadSize

	t.wg.Add(1)
	go t.worker()

	return t, nil
}

// Profile returns the profile the transmitter encodes for
func (t *Transmitter) Profile() profile.Profile { return t.profile }

// Send encodes payload and queues it for playback. It returns once the audio
// is queued, not when it has played. Oversized payloads and sends made while
// the queue is full produce no audio.
func (t *Transmitter) Send(payload []byte) error {
	start := time.Now()
	buf, err := t.Encode(payload)
	if err != nil {
		t.reject("too_large")
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.occupancy >= t.pending+1 {
		t.stats.RejectedQueue++
		t.metrics.RecordSendRejected("queue_full")
		t.logger.Warn("Transmit queue full, rejecting frame",
			slog.String("profile", t.profile.Name),
			slog.Int("payload_len", len(payload)),
		)
		return ErrQueueFull
	}

	t.occupancy++
	t.metrics.SetTxQueueDepth(t.occupancy)
	t.queue <- job{buf: buf, payloadLen: len(payload), encodeTime: time.Since(start)}

	t.logger.Debug("Frame queued",
		slog.String("profile", t.profile.Name),
		slog.Int("payload_len", len(payload)),
		slog.Duration("airtime", buf.Duration()),
	)
	return nil
}

func (t *Transmitter) reject(reason string) {
	t.mu.Lock()
	t.stats.RejectedSize++
	t.mu.Unlock()
	t.metrics.RecordSendRejected(reason)
}

// Encode returns the PCM audio for payload without playing it
func (t *Transmitter) Encode(payload []byte) (audio.Buffer, error) {
	f, err := frame.Marshal(payload, t.profile.MaxPayloadSize)
	if err != nil {
		return audio.Buffer{}, err
	}
	return t.EncodeFrame(f), nil
}

// EncodeFrame renders an already built frame, bypassing payload checks.
// Tests use it to put deliberately damaged frames on air.
func (t *Transmitter) EncodeFrame(f *frame.Frame) audio.Buffer {
	wave := t.codec.ModulateFrame(f)
	samples := make([]int16, t.guard*2+len(wave))
	copy(samples[t.guard:], modem.Quantize(wave))
	return audio.Buffer{Samples: samples, SampleRate: t.profile.SampleRate}
}

// worker plays queued frames one at a time
func (t *Transmitter) worker() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case j := <-t.queue:
			t.play(j)
		}
	}
}

func (t *Transmitter) play(j job) {
	t.mu.Lock()
	t.playing = true
	t.mu.Unlock()

	err := t.sink.Play(t.ctx, j.buf)

	t.mu.Lock()
	t.playing = false
	t.occupancy--
	if err == nil {
		t.stats.FramesSent++
		t.stats.BytesSent += uint64(j.payloadLen)
		t.stats.LastSent = time.Now()
	} else if !errors.Is(err, context.Canceled) {
		t.stats.PlayErrors++
	}
	occupancy := t.occupancy
	t.mu.Unlock()

	t.metrics.SetTxQueueDepth(occupancy)

	switch {
	case err == nil:
		t.metrics.RecordFrameSent(j.encodeTime.Seconds(), j.buf.Duration().Seconds())
		t.logger.Info("Frame transmitted",
			slog.String("profile", t.profile.Name),
			slog.Int("payload_len", j.payloadLen),
			slog.Duration("airtime", j.buf.Duration()),
		)
	case errors.Is(err, context.Canceled):
		t.logger.Debug("Frame playback cancelled", slog.String("profile", t.profile.Name))
	default:
		t.logger.Error("Frame playback failed",
			slog.String("profile", t.profile.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Close cancels playback, discards waiting frames and stops the worker
func (t *Transmitter) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.occupancy = 0
	t.mu.Unlock()
	t.metrics.SetTxQueueDepth(0)
	return nil
}

// Stats returns current transmitter statistics
func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.Playing = t.playing
	s.Pending = t.occupancy
	if t.playing {
		s.Pending--
	}
	return s
}

// Airtime returns how long a frame carrying payloadLen bytes plays,
// guard silence included
func (t *Transmitter) Airtime(payloadLen int) time.Duration {
	return t.codec.Airtime(payloadLen) + 2*time.Duration(t.guard)*time.Second/time.Duration(t.profile.SampleRate)
}
