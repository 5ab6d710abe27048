package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/carrier"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/profile"
)

var (
	// ErrAccessDenied is returned by Start when the access gate refuses
	ErrAccessDenied = errors.New("receiver: audio input access denied")
	// ErrAlreadyStarted is returned by Start while another run is active
	ErrAlreadyStarted = errors.New("receiver: already started")
	// ErrStopped is returned by Subscription.Next after the run ended
	ErrStopped = errors.New("receiver: stopped")
)

// Carrier detector defaults
const (
	DefaultCarrierThreshold = 0.01
	defaultCarrierSmoothing = 0.3
	defaultCarrierHold      = 4
)

// Status is a snapshot of the receiver
type Status struct {
	Running      bool         `json:"running"`
	Subscription string       `json:"subscription,omitempty"`
	Profile      string       `json:"profile,omitempty"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
	Level        float64      `json:"level_dbfs"`
	Carrier      bool         `json:"carrier"`
	Dropped      uint64       `json:"events_dropped"`
	Decoder      DecoderStats `json:"decoder"`
}

// Receiver listens on an audio input and decodes frames in a background loop.
// At most one run is active at a time.
type Receiver struct {
	input   audio.Input
	gate    AccessGate
	logger  *slog.Logger
	metrics *metrics.Metrics

	queueSize        int
	decoderCfg       DecoderConfig
	carrierThreshold float64

	mu      sync.Mutex
	current *run
}

// run is one Start..Stop lifetime
type run struct {
	sub      *Subscription
	decoder  *Decoder
	detector *carrier.Detector
	source   audio.Source
	cancel   context.CancelFunc
	started  time.Time
	loopDone chan struct{}
	stopOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

func (c *run) closeSource() error {
	c.closeOnce.Do(func() { c.closeErr = c.source.Close() })
	return c.closeErr
}

// Option configures a Receiver
type Option func(*Receiver)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Receiver) { r.metrics = m }
}

// WithQueueSize sets the per-subscription event queue length
func WithQueueSize(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithChunkSize sets how many samples are read and processed per step
func WithChunkSize(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.decoderCfg.ChunkSize = n
		}
	}
}

// WithThreshold overrides the profile detection threshold
func WithThreshold(v float64) Option {
	return func(r *Receiver) { r.decoderCfg.Threshold = v }
}

// WithSquelch overrides the profile squelch level
func WithSquelch(v float64) Option {
	return func(r *Receiver) { r.decoderCfg.Squelch = v }
}

// WithCarrierThreshold sets the RMS level reported as carrier activity
func WithCarrierThreshold(v float64) Option {
	return func(r *Receiver) {
		if v > 0 && v < 1 {
			r.carrierThreshold = v
		}
	}
}

// New creates a receiver reading from input once gate grants access
func New(input audio.Input, gate AccessGate, logger *slog.Logger, opts ...Option) *Receiver {
	if gate == nil {
		gate = AllowAll{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Receiver{
		input:            input,
		gate:             gate,
		logger:           logger,
		queueSize:        DefaultQueueSize,
		carrierThreshold: DefaultCarrierThreshold,
		decoderCfg:       DecoderConfig{ChunkSize: DefaultChunkSize},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the input at the profile sample rate and begins decoding. The
// loop runs until Stop is called, ctx is cancelled, or the source ends.
func (r *Receiver) Start(ctx context.Context, p profile.Profile) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		select {
		case <-r.current.loopDone:
			// Ended on its own; release it so a new run can begin
			r.stopRun(r.current)
		default:
			return nil, ErrAlreadyStarted
		}
	}

	if !r.gate.Granted(ctx) {
		r.logger.Warn("Receiver start refused, no input access", slog.String("profile", p.Name))
		return nil, ErrAccessDenied
	}

	decoder, err := NewDecoder(p, r.decoderCfg, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	detector, err := carrier.NewDetector(r.carrierThreshold, defaultCarrierSmoothing, defaultCarrierHold)
	if err != nil {
		return nil, fmt.Errorf("failed to create carrier detector: %w", err)
	}

	source, err := r.input.Open(p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio input: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	cur := &run{
		sub:      newSubscription(uuid.NewString(), p.Name, r.queueSize, r.metrics),
		decoder:  decoder,
		detector: detector,
		source:   source,
		cancel:   cancel,
		started:  time.Now(),
		loopDone: make(chan struct{}),
	}
	r.current = cur

	go r.loop(loopCtx, cur)

	// Closing the source unblocks a pending read once the run is cancelled
	go func() {
		select {
		case <-loopCtx.Done():
			cur.closeSource()
		case <-cur.loopDone:
		}
	}()

	r.logger.Info("Receiver started",
		slog.String("profile", p.Name),
		slog.String("subscription", cur.sub.ID()),
		slog.Int("sample_rate", p.SampleRate),
	)
	return cur.sub, nil
}

// Stop ends the run behind sub and returns once the loop has exited and the
// input is released. No event is delivered after Stop returns. Stopping a
// subscription twice is a no-op.
func (r *Receiver) Stop(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.current.sub != sub {
		sub.close()
		return nil
	}
	r.stopRun(r.current)
	return nil
}

// stopRun tears down cur. Callers hold r.mu.
func (r *Receiver) stopRun(cur *run) {
	cur.stopOnce.Do(func() {
		cur.cancel()
		if err := cur.closeSource(); err != nil && !errors.Is(err, audio.ErrClosed) {
			r.logger.Warn("Error closing audio input", slog.String("error", err.Error()))
		}
		<-cur.loopDone
		cur.sub.close()
		r.metrics.SetReceiverState(int(StateIdle))

		stats := cur.decoder.Stats()
		r.logger.Info("Receiver stopped",
			slog.String("profile", cur.sub.Profile()),
			slog.String("subscription", cur.sub.ID()),
			slog.Uint64("decoded", stats.Decoded),
			slog.Uint64("events_dropped", cur.sub.Dropped()),
		)
	})
	if r.current == cur {
		r.current = nil
	}
}

// Close stops the active run, if any
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.stopRun(r.current)
	}
	return nil
}

// Status returns a snapshot of the active run
func (r *Receiver) Status() Status {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	if cur == nil {
		return Status{Level: carrier.Floor}
	}

	running := true
	select {
	case <-cur.loopDone:
		running = false
	default:
	}

	return Status{
		Running:      running,
		Subscription: cur.sub.ID(),
		Profile:      cur.sub.Profile(),
		StartedAt:    cur.started,
		Level:        cur.detector.Level(),
		Carrier:      cur.detector.Active(),
		Dropped:      cur.sub.Dropped(),
		Decoder:      cur.decoder.Stats(),
	}
}

// loop reads the source until it ends or the run is cancelled
func (r *Receiver) loop(ctx context.Context, cur *run) {
	defer close(cur.loopDone)
	defer cur.sub.finish()

	buf := make([]int16, cur.decoder.chunk)
	for {
		n, err := cur.source.Read(buf)
		if ctx.Err() != nil {
			return
		}

		if n > 0 {
			chunk := buf[:n]
			level := cur.detector.Process(chunk)
			r.metrics.SetInputLevel(level.Level, level.Active)
			if level.Edge != carrier.EdgeNone {
				r.logger.Debug("Carrier edge",
					slog.String("edge", level.Edge.String()),
					slog.Float64("level_dbfs", level.Level),
				)
			}

			for _, ev := range cur.decoder.Process(chunk) {
				cur.sub.push(ev)
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			for _, ev := range cur.decoder.Flush() {
				cur.sub.push(ev)
			}
			r.logger.Info("Audio input ended", slog.String("profile", cur.sub.Profile()))
			return
		}

		r.logger.Error("Audio input failed",
			slog.String("profile", cur.sub.Profile()),
			slog.String("error", err.Error()),
		)
		cur.sub.push(Event{
			ID:        uuid.NewString(),
			Kind:      KindFailed,
			Profile:   cur.sub.Profile(),
			Reason:    ReasonSourceError,
			Detail:    err.Error(),
			Offset:    int64(cur.decoder.Stats().SamplesProcessed),
			Timestamp: time.Now(),
		})
		r.metrics.RecordDecodeFailure(string(ReasonSourceError), 0)
		return
	}
}
