package receiver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/frame"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/modem"
	"github.com/brije111/quietshare/internal/profile"
)

// DefaultChunkSize is the number of samples processed per step
const DefaultChunkSize = 1024

// energyResync is how many slides the running window energy survives before
// it is recomputed from scratch
const energyResync = 256

// State is the frame synchronization state
type State int

const (
	StateIdle State = iota
	StateSynced
	StateHeaderRead
	StatePayloadRead
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynced:
		return "synced"
	case StateHeaderRead:
		return "header_read"
	case StatePayloadRead:
		return "payload_read"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DecoderConfig tunes a Decoder. Zero values take the profile defaults.
type DecoderConfig struct {
	Threshold float64 // normalized correlation needed to sync
	Squelch   float64 // minimum RMS, fraction of full scale
	ChunkSize int
}

// DecoderStats represents decoder statistics
type DecoderStats struct {
	State              string    `json:"state"`
	SamplesProcessed   uint64    `json:"samples_processed"`
	Syncs              uint64    `json:"syncs"`
	Decoded            uint64    `json:"decoded"`
	InvalidHeaders     uint64    `json:"invalid_headers"`
	ChecksumMismatches uint64    `json:"checksum_mismatches"`
	CorrectedBits      uint64    `json:"corrected_bits"`
	LostFrames         uint64    `json:"lost_frames"`
	LastSync           time.Time `json:"last_sync,omitempty"`
}

// Decoder recovers frames from a sample stream for one profile. It is not
// safe for concurrent use apart from Stats and State.
type Decoder struct {
	profile   profile.Profile
	codec     *modem.Codec
	corr      *modem.Correlator
	ring      *audio.Ring
	threshold float64
	chunk     int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	window     int64 // preamble length in samples
	stride     int64 // coarse scan step
	holdoff    int64 // samples without a better score before locking
	headerSpan int64 // header block length in samples

	// scanning
	scan        int64 // absolute index of the next window to score
	energy      float64
	energyValid bool
	slides      int

	// peak search
	searching bool
	peakPos   int64
	peakScore float64

	// current frame
	preambleStart int64
	frameStart    int64 // first header symbol
	score         float64
	header        frame.Header
	corrected     int
	syncTime      time.Time

	mu    sync.Mutex
	state State
	stats DecoderStats
}

// NewDecoder creates a decoder for p
func NewDecoder(p profile.Profile, cfg DecoderConfig, logger *slog.Logger, m *metrics.Metrics) (*Decoder, error) {
	codec, err := modem.NewCodec(p)
	if err != nil {
		return nil, fmt.Errorf("failed to build codec for profile %s: %w", p.Name, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = p.DetectionThreshold
	}
	squelch := cfg.Squelch
	if squelch <= 0 {
		squelch = p.Squelch
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	d := &Decoder{
		profile:    p,
		codec:      codec,
		corr:       modem.NewCorrelator(codec.Template(), squelch),
		threshold:  threshold,
		chunk:      chunk,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		window:     int64(codec.PreambleLen()),
		headerSpan: int64(codec.HeaderSymbols() * codec.SamplesPerSymbol()),
	}
	d.holdoff = d.window
	d.stride = coarseStride(p)

	// Room for the largest frame twice over plus one chunk
	d.ring = audio.NewRing(2*codec.FrameSamples(p.MaxPayloadSize) + chunk)
	d.stats.State = StateIdle.String()

	return d, nil
}

// coarseStride keeps the scan step below an eighth of the period of the
// highest tone so a correlation peak cannot fall between two steps
func coarseStride(p profile.Profile) int64 {
	tones := p.Tones()
	top := tones[len(tones)-1]
	stride := int64(float64(p.SampleRate) / (8 * top))
	if stride < 1 {
		stride = 1
	}
	return stride
}

// Profile returns the profile the decoder listens for
func (d *Decoder) Profile() profile.Profile { return d.profile }

// State returns the current synchronization state
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns current decoder statistics
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// MaxLatency returns the worst-case delay between the last sample of a frame
// entering Process and its event being returned
func (d *Decoder) MaxLatency() time.Duration {
	samples := d.chunk + int(d.holdoff)
	return time.Duration(samples) * time.Second / time.Duration(d.profile.SampleRate)
}

// Process appends samples and returns the events for every frame completed
// by them, in order
func (d *Decoder) Process(samples []int16) []Event {
	var events []Event
	for len(samples) > 0 {
		n := min(len(samples), d.chunk)
		events = d.feed(samples[:n], events)
		samples = samples[n:]
	}
	return events
}

// Flush finishes the stream: a pending peak is locked and a frame cut short
// by the end of input is reported as failed. The decoder is then reset.
func (d *Decoder) Flush() []Event {
	var events []Event

	if d.state == StateIdle && d.searching {
		d.lock()
	}
	for {
		ev, progressed := d.advance()
		if ev != nil {
			events = append(events, *ev)
		}
		if !progressed || d.state == StateIdle {
			break
		}
	}

	switch d.state {
	case StateSynced:
		events = append(events, d.fail(ReasonInvalidHeader, errors.New("input ended before the header")))
	case StateHeaderRead:
		events = append(events, d.fail(ReasonChecksumMismatch, errors.New("input ended before the body")))
	}

	d.Reset()
	return events
}

// Reset drops buffered samples and returns to Idle. Sample offsets keep
// counting from where they were.
func (d *Decoder) Reset() {
	d.ring.Discard(d.ring.End())
	d.scan = d.ring.End()
	d.energyValid = false
	d.searching = false
	d.setState(StateIdle)
}

func (d *Decoder) feed(chunk []int16, events []Event) []Event {
	if dropped := d.ring.Append(modem.ToFloat(chunk)); dropped > 0 && d.ring.Start() > d.keepFrom() {
		if d.state != StateIdle {
			d.mu.Lock()
			d.stats.LostFrames++
			d.mu.Unlock()
			d.logger.Warn("Frame lost, ring buffer overrun",
				slog.String("profile", d.profile.Name),
				slog.String("state", d.state.String()),
			)
		}
		d.searching = false
		d.resume(d.ring.Start())
	}

	for {
		if d.state == StateIdle && !d.scanForSync() {
			break
		}
		ev, progressed := d.advance()
		if ev != nil {
			events = append(events, *ev)
		}
		if !progressed {
			break
		}
	}

	d.ring.Discard(d.keepFrom())

	d.mu.Lock()
	d.stats.SamplesProcessed += uint64(len(chunk))
	d.mu.Unlock()

	return events
}

// keepFrom is the oldest sample the decoder may still need
func (d *Decoder) keepFrom() int64 {
	switch {
	case d.state != StateIdle:
		return d.frameStart
	case d.searching:
		return d.peakPos - d.stride
	default:
		return d.scan
	}
}

// scanForSync slides the correlator over buffered samples and reports
// whether a preamble was locked
func (d *Decoder) scanForSync() bool {
	for d.scan+d.window <= d.ring.End() {
		if !d.energyValid {
			d.energy = modem.Energy(d.ring.Slice(d.scan, d.scan+d.window))
			d.energyValid = true
		}
		score := d.corr.Score(d.ring.Slice(d.scan, d.scan+d.window), d.energy)

		if d.searching {
			if score > d.peakScore {
				d.peakPos, d.peakScore = d.scan, score
			}
			if d.scan-d.peakPos >= d.holdoff {
				d.lock()
				return true
			}
		} else if score >= d.threshold {
			d.searching = true
			d.peakPos, d.peakScore = d.scan, score
		}

		d.slide()
	}
	return false
}

// slide moves the scan window one stride, updating the running energy
func (d *Decoder) slide() {
	next := d.scan + d.stride
	if next+d.window > d.ring.End() || d.slides >= energyResync {
		d.scan = next
		d.energyValid = false
		d.slides = 0
		return
	}

	for i := d.scan; i < next; i++ {
		out, in := d.ring.At(i), d.ring.At(i+d.window)
		d.energy += in*in - out*out
	}
	if d.energy < 0 {
		d.energy = 0
	}
	d.scan = next
	d.slides++
}

// lock refines the coarse peak sample by sample and enters Synced
func (d *Decoder) lock() {
	best, bestScore := d.peakPos, d.peakScore
	for pos := d.peakPos - d.stride + 1; pos < d.peakPos+d.stride; pos++ {
		window := d.ring.Slice(pos, pos+d.window)
		if window == nil {
			continue
		}
		if score := d.corr.Score(window, modem.Energy(window)); score > bestScore {
			best, bestScore = pos, score
		}
	}

	d.searching = false
	d.preambleStart = best
	d.frameStart = best + d.window
	d.score = bestScore
	d.corrected = 0
	d.syncTime = d.now()
	d.setState(StateSynced)

	d.mu.Lock()
	d.stats.Syncs++
	d.stats.LastSync = d.syncTime
	d.mu.Unlock()
	d.metrics.RecordSync()

	d.logger.Debug("Preamble detected",
		slog.String("profile", d.profile.Name),
		slog.Int64("offset", best),
		slog.Float64("score", bestScore),
	)
}

// advance moves the frame state machine forward as far as buffered samples
// allow. It reports false when it has to wait for more input.
func (d *Decoder) advance() (*Event, bool) {
	switch d.state {
	case StateSynced:
		end := d.frameStart + d.headerSpan
		if d.ring.End() < end {
			return nil, false
		}
		h, res, err := d.codec.DecodeHeader(d.ring.Slice(d.frameStart, end))
		if err != nil {
			ev := d.fail(ReasonInvalidHeader, err)
			// The header may have been a false sync; look again right after
			// the preamble
			d.resume(d.frameStart)
			return &ev, true
		}
		d.header = h
		d.corrected = res.Corrected
		d.setState(StateHeaderRead)
		return nil, true

	case StateHeaderRead:
		start := d.frameStart + d.headerSpan
		end := start + int64(d.codec.BodySymbols(int(d.header.PayloadLen))*d.codec.SamplesPerSymbol())
		if d.ring.End() < end {
			return nil, false
		}
		d.setState(StatePayloadRead)
		payload, res, err := d.codec.DecodeBody(d.ring.Slice(start, end), d.header)
		d.corrected += res.Corrected

		var ev Event
		if err != nil {
			ev = d.fail(ReasonChecksumMismatch, err)
		} else {
			ev = d.decoded(payload)
		}
		d.resume(end)
		return &ev, true
	}
	return nil, false
}

// resume returns to Idle scanning from absolute index at
func (d *Decoder) resume(at int64) {
	d.scan = at
	d.energyValid = false
	d.setState(StateIdle)
}

func (d *Decoder) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.stats.State = s.String()
	d.mu.Unlock()
	d.metrics.SetReceiverState(int(s))
}

func (d *Decoder) event(kind Kind) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Profile:   d.profile.Name,
		Offset:    d.preambleStart,
		Corrected: d.corrected,
		Score:     d.score,
		Timestamp: d.now(),
	}
}

func (d *Decoder) decoded(payload []byte) Event {
	ev := d.event(KindDecoded)
	ev.Payload = append([]byte(nil), payload...)

	latency := ev.Timestamp.Sub(d.syncTime)
	d.mu.Lock()
	d.stats.Decoded++
	d.stats.CorrectedBits += uint64(d.corrected)
	d.mu.Unlock()
	d.metrics.RecordFrameDecoded(latency.Seconds())

	d.logger.Info("Frame decoded",
		slog.String("profile", d.profile.Name),
		slog.Int("payload_len", len(payload)),
		slog.Int("corrected_bits", d.corrected),
		slog.Int64("offset", d.preambleStart),
	)
	return ev
}

func (d *Decoder) fail(reason Reason, err error) Event {
	ev := d.event(KindFailed)
	ev.Reason = reason
	ev.Detail = err.Error()

	latency := ev.Timestamp.Sub(d.syncTime)
	d.mu.Lock()
	switch reason {
	case ReasonInvalidHeader:
		d.stats.InvalidHeaders++
	case ReasonChecksumMismatch:
		d.stats.ChecksumMismatches++
	}
	d.mu.Unlock()
	d.metrics.RecordDecodeFailure(string(reason), latency.Seconds())

	d.logger.Warn("Frame decode failed",
		slog.String("profile", d.profile.Name),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
		slog.Int64("offset", d.preambleStart),
	)
	return ev
}
