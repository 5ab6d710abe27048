package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxGap is how many missing packets the jitter buffer waits for
// before declaring them lost
const DefaultMaxGap = 20

// JitterBuffer restores sequence order for PCM-16 packets arriving over an
// unreliable transport. Packets that stay missing for more than maxGap
// newer packets are declared lost and replaced by silence of the same
// length as the most recent packet, so the sample timeline the receiver
// sees stays continuous.
type JitterBuffer struct {
	streamID   uint32
	sampleRate int

	ready []int16 // in-order samples waiting to be read

	started     bool
	lastSeq     uint32
	expectedSeq uint32
	seqBuffer   map[uint32][]int16

	lostPackets map[uint32]bool
	maxGap      uint32
	packetLen   int // samples in the most recent packet

	lastUpdate   time.Time
	totalPackets uint32
	lostCount    uint32
	lateCount    uint32

	mu sync.Mutex
}

// JitterStats represents jitter buffer statistics for monitoring
type JitterStats struct {
	StreamID     uint32  `json:"stream_id"`
	SampleRate   int     `json:"sample_rate"`
	TotalPackets uint32  `json:"total_packets"`
	LostPackets  uint32  `json:"lost_packets"`
	LatePackets  uint32  `json:"late_packets"`
	LossRate     float64 `json:"loss_rate"`
	Buffered     int     `json:"buffered_samples"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewJitterBuffer creates a jitter buffer for one stream. A maxGap of zero
// selects DefaultMaxGap.
func NewJitterBuffer(streamID uint32, sampleRate int, maxGap uint32) *JitterBuffer {
	if maxGap == 0 {
		maxGap = DefaultMaxGap
	}
	return &JitterBuffer{
		streamID:    streamID,
		sampleRate:  sampleRate,
		ready:       make([]int16, 0, sampleRate),
		seqBuffer:   make(map[uint32][]int16),
		lostPackets: make(map[uint32]bool),
		maxGap:      maxGap,
		lastUpdate:  time.Now(),
	}
}

// AddPacket adds little-endian PCM-16 data carried by packet sequence
func (b *JitterBuffer) AddPacket(sequence uint32, raw []byte) error {
	if len(raw)%2 != 0 {
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(raw))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++
	if len(samples) > 0 {
		b.packetLen = len(samples)
	}

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		b.ready = append(b.ready, samples...)
		b.lastSeq = sequence
		b.expectedSeq = sequence + 1
		b.drainBuffered()

	case sequence > b.expectedSeq:
		b.seqBuffer[sequence] = samples
		if sequence-b.expectedSeq > b.maxGap {
			b.fillLost(sequence)
			b.drainBuffered()
		}

	default:
		b.lateCount++
		return fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}

	b.cleanupOldLost()
	return nil
}

// fillLost zero-fills every missing sequence before upTo
func (b *JitterBuffer) fillLost(upTo uint32) {
	for seq := b.expectedSeq; seq < upTo; seq++ {
		if data, buffered := b.seqBuffer[seq]; buffered {
			b.ready = append(b.ready, data...)
			delete(b.seqBuffer, seq)
		} else {
			b.lostPackets[seq] = true
			b.lostCount++
			b.ready = append(b.ready, make([]int16, b.packetLen)...)
		}
		b.lastSeq = seq
	}
	b.expectedSeq = upTo
}

// drainBuffered moves consecutive buffered packets into the ready queue
func (b *JitterBuffer) drainBuffered() {
	for {
		data, ok := b.seqBuffer[b.expectedSeq]
		if !ok {
			return
		}
		b.ready = append(b.ready, data...)
		delete(b.seqBuffer, b.expectedSeq)
		delete(b.lostPackets, b.expectedSeq)
		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
}

// cleanupOldLost removes very old lost packet tracking
func (b *JitterBuffer) cleanupOldLost() {
	if b.lastSeq < 100 {
		return
	}
	cutoff := b.lastSeq - 100
	for seq := range b.lostPackets {
		if seq < cutoff {
			delete(b.lostPackets, seq)
		}
	}
}

// Flush releases every buffered packet, zero-filling the gaps between them.
// Used when the stream goes idle and no more reordering is expected.
func (b *JitterBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.seqBuffer) == 0 {
		return
	}
	var highest uint32
	for seq := range b.seqBuffer {
		if seq > highest {
			highest = seq
		}
	}
	b.fillLost(highest + 1)
}

// Prepend places already-ordered samples ahead of everything buffered
func (b *JitterBuffer) Prepend(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = append(append(make([]int16, 0, len(samples)+len(b.ready)), samples...), b.ready...)
}

// Read moves up to len(p) in-order samples into p
func (b *JitterBuffer) Read(p []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(p, b.ready)
	remaining := copy(b.ready, b.ready[n:])
	b.ready = b.ready[:remaining]
	return n
}

// Available returns the number of in-order samples ready to be read
func (b *JitterBuffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready)
}

// LastUpdate returns the time the last packet was added
func (b *JitterBuffer) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// Stats returns current buffer statistics
func (b *JitterBuffer) Stats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalPackets) * 100
	}

	return JitterStats{
		StreamID:     b.streamID,
		SampleRate:   b.sampleRate,
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		LatePackets:  b.lateCount,
		LossRate:     lossRate,
		Buffered:     len(b.ready),
		PendingSeqs:  len(b.seqBuffer),
		LastSequence: b.lastSeq,
	}
}
