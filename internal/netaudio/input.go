package netaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/protocol"
)

// InputConfig configures a UDP audio input
type InputConfig struct {
	Address    string        // listen address, host:port
	BufferSize int           // socket read buffer in bytes
	QueueSize  int           // packets queued between the socket and the jitter buffer
	MaxGap     uint32        // missing packets tolerated before zero-filling
	IdleFlush  time.Duration // flush reordering state after this much silence
}

func (c *InputConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 65536
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.IdleFlush <= 0 {
		c.IdleFlush = 200 * time.Millisecond
	}
}

// UDPInput is an audio.Input backed by a UDP socket. Each Open binds the
// socket; Close on the returned source releases it.
type UDPInput struct {
	config  InputConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *udpSource
}

// NewUDPInput creates a UDP input
func NewUDPInput(cfg InputConfig, logger *slog.Logger, m *metrics.Metrics) *UDPInput {
	cfg.applyDefaults()
	return &UDPInput{config: cfg, logger: logger, metrics: m}
}

// Open implements audio.Input
func (in *UDPInput) Open(sampleRate int) (audio.Source, error) {
	addr, err := net.ResolveUDPAddr("udp", in.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		if errors.Is(err, syscallAddrInUse) {
			return nil, fmt.Errorf("%w: %v", audio.ErrDeviceBusy, err)
		}
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if err := conn.SetReadBuffer(in.config.BufferSize); err != nil {
		in.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", in.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := &udpSource{
		conn:       conn,
		config:     in.config,
		logger:     in.logger,
		metrics:    in.metrics,
		sampleRate: sampleRate,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, in.config.QueueSize),
		notify:     make(chan struct{}, 1),
	}

	in.logger.Info("UDP audio input started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("sample_rate", sampleRate),
	)

	src.wg.Add(2)
	go src.receiveLoop()
	go src.packetProcessor()

	in.mu.Lock()
	in.current = src
	in.mu.Unlock()
	return src, nil
}

// Statistics returns counters for the most recently opened source
func (in *UDPInput) Statistics() (Statistics, bool) {
	in.mu.Lock()
	src := in.current
	in.mu.Unlock()
	if src == nil {
		return Statistics{}, false
	}
	return src.Statistics(), true
}

// LocalAddr returns the bound address of the most recently opened source
func (in *UDPInput) LocalAddr() net.Addr {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current == nil {
		return nil
	}
	return in.current.conn.LocalAddr()
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// Statistics represents UDP input counters
type Statistics struct {
	PacketsReceived  uint64             `json:"packets_received"`
	PacketsProcessed uint64             `json:"packets_processed"`
	ParseErrors      uint64             `json:"parse_errors"`
	Dropped          uint64             `json:"dropped"`
	StreamID         uint32             `json:"stream_id"`
	Profile          string             `json:"profile,omitempty"`
	Jitter           *audio.JitterStats `json:"jitter,omitempty"`
}

type udpSource struct {
	conn       *net.UDPConn
	config     InputConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sampleRate int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	packetChan chan *incomingPacket
	notify     chan struct{} // signalled when samples become readable

	mu       sync.Mutex
	stream   *audio.JitterBuffer
	streamID uint32
	profile  string
	rejected map[uint32]bool // streams announced at the wrong sample rate
	lost     uint32

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	dropped          uint64
}

// Read blocks until samples arrive or the source is closed
func (s *udpSource) Read(p []int16) (int, error) {
	for {
		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()

		if stream != nil {
			if n := stream.Read(p); n > 0 {
				return n, nil
			}
		}

		select {
		case <-s.ctx.Done():
			return 0, audio.ErrClosed
		case <-s.notify:
		}
	}
}

// Close stops the receive loop and releases the socket
func (s *udpSource) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.wg.Wait()

		s.mu.Lock()
		received, processed, parseErrors := s.packetsReceived, s.packetsProcessed, s.parseErrors
		s.mu.Unlock()

		s.logger.Info("UDP audio input stopped",
			slog.Uint64("packets_received", received),
			slog.Uint64("packets_processed", processed),
			slog.Uint64("parse_errors", parseErrors),
		)
	})
	return err
}

// Statistics returns current input statistics
func (s *udpSource) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Statistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		Dropped:          s.dropped,
		StreamID:         s.streamID,
		Profile:          s.profile,
	}
	if s.stream != nil {
		js := s.stream.Stats()
		st.Jitter = &js
	}
	return st
}

// receiveLoop is the main packet receiving loop
func (s *udpSource) receiveLoop() {
	defer s.wg.Done()
	defer close(s.packetChan)

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Read deadline lets the loop notice cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		select {
		case s.packetChan <- &incomingPacket{data: packetData, remoteAddr: remoteAddr, timestamp: time.Now()}:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor feeds parsed packets into the jitter buffer. A single
// processor keeps sequence handling for one stream serialized.
func (s *udpSource) packetProcessor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.IdleFlush / 2)
	defer ticker.Stop()

	for {
		select {
		case packet, ok := <-s.packetChan:
			if !ok {
				return
			}
			s.handlePacket(packet)
		case <-ticker.C:
			s.flushIdle()
		}
	}
}

// handlePacket processes a single incoming packet
func (s *udpSource) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeSignaling:
		s.processSignalingPacket(parsed.Header, parsed.Signaling)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed.Header, parsed.Audio)
	case protocol.PacketTypeEnd:
		s.processEndPacket(parsed.Header)
	}
}

// processSignalingPacket starts a new stream
func (s *udpSource) processSignalingPacket(header *protocol.Header, payload *protocol.SignalingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(payload.SampleRate) != s.sampleRate {
		if s.rejected == nil {
			s.rejected = make(map[uint32]bool)
		}
		s.rejected[header.StreamID] = true
		s.logger.Warn("Ignoring stream with mismatched sample rate",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("profile", payload.GetProfileName()),
			slog.Int("stream_rate", int(payload.SampleRate)),
			slog.Int("input_rate", s.sampleRate),
		)
		return
	}

	s.startStreamLocked(header.StreamID)
	s.profile = payload.GetProfileName()

	s.logger.Info("Audio stream announced",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("profile", s.profile),
		slog.Int("packet_frames", int(payload.PacketFrames)),
	)
}

// startStreamLocked switches to streamID, keeping samples already ordered
// from the previous stream readable
func (s *udpSource) startStreamLocked(streamID uint32) {
	if s.stream != nil && s.streamID == streamID {
		return
	}
	next := audio.NewJitterBuffer(streamID, s.sampleRate, s.config.MaxGap)
	if s.stream != nil {
		s.stream.Flush()
		leftover := make([]int16, s.stream.Available())
		s.stream.Read(leftover)
		if len(leftover) > 0 {
			// Carried over as one pre-ordered block
			next.Prepend(leftover)
		}
	}
	s.stream = next
	s.streamID = streamID
	s.lost = 0
	s.profile = ""
}

// processAudioPacket routes audio into the current stream
func (s *udpSource) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload) {
	s.mu.Lock()
	if s.rejected[header.StreamID] {
		s.mu.Unlock()
		return
	}
	if s.stream == nil || s.streamID != header.StreamID {
		// Signaling may have been lost; adopt the stream implicitly
		s.logger.Debug("Adopting unannounced audio stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
		)
		s.startStreamLocked(header.StreamID)
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.AddPacket(payload.Sequence, payload.AudioData); err != nil {
		s.logger.Debug("Audio packet rejected",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.afterUpdate(stream)
}

// processEndPacket releases everything the stream still holds
func (s *udpSource) processEndPacket(header *protocol.Header) {
	s.mu.Lock()
	stream := s.stream
	current := s.streamID == header.StreamID
	s.mu.Unlock()

	if stream == nil || !current {
		return
	}
	stream.Flush()
	s.afterUpdate(stream)

	s.logger.Debug("Audio stream ended", slog.Uint64("stream_id", uint64(header.StreamID)))
}

// flushIdle releases reordering state once a stream has gone quiet
func (s *udpSource) flushIdle() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil || stream.Stats().PendingSeqs == 0 {
		return
	}
	if time.Since(stream.LastUpdate()) < s.config.IdleFlush {
		return
	}
	stream.Flush()
	s.afterUpdate(stream)
}

// afterUpdate records newly lost packets and wakes the reader
func (s *udpSource) afterUpdate(stream *audio.JitterBuffer) {
	lost := stream.Stats().LostPackets

	s.mu.Lock()
	if stream == s.stream && lost > s.lost {
		s.metrics.RecordPacketsLost(int(lost - s.lost))
		s.lost = lost
	}
	s.mu.Unlock()

	if stream.Available() > 0 {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}
