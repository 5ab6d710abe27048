package netaudio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/protocol"
)

// SinkConfig configures a UDP audio sink
type SinkConfig struct {
	Address        string        // peer address, host:port
	PacketDuration time.Duration // audio per packet, default 20ms
	Realtime       bool          // pace packets at playback speed
}

// UDPSink streams every played buffer to a peer as one TLV stream:
// a signaling packet, sequenced audio packets and an end packet.
type UDPSink struct {
	conn    *net.UDPConn
	config  SinkConfig
	logger  *slog.Logger
	mu      sync.Mutex
	profile string
	streams uint64
}

// NewUDPSink dials the peer address
func NewUDPSink(cfg SinkConfig, logger *slog.Logger) (*UDPSink, error) {
	if cfg.PacketDuration <= 0 {
		cfg.PacketDuration = 20 * time.Millisecond
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP: %w", err)
	}
	return &UDPSink{conn: conn, config: cfg, logger: logger}, nil
}

// SetProfile sets the profile name announced in signaling packets
func (s *UDPSink) SetProfile(name string) {
	s.mu.Lock()
	s.profile = name
	s.mu.Unlock()
}

// Play implements audio.Sink
func (s *UDPSink) Play(ctx context.Context, buf audio.Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", audio.ErrSampleRate, buf.SampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frames := int(s.config.PacketDuration.Seconds() * float64(buf.SampleRate))
	if frames < 1 {
		frames = 1
	}
	if maxFrames := protocol.MaxAudioDataSize / 2; frames > maxFrames {
		frames = maxFrames
	}

	streamID := uuid.New().ID()
	s.streams++

	if _, err := s.conn.Write(protocol.MarshalSignalingPacket(streamID, protocol.DirectionTX,
		protocol.NewSignalingPayload(s.profile, buf.SampleRate, frames))); err != nil {
		return fmt.Errorf("failed to send signaling packet: %w", err)
	}

	var ticker *time.Ticker
	if s.config.Realtime {
		ticker = time.NewTicker(s.config.PacketDuration)
		defer ticker.Stop()
	}

	seq := uint32(0)
	for off := 0; off < len(buf.Samples); off += frames {
		end := off + frames
		if end > len(buf.Samples) {
			end = len(buf.Samples)
		}
		packet, err := protocol.MarshalAudioPacket(streamID, protocol.DirectionTX, seq, protocol.EncodePCM(buf.Samples[off:end]))
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(packet); err != nil {
			return fmt.Errorf("failed to send audio packet: %w", err)
		}
		seq++

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}

	if _, err := s.conn.Write(protocol.MarshalEndPacket(streamID, protocol.DirectionTX)); err != nil {
		return fmt.Errorf("failed to send end packet: %w", err)
	}

	s.logger.Debug("Audio stream sent",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.Uint64("packets", uint64(seq)),
		slog.Duration("duration", buf.Duration()),
	)
	return nil
}

// Close releases the socket
func (s *UDPSink) Close() error {
	return s.conn.Close()
}
