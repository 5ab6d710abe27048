package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// Packet types
	PacketTypeSignaling = 0x01
	PacketTypeAudio     = 0x02
	PacketTypeEnd       = 0x03

	// Direction types
	DirectionRX = 0x01 // Audio captured by a listener
	DirectionTX = 0x02 // Audio emitted by a transmitter

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	SignalingPayloadSize   = 44 // 32 + 4 + 4 + 4 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	MaxPacketSize          = 0xFFFF

	// MaxAudioDataSize is the largest PCM block one audio packet can carry
	MaxAudioDataSize = MaxPacketSize - HeaderSize - AudioPayloadHeaderSize

	// Field sizes in signaling payload
	ProfileNameSize  = 32
	SampleRateSize   = 4
	PacketFramesSize = 4
	TimestampSize    = 4
)

// Header represents the 8-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Direction:1]
type Header struct {
	PacketType uint8  // 0x01=Signaling, 0x02=Audio, 0x03=End
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Direction  uint8  // 0x01=RX, 0x02=TX
}

// SignalingPayload announces a stream
// Layout: [ProfileName:32][SampleRate:4][PacketFrames:4][Timestamp:4]
type SignalingPayload struct {
	ProfileName  [ProfileNameSize]byte // Null-terminated string
	SampleRate   uint32                // Hz
	PacketFrames uint32                // Samples per audio packet
	Timestamp    uint32                // Unix timestamp
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // PCM-16 little-endian samples
}

// ParsedPacket represents a fully parsed TLV packet
type ParsedPacket struct {
	Header    *Header
	Signaling *SignalingPayload // Only set for signaling packets
	Audio     *AudioPayload     // Only set for audio packets
}

// ParseHeader parses the 8-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Direction:  data[7],
	}, nil
}

// ParseSignalingPayload parses the 44-byte signaling payload
func ParseSignalingPayload(data []byte) (*SignalingPayload, error) {
	if len(data) < SignalingPayloadSize {
		return nil, fmt.Errorf("signaling payload too short: expected %d bytes, got %d",
			SignalingPayloadSize, len(data))
	}

	payload := &SignalingPayload{}
	off := copy(payload.ProfileName[:], data[:ProfileNameSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[off:])
	off += SampleRateSize
	payload.PacketFrames = binary.BigEndian.Uint32(data[off:])
	off += PacketFramesSize
	payload.Timestamp = binary.BigEndian.Uint32(data[off:])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeSignaling:
		payload, err := ParseSignalingPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signaling payload: %w", err)
		}
		packet.Signaling = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeEnd:
		// header only

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidDirection(header.Direction) {
		return fmt.Errorf("invalid direction: 0x%02x", header.Direction)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeSignaling:
		if expectedPayloadSize != SignalingPayloadSize {
			return fmt.Errorf("signaling packet payload size mismatch: expected %d, got %d",
				SignalingPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
		if expectedPayloadSize%2 != 0 {
			return fmt.Errorf("audio packet payload has odd PCM length: %d", expectedPayloadSize-AudioPayloadHeaderSize)
		}
	case PacketTypeEnd:
		if expectedPayloadSize != 0 {
			return fmt.Errorf("end packet carries %d unexpected payload bytes", expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeSignaling || ptype == PacketTypeAudio || ptype == PacketTypeEnd
}

// IsValidDirection checks if the direction is valid
func IsValidDirection(dir uint8) bool {
	return dir == DirectionRX || dir == DirectionTX
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// NewSignalingPayload builds a signaling payload stamped with the current time.
// Profile names longer than the field are truncated.
func NewSignalingPayload(profileName string, sampleRate, packetFrames int) *SignalingPayload {
	p := &SignalingPayload{
		SampleRate:   uint32(sampleRate),
		PacketFrames: uint32(packetFrames),
		Timestamp:    uint32(time.Now().Unix()),
	}
	// Keep the terminating null
	copy(p.ProfileName[:ProfileNameSize-1], profileName)
	return p
}

// GetProfileName extracts the profile name as a string
func (s *SignalingPayload) GetProfileName() string {
	return ExtractString(s.ProfileName[:])
}

// Marshal writes the header into the first HeaderSize bytes of dst
func (h *Header) Marshal(dst []byte) {
	dst[0] = h.PacketType
	binary.BigEndian.PutUint16(dst[1:3], h.PacketLen)
	binary.BigEndian.PutUint32(dst[3:7], h.StreamID)
	dst[7] = h.Direction
}

// MarshalSignalingPacket encodes a complete signaling packet
func MarshalSignalingPacket(streamID uint32, direction uint8, s *SignalingPayload) []byte {
	packet := make([]byte, HeaderSize+SignalingPayloadSize)
	h := Header{
		PacketType: PacketTypeSignaling,
		PacketLen:  uint16(len(packet)),
		StreamID:   streamID,
		Direction:  direction,
	}
	h.Marshal(packet)

	off := HeaderSize
	off += copy(packet[off:], s.ProfileName[:])
	binary.BigEndian.PutUint32(packet[off:], s.SampleRate)
	off += SampleRateSize
	binary.BigEndian.PutUint32(packet[off:], s.PacketFrames)
	off += PacketFramesSize
	binary.BigEndian.PutUint32(packet[off:], s.Timestamp)

	return packet
}

// MarshalAudioPacket encodes a complete audio packet around raw PCM bytes
func MarshalAudioPacket(streamID uint32, direction uint8, sequence uint32, audioData []byte) ([]byte, error) {
	if len(audioData) > MaxAudioDataSize {
		return nil, fmt.Errorf("audio data too large: %d bytes (maximum %d)", len(audioData), MaxAudioDataSize)
	}
	if len(audioData)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(audioData))
	}

	packet := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(audioData))
	h := Header{
		PacketType: PacketTypeAudio,
		PacketLen:  uint16(len(packet)),
		StreamID:   streamID,
		Direction:  direction,
	}
	h.Marshal(packet)
	binary.BigEndian.PutUint32(packet[HeaderSize:], sequence)
	copy(packet[HeaderSize+AudioPayloadHeaderSize:], audioData)

	return packet, nil
}

// MarshalEndPacket encodes a header-only end-of-stream packet
func MarshalEndPacket(streamID uint32, direction uint8) []byte {
	packet := make([]byte, HeaderSize)
	h := Header{
		PacketType: PacketTypeEnd,
		PacketLen:  HeaderSize,
		StreamID:   streamID,
		Direction:  direction,
	}
	h.Marshal(packet)
	return packet
}

// EncodePCM converts samples to little-endian PCM-16 bytes
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType, direction string

	switch h.PacketType {
	case PacketTypeSignaling:
		packetType = "Signaling"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeEnd:
		packetType = "End"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	switch h.Direction {
	case DirectionRX:
		direction = "RX"
	case DirectionTX:
		direction = "TX"
	default:
		direction = fmt.Sprintf("Unknown(0x%02x)", h.Direction)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Direction:%s}",
		packetType, h.PacketLen, h.StreamID, direction)
}

// String returns a human-readable representation of the signaling payload
func (s *SignalingPayload) String() string {
	return fmt.Sprintf("SignalingPayload{Profile:%q, SampleRate:%d, PacketFrames:%d, Timestamp:%d}",
		s.GetProfileName(), s.SampleRate, s.PacketFrames, s.Timestamp)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
