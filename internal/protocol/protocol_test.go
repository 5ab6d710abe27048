package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid signaling header",
			data: []byte{
				0x01,       // PacketType: Signaling
				0x00, 0x34, // PacketLen: 52 (8 + 44)
				0x00, 0x00, 0x30, 0x39, // StreamID: 12345
				0x02, // Direction: TX
			},
			expected: &Header{
				PacketType: PacketTypeSignaling,
				PacketLen:  52,
				StreamID:   12345,
				Direction:  DirectionTX,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // StreamID: 305419896
				0x01, // Direction: RX
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				StreamID:   305419896,
				Direction:  DirectionRX,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseSignalingPayload(t *testing.T) {
	data := make([]byte, SignalingPayloadSize)
	copy(data[0:], "audible-fast")
	binary.BigEndian.PutUint32(data[32:], 48000)
	binary.BigEndian.PutUint32(data[36:], 960)
	binary.BigEndian.PutUint32(data[40:], 1701234567)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*SignalingPayload) bool
	}{
		{
			name: "valid signaling payload",
			data: data,
			validate: func(p *SignalingPayload) bool {
				return p.GetProfileName() == "audible-fast" &&
					p.SampleRate == 48000 &&
					p.PacketFrames == 960 &&
					p.Timestamp == 1701234567
			},
		},
		{
			name:        "payload too short",
			data:        data[:20],
			expectError: true,
			errorMsg:    "signaling payload too short",
		},
		{
			name:        "empty payload",
			data:        []byte{},
			expectError: true,
			errorMsg:    "signaling payload too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseSignalingPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	audioData := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	data := make([]byte, 4+len(audioData))
	binary.BigEndian.PutUint32(data[0:], 12345)
	copy(data[4:], audioData)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*AudioPayload) bool
	}{
		{
			name: "valid audio payload with data",
			data: data,
			validate: func(p *AudioPayload) bool {
				return p.Sequence == 12345 && bytes.Equal(p.AudioData, audioData)
			},
		},
		{
			name: "audio payload with sequence only",
			data: []byte{0x00, 0x00, 0x00, 0x01},
			validate: func(p *AudioPayload) bool {
				return p.Sequence == 1 && len(p.AudioData) == 0
			},
		},
		{
			name:        "payload too short",
			data:        []byte{0x00, 0x00},
			expectError: true,
			errorMsg:    "audio payload too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseAudioPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestParsePacket(t *testing.T) {
	signaling := MarshalSignalingPacket(12345, DirectionTX, NewSignalingPayload("audible", 44100, 882))
	audio, err := MarshalAudioPacket(67890, DirectionTX, 7, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("MarshalAudioPacket failed: %v", err)
	}
	end := MarshalEndPacket(67890, DirectionTX)

	badType := make([]byte, HeaderSize+4)
	badType[0] = 0x99
	binary.BigEndian.PutUint16(badType[1:], uint16(len(badType)))
	badType[7] = DirectionRX

	mismatch := make([]byte, HeaderSize+4)
	mismatch[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(mismatch[1:], 999)
	mismatch[7] = DirectionRX

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*ParsedPacket) bool
	}{
		{
			name: "valid signaling packet",
			data: signaling,
			validate: func(p *ParsedPacket) bool {
				return p.Header.PacketType == PacketTypeSignaling &&
					p.Signaling != nil &&
					p.Signaling.GetProfileName() == "audible" &&
					p.Signaling.SampleRate == 44100 &&
					p.Audio == nil
			},
		},
		{
			name: "valid audio packet",
			data: audio,
			validate: func(p *ParsedPacket) bool {
				return p.Header.PacketType == PacketTypeAudio &&
					p.Audio != nil &&
					p.Audio.Sequence == 7 &&
					bytes.Equal(p.Audio.AudioData, []byte{1, 2, 3, 4}) &&
					p.Signaling == nil
			},
		},
		{
			name: "valid end packet",
			data: end,
			validate: func(p *ParsedPacket) bool {
				return p.Header.PacketType == PacketTypeEnd && p.Audio == nil && p.Signaling == nil
			},
		},
		{
			name:        "packet too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "packet too short",
		},
		{
			name:        "invalid packet type",
			data:        badType,
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name:        "packet length mismatch",
			data:        mismatch,
			expectError: true,
			errorMsg:    "packet length mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   Header
		errorMsg string
	}{
		{
			name:   "valid signaling header",
			header: Header{PacketType: PacketTypeSignaling, PacketLen: 52, StreamID: 1, Direction: DirectionTX},
		},
		{
			name:   "valid audio header",
			header: Header{PacketType: PacketTypeAudio, PacketLen: 100, StreamID: 1, Direction: DirectionTX},
		},
		{
			name:   "valid end header",
			header: Header{PacketType: PacketTypeEnd, PacketLen: HeaderSize, StreamID: 1, Direction: DirectionTX},
		},
		{
			name:     "invalid packet type",
			header:   Header{PacketType: 0x99, PacketLen: 52, Direction: DirectionRX},
			errorMsg: "invalid packet type",
		},
		{
			name:     "invalid direction",
			header:   Header{PacketType: PacketTypeSignaling, PacketLen: 52, Direction: 0x99},
			errorMsg: "invalid direction",
		},
		{
			name:     "packet length too small",
			header:   Header{PacketType: PacketTypeSignaling, PacketLen: 5, Direction: DirectionRX},
			errorMsg: "packet length too small",
		},
		{
			name:     "signaling packet wrong payload size",
			header:   Header{PacketType: PacketTypeSignaling, PacketLen: 100, Direction: DirectionRX},
			errorMsg: "signaling packet payload size mismatch",
		},
		{
			name:     "audio packet payload too small",
			header:   Header{PacketType: PacketTypeAudio, PacketLen: 10, Direction: DirectionRX},
			errorMsg: "audio packet payload too small",
		},
		{
			name:     "audio packet odd PCM length",
			header:   Header{PacketType: PacketTypeAudio, PacketLen: 15, Direction: DirectionRX},
			errorMsg: "odd PCM length",
		},
		{
			name:     "end packet with payload",
			header:   Header{PacketType: PacketTypeEnd, PacketLen: 12, Direction: DirectionRX},
			errorMsg: "unexpected payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&tt.header)

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error but got none")
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestIsValidPacketType(t *testing.T) {
	tests := []struct {
		packetType uint8
		expected   bool
	}{
		{PacketTypeSignaling, true},
		{PacketTypeAudio, true},
		{PacketTypeEnd, true},
		{0x00, false},
		{0x04, false},
		{0xFF, false},
	}

	for _, tt := range tests {
		if result := IsValidPacketType(tt.packetType); result != tt.expected {
			t.Errorf("IsValidPacketType(0x%02x) = %v, expected %v", tt.packetType, result, tt.expected)
		}
	}
}

func TestIsValidDirection(t *testing.T) {
	tests := []struct {
		direction uint8
		expected  bool
	}{
		{DirectionRX, true},
		{DirectionTX, true},
		{0x00, false},
		{0x03, false},
	}

	for _, tt := range tests {
		if result := IsValidDirection(tt.direction); result != tt.expected {
			t.Errorf("IsValidDirection(0x%02x) = %v, expected %v", tt.direction, result, tt.expected)
		}
	}
}

func TestExtractString(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"normal string with null terminator", []byte("hello\x00world\x00\x00"), "hello"},
		{"string without null terminator", []byte("hello"), "hello"},
		{"empty string", []byte("\x00\x00\x00\x00"), ""},
		{"string with unicode", []byte("héllo\x00test"), "héllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ExtractString(tt.input); result != tt.expected {
				t.Errorf("ExtractString(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewSignalingPayloadTruncatesName(t *testing.T) {
	long := strings.Repeat("x", 40)
	p := NewSignalingPayload(long, 48000, 960)

	if got := p.GetProfileName(); got != long[:ProfileNameSize-1] {
		t.Errorf("Expected truncated name of %d bytes, got %d", ProfileNameSize-1, len(got))
	}
	if p.Timestamp == 0 {
		t.Error("Expected timestamp to be set")
	}
}

func TestMarshalAudioPacketLimits(t *testing.T) {
	if _, err := MarshalAudioPacket(1, DirectionTX, 0, make([]byte, MaxAudioDataSize+1)); err == nil {
		t.Error("Expected error for oversized audio data")
	}
	if _, err := MarshalAudioPacket(1, DirectionTX, 0, []byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length audio data")
	}
}

func TestEncodePCM(t *testing.T) {
	raw := EncodePCM([]int16{1, -1, 256})
	expected := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x01}
	if !bytes.Equal(raw, expected) {
		t.Errorf("EncodePCM = %v, expected %v", raw, expected)
	}
}

func TestStringMethods(t *testing.T) {
	header := &Header{
		PacketType: PacketTypeAudio,
		PacketLen:  172,
		StreamID:   12345,
		Direction:  DirectionTX,
	}
	headerStr := header.String()
	if !strings.Contains(headerStr, "Audio") || !strings.Contains(headerStr, "12345") || !strings.Contains(headerStr, "TX") {
		t.Errorf("Header.String() missing expected content: %s", headerStr)
	}

	signalingStr := NewSignalingPayload("ultrasonic", 48000, 960).String()
	if !strings.Contains(signalingStr, "ultrasonic") || !strings.Contains(signalingStr, "48000") {
		t.Errorf("SignalingPayload.String() missing expected content: %s", signalingStr)
	}

	audioStr := (&AudioPayload{Sequence: 12345, AudioData: make([]byte, 160)}).String()
	if !strings.Contains(audioStr, "12345") || !strings.Contains(audioStr, "160") {
		t.Errorf("AudioPayload.String() missing expected content: %s", audioStr)
	}
}
