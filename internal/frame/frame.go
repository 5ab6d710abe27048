package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Frame layout constants
const (
	// Version is the only header version this package produces or accepts
	Version = 0x01

	// HeaderSize is 1 + 2 + 1 bytes: [Version:1][PayloadLen:2][HeaderCRC:1]
	HeaderSize = 4
	// ChecksumSize is the CRC-32 trailer appended to the payload
	ChecksumSize = 4
)

var (
	// ErrInvalidHeader reports a header that fails its plausibility checks
	ErrInvalidHeader = errors.New("frame: invalid header")
	// ErrChecksumMismatch reports a body whose CRC-32 does not match
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	// ErrPayloadTooLarge reports a payload longer than the allowed maximum
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed-size frame header
type Header struct {
	Version    uint8
	PayloadLen uint16
	Check      uint8
}

// Frame is one unit of transmission before forward error correction
type Frame struct {
	Header Header
	// Body holds the payload followed by its CRC-32
	Body []byte
}

// Marshal builds the frame for payload, enforcing maxPayload
func Marshal(payload []byte, maxPayload int) (*Frame, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes does not fit the length field", ErrPayloadTooLarge, len(payload))
	}

	return &Frame{
		Header: NewHeader(uint16(len(payload))),
		Body:   EncodeBody(payload),
	}, nil
}

// NewHeader returns a header for a payload of n bytes
func NewHeader(n uint16) Header {
	h := Header{Version: Version, PayloadLen: n}
	h.Check = h.checksum()
	return h
}

// Payload returns the payload part of the body
func (f *Frame) Payload() []byte {
	if len(f.Body) < ChecksumSize {
		return nil
	}
	return f.Body[:len(f.Body)-ChecksumSize]
}

// Bytes returns the encoded header block followed by the body block
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(f.Body))
	out = append(out, f.Header.Bytes()...)
	return append(out, f.Body...)
}

// Bytes encodes the header in wire order
func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	binary.BigEndian.PutUint16(buf[1:3], h.PayloadLen)
	buf[3] = h.Check
	return buf
}

// BodySize returns the size of the body block declared by the header
func (h Header) BodySize() int {
	return int(h.PayloadLen) + ChecksumSize
}

func (h Header) checksum() uint8 {
	var buf [3]byte
	buf[0] = h.Version
	binary.BigEndian.PutUint16(buf[1:3], h.PayloadLen)
	return crc8(buf[:])
}

// ParseHeader parses and validates a header block. maxPayload is the largest
// payload length the active profile allows.
func ParseHeader(data []byte, maxPayload int) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(data))
	}

	h := Header{
		Version:    data[0],
		PayloadLen: binary.BigEndian.Uint16(data[1:3]),
		Check:      data[3],
	}

	if err := ValidateHeader(h, maxPayload); err != nil {
		return Header{}, err
	}

	return h, nil
}

// ValidateHeader checks header version, checksum and declared length
func ValidateHeader(h Header, maxPayload int) error {
	if h.Check != h.checksum() {
		return fmt.Errorf("%w: header checksum 0x%02x, expected 0x%02x", ErrInvalidHeader, h.Check, h.checksum())
	}

	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version 0x%02x", ErrInvalidHeader, h.Version)
	}

	if int(h.PayloadLen) > maxPayload {
		return fmt.Errorf("%w: declared payload length %d exceeds maximum %d", ErrInvalidHeader, h.PayloadLen, maxPayload)
	}

	return nil
}

// EncodeBody appends the CRC-32 of payload to a copy of payload
func EncodeBody(payload []byte) []byte {
	body := make([]byte, len(payload)+ChecksumSize)
	copy(body, payload)
	binary.BigEndian.PutUint32(body[len(payload):], crc32.ChecksumIEEE(payload))
	return body
}

// ParseBody verifies the CRC-32 trailer and returns a copy of the payload
func ParseBody(body []byte) ([]byte, error) {
	if len(body) < ChecksumSize {
		return nil, fmt.Errorf("%w: body too short (%d bytes)", ErrChecksumMismatch, len(body))
	}

	n := len(body) - ChecksumSize
	want := binary.BigEndian.Uint32(body[n:])
	got := crc32.ChecksumIEEE(body[:n])
	if want != got {
		return nil, fmt.Errorf("%w: got 0x%08x, expected 0x%08x", ErrChecksumMismatch, got, want)
	}

	payload := make([]byte, n)
	copy(payload, body[:n])
	return payload, nil
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{Version:0x%02x, PayloadLen:%d, Check:0x%02x}", h.Version, h.PayloadLen, h.Check)
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{%s, BodyLen:%d}", f.Header, len(f.Body))
}
