// Package fec implements the forward error correction schemes a profile can
// select. Schemes operate on bit slices so they compose directly with the
// symbol mapper in the modem package.
package fec

import (
	"errors"
	"fmt"

	"github.com/brije111/quietshare/internal/profile"
)

var (
	// ErrUnsupportedScheme indicates the profile names an unknown scheme
	ErrUnsupportedScheme = errors.New("fec: unsupported scheme")
	// ErrInsufficientBits indicates there are not enough bits to decode
	ErrInsufficientBits = errors.New("fec: insufficient bits for decoding")
)

// Scheme encodes and decodes a bitstream
type Scheme interface {
	// Name returns the profile identifier of the scheme
	Name() string
	// EncodedLen returns how many coded bits carry n data bits
	EncodedLen(n int) int
	// Encode returns the coded bitstream for data
	Encode(data []bool) []bool
	// Decode recovers n data bits from coded and reports how many bit
	// errors were corrected along the way
	Decode(coded []bool, n int) ([]bool, int, error)
}

// ForProfile returns the scheme selected by p
func ForProfile(p profile.Profile) (Scheme, error) {
	switch p.FEC {
	case profile.FECNone, "":
		return None{}, nil
	case profile.FECRepetition:
		return NewRepetition(p.FECRedundancy)
	case profile.FECHamming74:
		return Hamming74{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, p.FEC)
	}
}

// None passes bits through unchanged
type None struct{}

func (None) Name() string { return profile.FECNone }

func (None) EncodedLen(n int) int { return n }

func (None) Encode(data []bool) []bool {
	out := make([]bool, len(data))
	copy(out, data)
	return out
}

func (None) Decode(coded []bool, n int) ([]bool, int, error) {
	if len(coded) < n {
		return nil, 0, ErrInsufficientBits
	}
	out := make([]bool, n)
	copy(out, coded[:n])
	return out, 0, nil
}

// BytesToBits expands data MSB first
func BytesToBits(data []byte) []bool {
	bits := make([]bool, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = b&(0x80>>j) != 0
		}
	}
	return bits
}

// BitsToBytes packs bits MSB first; a trailing partial byte is zero padded
func BitsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}
