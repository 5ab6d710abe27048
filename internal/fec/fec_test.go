package fec

import (
	"errors"
	"testing"

	"github.com/brije111/quietshare/internal/profile"
)

func testBits() []bool {
	return BytesToBits([]byte{0xA5, 0x3C, 0xFF, 0x00, 0x81})
}

func bitsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBytesBitsConversion(t *testing.T) {
	bits := BytesToBits([]byte{0x80, 0x01})
	if len(bits) != 16 || !bits[0] || bits[1] || !bits[15] {
		t.Errorf("Unexpected bit expansion %v", bits)
	}

	data := []byte("hello")
	if got := BitsToBytes(BytesToBits(data)); string(got) != "hello" {
		t.Errorf("Expected hello, got %q", got)
	}

	// Partial trailing byte is padded with zeros
	if got := BitsToBytes([]bool{true, true, true}); len(got) != 1 || got[0] != 0xE0 {
		t.Errorf("Expected [0xE0], got %x", got)
	}
}

func TestForProfile(t *testing.T) {
	tests := []struct {
		fec        string
		redundancy int
		expected   string
		err        error
	}{
		{fec: profile.FECNone, expected: profile.FECNone},
		{fec: profile.FECRepetition, redundancy: 5, expected: profile.FECRepetition},
		{fec: profile.FECHamming74, expected: profile.FECHamming74},
		{fec: profile.FECRepetition, redundancy: 2, err: ErrUnsupportedScheme},
		{fec: "turbo", err: ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.fec, func(t *testing.T) {
			scheme, err := ForProfile(profile.Profile{FEC: tt.fec, FECRedundancy: tt.redundancy})
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("Expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if scheme.Name() != tt.expected {
				t.Errorf("Expected scheme %q, got %q", tt.expected, scheme.Name())
			}
			if rep, ok := scheme.(*Repetition); ok && rep.Factor() != tt.redundancy {
				t.Errorf("Expected repetition factor %d, got %d", tt.redundancy, rep.Factor())
			}
		})
	}
}

func TestSchemesRoundTrip(t *testing.T) {
	rep, _ := NewRepetition(3)
	schemes := []Scheme{None{}, rep, Hamming74{}}
	data := testBits()

	for _, s := range schemes {
		t.Run(s.Name(), func(t *testing.T) {
			coded := s.Encode(data)
			if len(coded) != s.EncodedLen(len(data)) {
				t.Errorf("EncodedLen says %d, Encode produced %d", s.EncodedLen(len(data)), len(coded))
			}

			decoded, corrected, err := s.Decode(coded, len(data))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if corrected != 0 {
				t.Errorf("Expected 0 corrections on a clean stream, got %d", corrected)
			}
			if !bitsEqual(decoded, data) {
				t.Error("Decoded bits differ from input")
			}

			if _, _, err := s.Decode(coded[:len(coded)-1], len(data)); !errors.Is(err, ErrInsufficientBits) {
				t.Errorf("Expected ErrInsufficientBits on truncated input, got %v", err)
			}
		})
	}
}

func TestHammingCorrectsOneErrorPerCodeword(t *testing.T) {
	data := testBits()
	h := Hamming74{}
	coded := h.Encode(data)

	// Flip a different position in every codeword
	for i := 0; i < len(coded)/7; i++ {
		pos := i*7 + i%7
		coded[pos] = !coded[pos]
	}

	decoded, corrected, err := h.Decode(coded, len(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if corrected != len(coded)/7 {
		t.Errorf("Expected %d corrections, got %d", len(coded)/7, corrected)
	}
	if !bitsEqual(decoded, data) {
		t.Error("Hamming(7,4) did not restore the data")
	}
}

func TestHammingOddLength(t *testing.T) {
	data := []bool{true, false, true, true, false, true}
	h := Hamming74{}

	coded := h.Encode(data)
	if len(coded) != 14 {
		t.Fatalf("Expected 14 coded bits, got %d", len(coded))
	}

	decoded, _, err := h.Decode(coded, len(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bitsEqual(decoded, data) {
		t.Errorf("Expected %v, got %v", data, decoded)
	}
}

func TestRepetitionMajorityVote(t *testing.T) {
	rep, err := NewRepetition(5)
	if err != nil {
		t.Fatalf("NewRepetition failed: %v", err)
	}

	data := testBits()
	coded := rep.Encode(data)

	// Two of five copies flipped for every bit is still recoverable
	for i := 0; i < len(data); i++ {
		coded[i*5] = !coded[i*5]
		coded[i*5+3] = !coded[i*5+3]
	}

	decoded, corrected, err := rep.Decode(coded, len(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if corrected != 2*len(data) {
		t.Errorf("Expected %d corrections, got %d", 2*len(data), corrected)
	}
	if !bitsEqual(decoded, data) {
		t.Error("Majority vote did not restore the data")
	}
}
