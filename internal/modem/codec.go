package modem

import (
	"fmt"
	"time"

	"github.com/brije111/quietshare/internal/fec"
	"github.com/brije111/quietshare/internal/frame"
	"github.com/brije111/quietshare/internal/profile"
)

// Codec maps frames to waveforms and back for one profile. A frame on air
// is the preamble, the FEC-coded header block and the FEC-coded body block;
// each block starts on a symbol boundary and is zero-padded to a whole
// number of symbols.
type Codec struct {
	*Modem
	profile       profile.Profile
	scheme        fec.Scheme
	headerSymbols int
}

// NewCodec builds the codec for a validated profile
func NewCodec(p profile.Profile) (*Codec, error) {
	m, err := New(p)
	if err != nil {
		return nil, err
	}
	scheme, err := fec.ForProfile(p)
	if err != nil {
		return nil, err
	}
	c := &Codec{Modem: m, profile: p, scheme: scheme}
	c.headerSymbols = m.SymbolCount(scheme.EncodedLen(frame.HeaderSize * 8))
	return c, nil
}

// Profile returns the profile the codec was built for
func (c *Codec) Profile() profile.Profile { return c.profile }

// Scheme returns the FEC scheme in use
func (c *Codec) Scheme() fec.Scheme { return c.scheme }

// HeaderSymbols returns the number of symbols in the header block
func (c *Codec) HeaderSymbols() int { return c.headerSymbols }

// BodySymbols returns the number of symbols in the body block of a frame
// carrying payloadLen bytes
func (c *Codec) BodySymbols(payloadLen int) int {
	return c.SymbolCount(c.scheme.EncodedLen((payloadLen + frame.ChecksumSize) * 8))
}

// FrameSamples returns the on-air length of a frame, preamble included
func (c *Codec) FrameSamples(payloadLen int) int {
	return c.PreambleLen() + (c.headerSymbols+c.BodySymbols(payloadLen))*c.SamplesPerSymbol()
}

// Airtime returns how long a frame carrying payloadLen bytes takes to play
func (c *Codec) Airtime(payloadLen int) time.Duration {
	return time.Duration(c.FrameSamples(payloadLen)) * time.Second / time.Duration(c.SampleRate())
}

// ModulateFrame renders a complete frame, preamble first
func (c *Codec) ModulateFrame(f *frame.Frame) []float64 {
	k := c.BitsPerSymbol()
	symbols := BitsToSymbols(c.scheme.Encode(fec.BytesToBits(f.Header.Bytes())), k)
	symbols = append(symbols, BitsToSymbols(c.scheme.Encode(fec.BytesToBits(f.Body)), k)...)
	return c.Modulate(symbols)
}

// demodulateBlock reads count symbols starting at samples[0] and returns the
// coded bits and the mean tone confidence
func (c *Codec) demodulateBlock(samples []float64, count int) ([]bool, float64, error) {
	n := c.SamplesPerSymbol()
	if len(samples) < count*n {
		return nil, 0, fmt.Errorf("modem: need %d samples for %d symbols, got %d", count*n, count, len(samples))
	}
	symbols := make([]int, count)
	var confidence float64
	for i := range symbols {
		sym, share := c.Demodulate(samples[i*n : (i+1)*n])
		symbols[i] = sym
		confidence += share
	}
	if count > 0 {
		confidence /= float64(count)
	}
	return SymbolsToBits(symbols, c.BitsPerSymbol()), confidence, nil
}

// BlockResult describes one decoded block
type BlockResult struct {
	Corrected  int     // bit errors repaired by FEC
	Confidence float64 // mean share of tone energy held by the chosen tones
}

// DecodeHeader demodulates and validates the header block. samples must
// start at the first header symbol.
func (c *Codec) DecodeHeader(samples []float64) (frame.Header, BlockResult, error) {
	bits, confidence, err := c.demodulateBlock(samples, c.headerSymbols)
	if err != nil {
		return frame.Header{}, BlockResult{}, err
	}
	data, corrected, err := c.scheme.Decode(bits, frame.HeaderSize*8)
	if err != nil {
		return frame.Header{}, BlockResult{}, fmt.Errorf("%w: %v", frame.ErrInvalidHeader, err)
	}
	res := BlockResult{Corrected: corrected, Confidence: confidence}
	h, err := frame.ParseHeader(fec.BitsToBytes(data), c.profile.MaxPayloadSize)
	return h, res, err
}

// DecodeBody demodulates the body block for header h and verifies its
// checksum. samples must start at the first body symbol.
func (c *Codec) DecodeBody(samples []float64, h frame.Header) ([]byte, BlockResult, error) {
	bits, confidence, err := c.demodulateBlock(samples, c.BodySymbols(int(h.PayloadLen)))
	if err != nil {
		return nil, BlockResult{}, err
	}
	data, corrected, err := c.scheme.Decode(bits, h.BodySize()*8)
	if err != nil {
		return nil, BlockResult{}, fmt.Errorf("%w: %v", frame.ErrChecksumMismatch, err)
	}
	res := BlockResult{Corrected: corrected, Confidence: confidence}
	payload, err := frame.ParseBody(fec.BitsToBytes(data))
	return payload, res, err
}
