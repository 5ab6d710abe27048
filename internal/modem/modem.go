package modem

import (
	"fmt"
	"math"

	"github.com/brije111/quietshare/internal/profile"
)

// Modem holds the precomputed waveforms and filters for one profile
type Modem struct {
	sampleRate       int
	samplesPerSymbol int
	bitsPerSymbol    int
	tones            []float64
	amplitude        float64

	// One symbol period of every tone, starting at phase zero
	toneTables [][]float64
	// Goertzel coefficient per tone
	coeffs []float64

	preambleSymbols []int
	template        []float64
}

// New builds a modem for p. The profile is expected to be validated already.
func New(p profile.Profile) (*Modem, error) {
	k := p.BitsPerSymbol()
	if k == 0 {
		return nil, fmt.Errorf("modem: unsupported modulation %q", p.Modulation)
	}
	if p.SampleRate <= 0 || p.SymbolRate <= 0 || p.SampleRate%p.SymbolRate != 0 {
		return nil, fmt.Errorf("modem: sample rate %d is not a multiple of symbol rate %d", p.SampleRate, p.SymbolRate)
	}

	m := &Modem{
		sampleRate:       p.SampleRate,
		samplesPerSymbol: p.SamplesPerSymbol(),
		bitsPerSymbol:    k,
		tones:            p.Tones(),
		amplitude:        p.Amplitude,
	}

	n := m.samplesPerSymbol
	m.toneTables = make([][]float64, len(m.tones))
	m.coeffs = make([]float64, len(m.tones))
	for i, f := range m.tones {
		w := 2 * math.Pi * f / float64(m.sampleRate)
		table := make([]float64, n)
		for j := range table {
			table[j] = math.Sin(w * float64(j))
		}
		m.toneTables[i] = table
		m.coeffs[i] = 2 * math.Cos(w)
	}

	// Preamble uses the two outermost tones for maximum separation
	top := len(m.tones) - 1
	for _, bit := range p.PreambleBits() {
		if bit {
			m.preambleSymbols = append(m.preambleSymbols, top)
		} else {
			m.preambleSymbols = append(m.preambleSymbols, 0)
		}
	}
	m.template = m.modulate(m.preambleSymbols, 1)

	return m, nil
}

// SampleRate returns the sample rate in Hz
func (m *Modem) SampleRate() int { return m.sampleRate }

// SamplesPerSymbol returns the symbol period in samples
func (m *Modem) SamplesPerSymbol() int { return m.samplesPerSymbol }

// BitsPerSymbol returns the number of bits each symbol carries
func (m *Modem) BitsPerSymbol() int { return m.bitsPerSymbol }

// PreambleLen returns the preamble length in samples
func (m *Modem) PreambleLen() int { return len(m.template) }

// Template returns the unit-amplitude preamble waveform. Callers must not
// modify it.
func (m *Modem) Template() []float64 { return m.template }

// SymbolCount returns how many symbols carry nbits bits
func (m *Modem) SymbolCount(nbits int) int {
	return (nbits + m.bitsPerSymbol - 1) / m.bitsPerSymbol
}

// Modulate renders the preamble followed by symbols at the profile amplitude
func (m *Modem) Modulate(symbols []int) []float64 {
	all := make([]int, 0, len(m.preambleSymbols)+len(symbols))
	all = append(all, m.preambleSymbols...)
	all = append(all, symbols...)
	return m.modulate(all, m.amplitude)
}

func (m *Modem) modulate(symbols []int, amplitude float64) []float64 {
	n := m.samplesPerSymbol
	out := make([]float64, len(symbols)*n)
	for i, s := range symbols {
		table := m.toneTables[s]
		dst := out[i*n : (i+1)*n]
		for j := range dst {
			dst[j] = amplitude * table[j]
		}
	}
	return out
}

// Demodulate picks the strongest tone in one symbol period of samples and
// returns it with the share of energy it holds across all tones
func (m *Modem) Demodulate(samples []float64) (int, float64) {
	best, bestPower, total := 0, -1.0, 0.0
	for i, coeff := range m.coeffs {
		p := goertzel(samples, coeff)
		total += p
		if p > bestPower {
			best, bestPower = i, p
		}
	}
	if total == 0 {
		return best, 0
	}
	return best, bestPower / total
}

// goertzel returns the signal power at the frequency encoded in coeff
func goertzel(samples []float64, coeff float64) float64 {
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
