package profile

import (
	"fmt"
	"math"
	"time"
)

// Modulation schemes understood by the modem
const (
	ModulationFSK2 = "fsk2"
	ModulationFSK4 = "fsk4"
	ModulationFSK8 = "fsk8"
)

// Forward error correction schemes understood by the fec package
const (
	FECNone       = "none"
	FECRepetition = "repetition"
	FECHamming74  = "hamming74"
)

// Limits enforced on every profile
const (
	MinPreambleBits   = 7
	MaxPayloadLimit   = 65535
	defaultAmplitude  = 0.5
	defaultThreshold  = 0.6
	defaultSquelch    = 0.001
	defaultRedundancy = 3
)

// Profile is a named, immutable bundle of modem parameters. Profiles are
// passed by value so a transmitter and a receiver can share one without
// synchronization.
type Profile struct {
	Name               string  `yaml:"-" json:"name"`
	SampleRate         int     `yaml:"sample_rate" json:"sample_rate"`
	SymbolRate         int     `yaml:"symbol_rate" json:"symbol_rate"`
	Modulation         string  `yaml:"modulation" json:"modulation"`
	CarrierFrequency   float64 `yaml:"carrier_frequency" json:"carrier_frequency"`
	ToneSpacing        float64 `yaml:"tone_spacing" json:"tone_spacing"`
	FEC                string  `yaml:"fec" json:"fec"`
	FECRedundancy      int     `yaml:"fec_redundancy" json:"fec_redundancy,omitempty"`
	Preamble           string  `yaml:"preamble" json:"preamble"`
	MaxPayloadSize     int     `yaml:"max_payload_size" json:"max_payload_size"`
	Amplitude          float64 `yaml:"amplitude" json:"amplitude"`
	DetectionThreshold float64 `yaml:"detection_threshold" json:"detection_threshold"`
	Squelch            float64 `yaml:"squelch" json:"squelch"`
}

// applyDefaults fills optional fields left at their zero value
func (p *Profile) applyDefaults() {
	if p.Amplitude == 0 {
		p.Amplitude = defaultAmplitude
	}
	if p.DetectionThreshold == 0 {
		p.DetectionThreshold = defaultThreshold
	}
	if p.Squelch == 0 {
		p.Squelch = defaultSquelch
	}
	if p.FEC == "" {
		p.FEC = FECNone
	}
	if p.FEC == FECRepetition && p.FECRedundancy == 0 {
		p.FECRedundancy = defaultRedundancy
	}
}

// Validate checks that the profile describes a modem that can actually run
func (p *Profile) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", p.SampleRate)
	}

	if p.SymbolRate <= 0 {
		return fmt.Errorf("symbol_rate must be positive, got %d", p.SymbolRate)
	}

	if p.SampleRate%p.SymbolRate != 0 {
		return fmt.Errorf("sample_rate (%d) must be a multiple of symbol_rate (%d)", p.SampleRate, p.SymbolRate)
	}

	if p.BitsPerSymbol() == 0 {
		return fmt.Errorf("unsupported modulation %q", p.Modulation)
	}

	if p.CarrierFrequency <= 0 {
		return fmt.Errorf("carrier_frequency must be positive, got %g", p.CarrierFrequency)
	}

	if p.ToneSpacing <= 0 {
		return fmt.Errorf("tone_spacing must be positive, got %g", p.ToneSpacing)
	}

	// Tones must complete a whole number of cycles per symbol to stay orthogonal
	if !isMultiple(p.ToneSpacing, float64(p.SymbolRate)) {
		return fmt.Errorf("tone_spacing (%g) must be a multiple of symbol_rate (%d)", p.ToneSpacing, p.SymbolRate)
	}
	if !isMultiple(p.CarrierFrequency, float64(p.SymbolRate)) {
		return fmt.Errorf("carrier_frequency (%g) must be a multiple of symbol_rate (%d)", p.CarrierFrequency, p.SymbolRate)
	}

	tones := p.Tones()
	if highest := tones[len(tones)-1]; highest >= float64(p.SampleRate)/2 {
		return fmt.Errorf("highest tone %g Hz is at or above Nyquist (%d Hz)", highest, p.SampleRate/2)
	}

	switch p.FEC {
	case FECNone, FECHamming74:
	case FECRepetition:
		if p.FECRedundancy < 3 || p.FECRedundancy%2 == 0 {
			return fmt.Errorf("fec_redundancy must be an odd number >= 3, got %d", p.FECRedundancy)
		}
	default:
		return fmt.Errorf("unsupported fec %q", p.FEC)
	}

	if len(p.Preamble) < MinPreambleBits {
		return fmt.Errorf("preamble must have at least %d bits, got %d", MinPreambleBits, len(p.Preamble))
	}
	for i, c := range p.Preamble {
		if c != '0' && c != '1' {
			return fmt.Errorf("preamble may only contain 0 and 1, got %q at position %d", c, i)
		}
	}

	if p.MaxPayloadSize < 1 || p.MaxPayloadSize > MaxPayloadLimit {
		return fmt.Errorf("max_payload_size must be between 1 and %d, got %d", MaxPayloadLimit, p.MaxPayloadSize)
	}

	if p.Amplitude <= 0 || p.Amplitude > 1 {
		return fmt.Errorf("amplitude must be in (0, 1], got %g", p.Amplitude)
	}

	if p.DetectionThreshold <= 0 || p.DetectionThreshold >= 1 {
		return fmt.Errorf("detection_threshold must be in (0, 1), got %g", p.DetectionThreshold)
	}

	if p.Squelch < 0 || p.Squelch >= 1 {
		return fmt.Errorf("squelch must be in [0, 1), got %g", p.Squelch)
	}

	return nil
}

// BitsPerSymbol returns how many bits one modulated symbol carries, or 0
// for an unknown modulation
func (p Profile) BitsPerSymbol() int {
	switch p.Modulation {
	case ModulationFSK2:
		return 1
	case ModulationFSK4:
		return 2
	case ModulationFSK8:
		return 3
	default:
		return 0
	}
}

// SamplesPerSymbol returns the symbol period in samples
func (p Profile) SamplesPerSymbol() int {
	return p.SampleRate / p.SymbolRate
}

// SymbolDuration returns the symbol period as a time.Duration
func (p Profile) SymbolDuration() time.Duration {
	return time.Second / time.Duration(p.SymbolRate)
}

// Tones returns the tone frequencies in Hz, lowest first
func (p Profile) Tones() []float64 {
	n := 1 << p.BitsPerSymbol()
	tones := make([]float64, n)
	for i := range tones {
		tones[i] = p.CarrierFrequency + float64(i)*p.ToneSpacing
	}
	return tones
}

// PreambleBits returns the preamble pattern as bits
func (p Profile) PreambleBits() []bool {
	bits := make([]bool, len(p.Preamble))
	for i, c := range p.Preamble {
		bits[i] = c == '1'
	}
	return bits
}

// String returns a compact human-readable summary of the profile
func (p Profile) String() string {
	return fmt.Sprintf("Profile{Name:%s, Rate:%dHz, Baud:%d, Mod:%s, FEC:%s, MaxPayload:%d}",
		p.Name, p.SampleRate, p.SymbolRate, p.Modulation, p.FEC, p.MaxPayloadSize)
}

func isMultiple(v, base float64) bool {
	q := v / base
	return math.Abs(q-math.Round(q)) < 1e-9
}
