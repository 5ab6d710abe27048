package profile

import (
	"strings"
	"testing"
	"time"
)

func validProfile() Profile {
	return Profile{
		Name:               "test",
		SampleRate:         48000,
		SymbolRate:         300,
		Modulation:         ModulationFSK4,
		CarrierFrequency:   1800,
		ToneSpacing:        300,
		FEC:                FECNone,
		Preamble:           "1111100110101",
		MaxPayloadSize:     64,
		Amplitude:          0.5,
		DetectionThreshold: 0.6,
		Squelch:            0.001,
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *Profile)
		errorMsg string
	}{
		{name: "valid", mutate: func(p *Profile) {}},
		{name: "zero sample rate", mutate: func(p *Profile) { p.SampleRate = 0 }, errorMsg: "sample_rate"},
		{name: "non integer symbol period", mutate: func(p *Profile) { p.SymbolRate = 7 }, errorMsg: "multiple of symbol_rate"},
		{name: "unknown modulation", mutate: func(p *Profile) { p.Modulation = "qam64" }, errorMsg: "modulation"},
		{name: "non orthogonal spacing", mutate: func(p *Profile) { p.ToneSpacing = 250 }, errorMsg: "tone_spacing"},
		{name: "carrier off grid", mutate: func(p *Profile) { p.CarrierFrequency = 1850 }, errorMsg: "carrier_frequency"},
		{name: "above nyquist", mutate: func(p *Profile) { p.CarrierFrequency = 23700 }, errorMsg: "Nyquist"},
		{name: "even redundancy", mutate: func(p *Profile) { p.FEC = FECRepetition; p.FECRedundancy = 4 }, errorMsg: "fec_redundancy"},
		{name: "unknown fec", mutate: func(p *Profile) { p.FEC = "turbo" }, errorMsg: "fec"},
		{name: "short preamble", mutate: func(p *Profile) { p.Preamble = "101" }, errorMsg: "preamble"},
		{name: "bad preamble symbol", mutate: func(p *Profile) { p.Preamble = "1111100110102" }, errorMsg: "preamble"},
		{name: "zero payload", mutate: func(p *Profile) { p.MaxPayloadSize = 0 }, errorMsg: "max_payload_size"},
		{name: "huge payload", mutate: func(p *Profile) { p.MaxPayloadSize = 70000 }, errorMsg: "max_payload_size"},
		{name: "loud amplitude", mutate: func(p *Profile) { p.Amplitude = 1.5 }, errorMsg: "amplitude"},
		{name: "threshold one", mutate: func(p *Profile) { p.DetectionThreshold = 1 }, errorMsg: "detection_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			err := p.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got none", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestProfileDerivedValues(t *testing.T) {
	p := validProfile()

	if got := p.SamplesPerSymbol(); got != 160 {
		t.Errorf("Expected 160 samples per symbol, got %d", got)
	}
	if got := p.BitsPerSymbol(); got != 2 {
		t.Errorf("Expected 2 bits per symbol, got %d", got)
	}
	if got := p.SymbolDuration(); got != time.Second/300 {
		t.Errorf("Expected symbol duration %v, got %v", time.Second/300, got)
	}

	tones := p.Tones()
	expected := []float64{1800, 2100, 2400, 2700}
	if len(tones) != len(expected) {
		t.Fatalf("Expected %d tones, got %d", len(expected), len(tones))
	}
	for i := range expected {
		if tones[i] != expected[i] {
			t.Errorf("Tone %d: expected %g, got %g", i, expected[i], tones[i])
		}
	}

	bits := p.PreambleBits()
	if len(bits) != 13 || !bits[0] || bits[5] {
		t.Errorf("Unexpected preamble bits %v", bits)
	}
}
