package carrier

import (
	"math"
	"testing"
)

func tone(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/32))
	}
	return out
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		smoothing float64
		hold      int
		expectErr bool
	}{
		{"valid parameters", 0.01, 0.3, 2, false},
		{"zero threshold", 0, 0.3, 2, true},
		{"threshold at full scale", 1, 0.3, 2, true},
		{"zero smoothing", 0.01, 0, 2, true},
		{"smoothing above one", 0.01, 1.5, 2, true},
		{"negative hold", 0.01, 0.3, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.threshold, tt.smoothing, tt.hold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDetectorEdges(t *testing.T) {
	d, err := NewDetector(0.01, 1, 1)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	silence := make([]int16, 256)
	loud := tone(256, 0.5)

	if r := d.Process(silence); r.Active || r.Edge != EdgeNone || r.Level != Floor {
		t.Errorf("Expected quiet result, got %+v", r)
	}
	if r := d.Process(loud); !r.Active || r.Edge != EdgeRising {
		t.Errorf("Expected rising edge, got %+v", r)
	}
	// First quiet chunk is absorbed by the hold
	if r := d.Process(silence); !r.Active || r.Edge != EdgeNone {
		t.Errorf("Expected held activity, got %+v", r)
	}
	r := d.Process(silence)
	if r.Active || r.Edge != EdgeFalling {
		t.Errorf("Expected falling edge, got %+v", r)
	}
	if r.Offset != 768 {
		t.Errorf("Expected offset 768, got %d", r.Offset)
	}

	stats := d.Stats()
	if stats.TotalChunks != 4 || stats.ActiveChunks != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ActivePercentage != 50 {
		t.Errorf("Expected 50%% active, got %f", stats.ActivePercentage)
	}
}

func TestDetectorLevel(t *testing.T) {
	d, _ := NewDetector(0.01, 1, 0)
	d.Process(tone(1024, 0.5))

	// A sine at half scale sits near -9 dBFS
	if level := d.Level(); math.Abs(level-(-9.03)) > 0.2 {
		t.Errorf("Expected about -9 dBFS, got %.2f", level)
	}
}

func TestDetectorReset(t *testing.T) {
	d, _ := NewDetector(0.01, 0.5, 0)
	d.Process(tone(256, 0.5))
	d.Reset()

	if d.Active() {
		t.Error("Expected inactive after reset")
	}
	if d.Stats().TotalChunks != 0 {
		t.Error("Expected statistics cleared after reset")
	}
	if r := d.Process(make([]int16, 16)); r.Offset != 0 {
		t.Errorf("Expected offset 0 after reset, got %d", r.Offset)
	}
}

func TestDBFS(t *testing.T) {
	tests := []struct {
		rms      float64
		expected float64
	}{
		{1, 0},
		{0.1, -20},
		{0, Floor},
		{1e-9, Floor},
	}
	for _, tt := range tests {
		if got := DBFS(tt.rms); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("DBFS(%g) = %g, expected %g", tt.rms, got, tt.expected)
		}
	}
}
