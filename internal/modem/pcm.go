package modem

import "math"

// Quantize converts samples in [-1, 1] to signed 16-bit PCM, clipping
// anything outside that range
func Quantize(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(s * math.MaxInt16)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// ToFloat converts signed 16-bit PCM to samples in [-1, 1]
func ToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / math.MaxInt16
	}
	return out
}
