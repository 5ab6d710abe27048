package modem

import "math"

// Correlator scores how closely a window of samples matches the preamble
type Correlator struct {
	template []float64
	energy   float64
	// minimum mean-square level a window needs before it is scored
	floor float64
}

// NewCorrelator builds a correlator for template. squelch is the minimum RMS
// level, as a fraction of full scale, below which windows score zero.
func NewCorrelator(template []float64, squelch float64) *Correlator {
	return &Correlator{
		template: template,
		energy:   Energy(template),
		floor:    squelch * squelch,
	}
}

// Len returns the window length the correlator expects
func (c *Correlator) Len() int { return len(c.template) }

// Quiet reports whether a window with the given energy is below the squelch
func (c *Correlator) Quiet(windowEnergy float64) bool {
	return windowEnergy/float64(len(c.template)) < c.floor || windowEnergy == 0
}

// Score returns the normalized cross-correlation of window against the
// template, in [-1, 1]. windowEnergy must be the sum of squares of window.
func (c *Correlator) Score(window []float64, windowEnergy float64) float64 {
	if len(window) < len(c.template) || c.Quiet(windowEnergy) || c.energy == 0 {
		return 0
	}

	var dot float64
	for i, t := range c.template {
		dot += window[i] * t
	}
	return dot / math.Sqrt(windowEnergy*c.energy)
}

// Energy returns the sum of squares of x
func Energy(x []float64) float64 {
	var e float64
	for _, v := range x {
		e += v * v
	}
	return e
}
