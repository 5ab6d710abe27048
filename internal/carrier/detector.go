package carrier

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Floor is the level reported for digital silence
const Floor = -120.0

// Edge marks a change in carrier activity
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

// String returns the edge name
func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "none"
	}
}

// Detector tracks the smoothed RMS level of consecutive sample chunks
type Detector struct {
	threshold float64 // RMS as a fraction of full scale
	smoothing float64 // weight of the newest chunk, 0..1
	hold      int     // chunks to stay active after the level drops

	smoothed  float64
	active    bool
	quietRun  int
	started   bool
	processed int64 // samples seen

	totalChunks   uint64
	activeChunks  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result is the outcome of processing one chunk
type Result struct {
	RMS       float64   `json:"rms"`
	Level     float64   `json:"level_dbfs"`
	Smoothed  float64   `json:"smoothed_dbfs"`
	Active    bool      `json:"active"`
	Edge      Edge      `json:"edge"`
	Offset    int64     `json:"offset"` // sample index of the chunk start
	Timestamp time.Time `json:"timestamp"`
}

// Stats represents detector statistics
type Stats struct {
	TotalChunks      uint64    `json:"total_chunks"`
	ActiveChunks     uint64    `json:"active_chunks"`
	ActivePercentage float64   `json:"active_percentage"`
	Level            float64   `json:"level_dbfs"`
	Active           bool      `json:"active"`
	Threshold        float64   `json:"threshold"`
	LastProcessed    time.Time `json:"last_processed"`
}

// NewDetector creates a detector. threshold is the RMS, as a fraction of
// full scale, above which the input counts as active. hold is the number of
// quiet chunks tolerated before activity ends.
func NewDetector(threshold, smoothing float64, hold int) (*Detector, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", smoothing)
	}
	if hold < 0 {
		return nil, fmt.Errorf("hold must not be negative, got %d", hold)
	}
	return &Detector{
		threshold: threshold,
		smoothing: smoothing,
		hold:      hold,
	}, nil
}

// Process measures one chunk of samples
func (d *Detector) Process(samples []int16) Result {
	rms := RMS(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		d.smoothed = rms
		d.started = true
	} else {
		d.smoothed = d.smoothing*rms + (1-d.smoothing)*d.smoothed
	}

	edge := EdgeNone
	loud := rms >= d.threshold || d.smoothed >= d.threshold
	switch {
	case loud:
		d.quietRun = 0
		if !d.active {
			d.active = true
			edge = EdgeRising
		}
	case d.active:
		d.quietRun++
		if d.quietRun > d.hold {
			d.active = false
			edge = EdgeFalling
		}
	}

	d.totalChunks++
	if d.active {
		d.activeChunks++
	}
	d.lastProcessed = time.Now()

	res := Result{
		RMS:       rms,
		Level:     DBFS(rms),
		Smoothed:  DBFS(d.smoothed),
		Active:    d.active,
		Edge:      edge,
		Offset:    d.processed,
		Timestamp: d.lastProcessed,
	}
	d.processed += int64(len(samples))
	return res
}

// Active reports whether the input currently carries signal
func (d *Detector) Active() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// Level returns the smoothed level in dBFS
func (d *Detector) Level() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DBFS(d.smoothed)
}

// Stats returns current detector statistics
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pct := float64(0)
	if d.totalChunks > 0 {
		pct = float64(d.activeChunks) / float64(d.totalChunks) * 100
	}
	return Stats{
		TotalChunks:      d.totalChunks,
		ActiveChunks:     d.activeChunks,
		ActivePercentage: pct,
		Level:            DBFS(d.smoothed),
		Active:           d.active,
		Threshold:        d.threshold,
		LastProcessed:    d.lastProcessed,
	}
}

// Reset clears level tracking and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.smoothed = 0
	d.active = false
	d.quietRun = 0
	d.started = false
	d.processed = 0
	d.totalChunks = 0
	d.activeChunks = 0
	d.lastProcessed = time.Time{}
}

// RMS returns the root mean square of samples as a fraction of full scale
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts a full-scale fraction to decibels, clamped at Floor
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return Floor
	}
	db := 20 * math.Log10(rms)
	if db < Floor {
		return Floor
	}
	return db
}
