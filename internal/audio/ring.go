package audio

// Ring holds the most recent samples of a stream addressed by absolute
// sample index. Appending past capacity drops the oldest samples. Slices
// returned by Slice share storage with the ring and stay valid only until
// the next Append or Discard.
type Ring struct {
	data     []float64
	start    int64 // absolute index of data[0]
	capacity int
}

// NewRing creates a ring holding at most capacity samples
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		data:     make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Append adds samples, dropping the oldest ones beyond capacity. It returns
// the number of samples dropped.
func (r *Ring) Append(samples []float64) int {
	dropped := 0
	if len(samples) > r.capacity {
		dropped = len(samples) - r.capacity
		r.start += int64(len(r.data) + dropped)
		dropped += len(r.data)
		r.data = r.data[:0]
		samples = samples[len(samples)-r.capacity:]
	}

	if over := len(r.data) + len(samples) - r.capacity; over > 0 {
		r.Discard(r.start + int64(over))
		dropped += over
	}

	r.data = append(r.data, samples...)
	return dropped
}

// Discard drops every sample before absolute index idx
func (r *Ring) Discard(idx int64) {
	if idx <= r.start {
		return
	}
	n := idx - r.start
	if n >= int64(len(r.data)) {
		r.start += int64(len(r.data))
		r.data = r.data[:0]
		if idx > r.start {
			r.start = idx
		}
		return
	}
	remaining := copy(r.data, r.data[n:])
	r.data = r.data[:remaining]
	r.start = idx
}

// Start returns the absolute index of the oldest retained sample
func (r *Ring) Start() int64 { return r.start }

// End returns the absolute index one past the newest sample
func (r *Ring) End() int64 { return r.start + int64(len(r.data)) }

// Len returns the number of retained samples
func (r *Ring) Len() int { return len(r.data) }

// Capacity returns the maximum number of retained samples
func (r *Ring) Capacity() int { return r.capacity }

// Has reports whether the range [from, to) is fully retained
func (r *Ring) Has(from, to int64) bool {
	return from >= r.start && to <= r.End() && from <= to
}

// Slice returns the samples in [from, to), or nil if the range is not
// fully retained
func (r *Ring) Slice(from, to int64) []float64 {
	if !r.Has(from, to) {
		return nil
	}
	return r.data[from-r.start : to-r.start]
}

// At returns the sample at absolute index idx, or 0 if it is not retained
func (r *Ring) At(idx int64) float64 {
	if idx < r.start || idx >= r.End() {
		return 0
	}
	return r.data[idx-r.start]
}
