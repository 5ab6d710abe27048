package fec

import (
	"fmt"

	"github.com/brije111/quietshare/internal/profile"
)

// Repetition repeats every bit N times and decodes by majority vote
type Repetition struct {
	n int
}

// NewRepetition returns a repetition code; n must be odd and at least 3
func NewRepetition(n int) (*Repetition, error) {
	if n < 3 || n%2 == 0 {
		return nil, fmt.Errorf("%w: repetition factor must be odd and >= 3, got %d", ErrUnsupportedScheme, n)
	}
	return &Repetition{n: n}, nil
}

func (r *Repetition) Name() string { return profile.FECRepetition }

// Factor returns the repetition factor
func (r *Repetition) Factor() int { return r.n }

func (r *Repetition) EncodedLen(n int) int { return n * r.n }

func (r *Repetition) Encode(data []bool) []bool {
	out := make([]bool, 0, len(data)*r.n)
	for _, bit := range data {
		for i := 0; i < r.n; i++ {
			out = append(out, bit)
		}
	}
	return out
}

func (r *Repetition) Decode(coded []bool, n int) ([]bool, int, error) {
	if len(coded) < n*r.n {
		return nil, 0, ErrInsufficientBits
	}

	out := make([]bool, n)
	corrected := 0
	for i := 0; i < n; i++ {
		ones := 0
		for _, bit := range coded[i*r.n : (i+1)*r.n] {
			if bit {
				ones++
			}
		}
		out[i] = ones > r.n/2
		if ones != 0 && ones != r.n {
			// Minority bits were flipped back
			if out[i] {
				corrected += r.n - ones
			} else {
				corrected += ones
			}
		}
	}
	return out, corrected, nil
}
