package fec

import "github.com/brije111/quietshare/internal/profile"

// Hamming74 encodes every 4 data bits into a 7-bit codeword and corrects one
// bit error per codeword. Codeword layout is p1 p2 d1 p3 d2 d3 d4.
type Hamming74 struct{}

func (Hamming74) Name() string { return profile.FECHamming74 }

func (Hamming74) EncodedLen(n int) int { return (n + 3) / 4 * 7 }

func (Hamming74) Encode(data []bool) []bool {
	out := make([]bool, 0, (len(data)+3)/4*7)
	for i := 0; i < len(data); i += 4 {
		var d [4]bool
		copy(d[:], data[i:min(i+4, len(data))])

		p1 := d[0] != d[1] != d[3]
		p2 := d[0] != d[2] != d[3]
		p3 := d[1] != d[2] != d[3]
		out = append(out, p1, p2, d[0], p3, d[1], d[2], d[3])
	}
	return out
}

func (h Hamming74) Decode(coded []bool, n int) ([]bool, int, error) {
	if len(coded) < h.EncodedLen(n) {
		return nil, 0, ErrInsufficientBits
	}

	out := make([]bool, 0, (n+3)/4*4)
	corrected := 0
	for i := 0; len(out) < n; i += 7 {
		var c [7]bool
		copy(c[:], coded[i:i+7])

		// Syndrome bits point at the flipped position (1-based)
		s1 := c[0] != c[2] != c[4] != c[6]
		s2 := c[1] != c[2] != c[5] != c[6]
		s3 := c[3] != c[4] != c[5] != c[6]
		pos := 0
		if s1 {
			pos |= 1
		}
		if s2 {
			pos |= 2
		}
		if s3 {
			pos |= 4
		}
		if pos != 0 {
			c[pos-1] = !c[pos-1]
			corrected++
		}

		out = append(out, c[2], c[4], c[5], c[6])
	}
	return out[:n], corrected, nil
}
