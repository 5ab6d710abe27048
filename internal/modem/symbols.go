package modem

// BitsToSymbols groups bits k at a time, MSB first. The final symbol is
// zero padded when len(bits) is not a multiple of k.
func BitsToSymbols(bits []bool, k int) []int {
	symbols := make([]int, (len(bits)+k-1)/k)
	for i := range symbols {
		s := 0
		for j := 0; j < k; j++ {
			s <<= 1
			if idx := i*k + j; idx < len(bits) && bits[idx] {
				s |= 1
			}
		}
		symbols[i] = s
	}
	return symbols
}

// SymbolsToBits expands every symbol into k bits, MSB first
func SymbolsToBits(symbols []int, k int) []bool {
	bits := make([]bool, 0, len(symbols)*k)
	for _, s := range symbols {
		for j := k - 1; j >= 0; j-- {
			bits = append(bits, s&(1<<j) != 0)
		}
	}
	return bits
}
