// Package mulaw expands G.711 µ-law telephony audio into 16-bit linear PCM.
package mulaw

// bias is added before companding; expansion peaks at 32124, inside int16.
const bias = 0x84

var table [256]int16

func init() {
	for i := range table {
		table[i] = expand(byte(i))
	}
}

// expand reconstructs one sample from its µ-law code word.
func expand(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int32(mantissa) << 3) + bias) << exponent
	sample -= bias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// Decode returns the linear PCM sample for a single µ-law byte.
func Decode(b byte) int16 {
	return table[b]
}

// DecodeTo expands src into dst and returns the number of samples written.
// dst must hold at least len(src) samples; extra input is ignored.
func DecodeTo(dst []int16, src []byte) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = table[src[i]]
	}
	return n
}

// DecodeBuffer expands a whole µ-law chunk into a new sample slice.
func DecodeBuffer(src []byte) []int16 {
	out := make([]int16, len(src))
	DecodeTo(out, src)
	return out
}
