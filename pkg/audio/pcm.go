package audio

import (
	"encoding/binary"
	"math"
)

// pcmScale maps the float range [-1, 1] onto int16. 32767 is used in both
// directions so that full-scale values round-trip exactly.
const pcmScale = 0x7fff

// EncodePCM16 converts float32 samples to signed 16-bit little-endian PCM.
// Each sample is clamped to [-1, 1], scaled by 32767 and rounded to the
// nearest integer. The only allocation is the returned buffer.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		case v != v: // NaN
			v = 0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*pcmScale))))
	}
	return out
}

// DecodePCM16 converts signed 16-bit little-endian PCM to float32 samples by
// dividing each value by 32767. An odd trailing byte is ignored; empty input
// yields an empty, non-nil slice.
func DecodePCM16(chunk []byte) []float32 {
	n := SampleCount(chunk)
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(chunk[i*2:]))) / pcmScale
	}
	return out
}

// SampleCount returns the number of whole 16-bit samples in chunk.
func SampleCount(chunk []byte) int {
	return len(chunk) / 2
}
