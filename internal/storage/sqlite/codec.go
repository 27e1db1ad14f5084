package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// serializeEmbedding packs a float32 vector into a little-endian BLOB.
// Unlike the float64 bit-twiddling this is adapted from, it goes through
// math.Float32bits/Float32frombits rather than unsafe.Pointer — there is
// no performance case here that justifies the unsafe package for a value
// this small.
func serializeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("sqlite: invalid embedding dimension %d", dimension)
	}
	expected := dimension * 4
	if len(buf) != expected {
		return nil, fmt.Errorf("sqlite: embedding buffer size mismatch: expected %d bytes, got %d", expected, len(buf))
	}

	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
