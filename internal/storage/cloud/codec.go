package cloud

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/memento-engine/memengine/pkg/memory"
)

// encodeVector packs a float32 vector into a little-endian BLOB for the
// always-present bytea column — the same binary layout the embedded
// sqlite backend uses, so a migration between backends never needs to
// re-embed.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("cloud: invalid embedding dimension %d", dimension)
	}
	expected := dimension * 4
	if len(buf) != expected {
		return nil, fmt.Errorf("cloud: embedding buffer size mismatch: expected %d bytes, got %d", expected, len(buf))
	}

	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func unmarshalMetadata(raw string, m *memory.Memory) error {
	return json.Unmarshal([]byte(raw), &m.Metadata)
}
