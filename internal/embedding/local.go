package embedding

import (
	"context"
	"crypto/sha256"
	"math"
)

// LocalProvider is a dependency-free, always-ready provider: it derives a
// deterministic unit vector from repeated SHA-256 hashing of the input
// text. It never calls out to a model and is always Ready, so it is the
// engine's default — every write gets an embedding immediately rather than
// waiting on a remote provider's readiness (spec §4.3 "if the provider is
// not ready at write time the record is still persisted"). Swapping in a
// RemoteProvider (or any other Provider) does not change any other
// component's behavior.
type LocalProvider struct {
	dimension int
	model     string
}

// NewLocalProvider returns a LocalProvider producing vectors of the given
// dimension, labeled with model for stats/health reporting.
func NewLocalProvider(dimension int, model string) *LocalProvider {
	if dimension <= 0 {
		dimension = 384
	}
	if model == "" {
		model = "local-hash-384"
	}
	return &LocalProvider{dimension: dimension, model: model}
}

func (p *LocalProvider) Dimension() int { return p.dimension }
func (p *LocalProvider) Ready() bool    { return true }
func (p *LocalProvider) Model() string  { return p.model }

// Embed hashes text repeatedly to fill dimension float32 slots, then
// L2-normalizes the result so cosine similarity behaves sensibly. This is
// not a semantic embedding — it has no notion of meaning — but it is
// stable, collision-resistant for distinct inputs, and exercises every
// consumer of the Provider interface without a network dependency.
func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, p.dimension)
	block := sha256.Sum256([]byte(text))
	seed := block[:]
	for i := range out {
		if i > 0 && i%len(block) == 0 {
			next := sha256.Sum256(seed)
			seed = next[:]
		}
		b := seed[i%len(block)]
		out[i] = float32(b)/127.5 - 1.0
	}

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchBySerialCalls(ctx, p, texts)
}
