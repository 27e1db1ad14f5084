// Package embedding implements the embedding pipeline (spec §4.3): a
// Provider abstraction with local and remote implementations, wrapped in
// an LRU cache keyed by the SHA-256 of the input text.
package embedding

import "context"

// Provider produces fixed-dimension dense vectors for text. Dimension is
// stable for the process lifetime; Ready reports whether Embed calls are
// currently expected to succeed (a remote provider may start unready and
// become ready once its backend answers a health probe).
type Provider interface {
	Dimension() int
	Ready() bool
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// batchBySerialCalls is the shared EmbedBatch implementation used by every
// Provider in this package: the spec requires EmbedBatch to equal the
// serial result element-wise, and neither provider here has a real batch
// API to exercise, so looping Embed is both correct and the simplest thing
// that satisfies the contract.
func batchBySerialCalls(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
