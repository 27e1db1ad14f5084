package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider decorates a Provider with an LRU cache keyed by the
// SHA-256 of the input text (spec §4.3). The cache is process-local and
// shared across callers; golang-lru's Cache is already safe for
// concurrent use, so no extra locking is needed here.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps inner with an LRU cache of the given size.
// size <= 0 falls back to 1024, matching spec §4.3's "default >= 1024".
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }
func (c *CachedProvider) Ready() bool    { return c.inner.Ready() }
func (c *CachedProvider) Model() string  { return c.inner.Model() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text's hash when present, otherwise
// delegates to inner and caches the result. A cache hit never calls inner,
// so a cached entry survives the inner provider becoming unready.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	misses := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))

	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey(t)); ok {
			out[i] = v
			continue
		}
		misses = append(misses, t)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		return out, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = computed[j]
		c.cache.Add(cacheKey(misses[j]), computed[j])
	}
	return out, nil
}

// Len reports the number of entries currently cached, used by stats/health
// reporting and tests.
func (c *CachedProvider) Len() int { return c.cache.Len() }
