package embedding

import (
	"fmt"
	"time"

	"github.com/memento-engine/memengine/internal/config"
)

// New builds the configured Provider, wrapped in the LRU cache, per spec
// §4.3 and §6.4 embedding.*.
func New(cfg config.EmbeddingConfig) (*CachedProvider, error) {
	var inner Provider

	switch cfg.Provider {
	case "remote":
		inner = NewRemoteProvider(cfg.RemoteURL, cfg.Model, cfg.Dimension, 10*time.Second)
	case "local", "":
		inner = NewLocalProvider(cfg.Dimension, cfg.Model)
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q", cfg.Provider)
	}

	return NewCachedProvider(inner, cfg.CacheSize)
}
