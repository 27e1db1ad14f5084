package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memento-engine/memengine/internal/config"
	"github.com/memento-engine/memengine/internal/coordinator"
)

func TestOpenBackendPicksFederatedWhenModeIsHTTPClient(t *testing.T) {
	cfg := &config.Config{Federation: config.FederationConfig{Endpoint: "http://localhost:6364"}}
	decision := coordinator.Decision{Mode: coordinator.ModeHTTPClient}

	backend, err := openBackend(context.Background(), cfg, decision)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()
}

func TestOpenBackendRejectsUnknownStorageBackend(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Backend: "not-a-real-backend"}}
	decision := coordinator.Decision{Mode: coordinator.ModeDirect}

	_, err := openBackend(context.Background(), cfg, decision)
	require.Error(t, err)
}

func TestOpenBackendOpensEmbeddedSQLiteByDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Backend: "embedded", EmbeddedPath: dir + "/memengine.db"},
		Embedding: config.EmbeddingConfig{Provider: "local", Dimension: 8, CacheSize: 16},
	}
	decision := coordinator.Decision{Mode: coordinator.ModeDirect}

	backend, err := openBackend(context.Background(), cfg, decision)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()
}
