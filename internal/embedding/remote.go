package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/memento-engine/memengine/internal/resilience"
)

// RemoteProvider calls an Ollama-compatible /api/embed endpoint over HTTP,
// wrapped in a circuit breaker so a sustained outage degrades to "not
// ready" instead of blocking every write (spec §4.3 failure policy).
type RemoteProvider struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.Breaker

	dimension int32 // negotiated lazily on first successful embed
	ready     int32 // atomic bool
}

// embedRequest/embedResponse mirror the Ollama embed wire contract.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewRemoteProvider builds a RemoteProvider targeting baseURL. dimension is
// the provider's declared dimension until the first successful call
// negotiates the real one from the response shape.
func NewRemoteProvider(baseURL, model string, dimension int, timeout time.Duration) *RemoteProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProvider{
		baseURL:   baseURL,
		model:     model,
		client:    &http.Client{Timeout: timeout},
		breaker:   resilience.NewBreaker("embedding-remote"),
		dimension: int32(dimension),
	}
}

func (p *RemoteProvider) Dimension() int { return int(atomic.LoadInt32(&p.dimension)) }
func (p *RemoteProvider) Ready() bool    { return atomic.LoadInt32(&p.ready) == 1 }
func (p *RemoteProvider) Model() string  { return p.model }

// Embed sends text to the remote embedding endpoint. On success it updates
// Ready()/Dimension() from the observed response; on failure Ready() is
// cleared so callers fall back to late embedding per spec §4.3.
func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.breaker.Execute(ctx, func() (interface{}, error) {
		return p.embed(ctx, text)
	})
	if err != nil {
		atomic.StoreInt32(&p.ready, 0)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding: remote provider circuit open: %w", err)
		}
		return nil, err
	}

	vec := result.([]float32)
	atomic.StoreInt32(&p.dimension, int32(len(vec)))
	atomic.StoreInt32(&p.ready, 1)
	return vec, nil
}

func (p *RemoteProvider) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: remote returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(decoded.Embeddings) == 0 {
		return nil, errors.New("embedding: remote response contained no embeddings")
	}
	return decoded.Embeddings[0], nil
}

func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batchBySerialCalls(ctx, p, texts)
}
