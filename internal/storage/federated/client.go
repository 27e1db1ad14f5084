// Package federated implements storage.Backend by calling a coordinator
// process's HTTP API (spec §4.7) instead of touching a database directly —
// the shape used by replicas that must not open the embedded database
// themselves. Every write and read is just another HTTP round trip, so it
// gets the same retry/circuit-breaker treatment the cloud backend gives a
// Postgres connection.
package federated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/resilience"
)

// Config configures a federated client.
type Config struct {
	Endpoint   string        // base URL of the coordinator, e.g. http://localhost:8080
	APIKey     string        // sent as "Authorization: Bearer <key>" when non-empty
	Timeout    time.Duration // per-request timeout; default 30s
	MaxRetries int           // default 3
	BaseDelay  time.Duration // default 500ms
}

// client wraps http.Client with the coordinator's base URL, auth header,
// and resilience wrapping — the same shape as the teacher's AnthropicClient
// (cfg + *http.Client + circuit breaker) generalized to a local backend
// rather than a third-party LLM API.
type client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.Breaker
}

func newClient(cfg Config) *client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewBreaker("federated-storage"),
	}
}

// do sends method/path with an optional JSON body, decoding the response
// into out (skipped if out is nil), and retries/breaks the whole attempt
// per request the same way the cloud backend retries a query.
func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, resilience.Retry(ctx, c.cfg.MaxRetries, c.cfg.BaseDelay, func(int) error {
			return c.attempt(ctx, method, path, body, out)
		})
	})
	return err
}

func (c *client) attempt(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return memerr.Wrap(memerr.KindInvalidInput, "encode request", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reqBody)
	if err != nil {
		return memerr.Wrap(memerr.KindInternal, "build request", err)
	}
	req.Header.Set("content-type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return memerr.Wrap(memerr.KindBackendUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return memerr.Wrap(memerr.KindBackendUnavailable, "read response", err)
	}

	if resp.StatusCode >= 300 {
		return translateError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return memerr.Wrap(memerr.KindInternal, "decode response", err)
	}
	return nil
}

// translateError maps a non-2xx HTTP response back to a *memerr.Error,
// preferring the coordinator's own error kind when it sent one (§7
// propagation policy: the same taxonomy crosses the wire unchanged).
func translateError(status int, body []byte) error {
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Kind != "" {
		return memerr.New(memerr.Kind(errResp.Kind), errResp.Message)
	}

	switch status {
	case http.StatusUnauthorized:
		return memerr.New(memerr.KindUnauthorized, "federated endpoint rejected credentials")
	case http.StatusNotFound:
		return memerr.New(memerr.KindNotFound, "not found")
	case http.StatusBadRequest:
		return memerr.New(memerr.KindInvalidInput, string(body))
	case http.StatusTooManyRequests:
		return memerr.New(memerr.KindResourceExhausted, "federated endpoint rate-limited the request")
	case http.StatusGatewayTimeout:
		return memerr.New(memerr.KindTimeout, "federated endpoint timed out")
	default:
		return memerr.New(memerr.KindBackendUnavailable, fmt.Sprintf("federated endpoint returned status %d", status))
	}
}
