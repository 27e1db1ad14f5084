// Package health implements the uniform stats/health surface every
// transport reads from (spec §4.11): a cheap liveness probe plus the full
// backend stats record, the latter served from a short-TTL cache so
// dashboard polling doesn't hammer the storage backend.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/memento-engine/memengine/internal/storage"
)

// DefaultCacheTTL is the default staleness window for cached detailed
// stats (spec §5: "default 2s").
const DefaultCacheTTL = 2 * time.Second

// Liveness is the small record served by GET /api/health — cheap enough to
// poll frequently, unlike the full Stats record.
type Liveness struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Reporter serves liveness and detailed stats for a configured backend,
// caching the (more expensive) detailed stats for TTL.
type Reporter struct {
	backend storage.Backend
	ttl     time.Duration

	mu       sync.Mutex
	cached   storage.Stats
	cachedAt time.Time
	cacheErr error
}

// NewReporter builds a Reporter over backend. ttl <= 0 uses DefaultCacheTTL.
func NewReporter(backend storage.Backend, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Reporter{backend: backend, ttl: ttl}
}

// Liveness reports process liveness without touching the backend — if this
// handler can run at all, the process is alive.
func (r *Reporter) Liveness() Liveness {
	return Liveness{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Detailed returns the full stats record (spec §4.11 shape), from cache
// when the last fetch is within ttl. A cached error is replayed too, so a
// backend outage doesn't get masked by an artificially fast re-probe.
func (r *Reporter) Detailed(ctx context.Context) (storage.Stats, error) {
	r.mu.Lock()
	if time.Since(r.cachedAt) < r.ttl && !r.cachedAt.IsZero() {
		stats, err := r.cached, r.cacheErr
		r.mu.Unlock()
		return stats, err
	}
	r.mu.Unlock()

	stats, err := r.backend.GetStats(ctx)

	r.mu.Lock()
	r.cached, r.cacheErr, r.cachedAt = stats, err, time.Now()
	r.mu.Unlock()

	return stats, err
}

// Invalidate clears the cached detailed stats, forcing the next Detailed
// call to hit the backend. Used after a write that should be visible
// immediately (e.g. a test asserting post-store counts).
func (r *Reporter) Invalidate() {
	r.mu.Lock()
	r.cachedAt = time.Time{}
	r.mu.Unlock()
}
