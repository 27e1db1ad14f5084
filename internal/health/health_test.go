package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memento-engine/memengine/internal/health"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

// countingBackend implements storage.Backend, tracking how many times
// GetStats was actually invoked so tests can assert on cache behavior.
type countingBackend struct {
	calls int
	stats storage.Stats
	err   error
}

func (b *countingBackend) Initialize(ctx context.Context) error { return nil }
func (b *countingBackend) Store(ctx context.Context, m *memory.Memory) (bool, string, error) {
	return true, "", nil
}
func (b *countingBackend) Retrieve(ctx context.Context, q string, n int, min float64) ([]memory.QueryResult, error) {
	return nil, nil
}
func (b *countingBackend) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error) {
	return nil, nil
}
func (b *countingBackend) SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error) {
	return nil, nil
}
func (b *countingBackend) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error) {
	return nil, nil
}
func (b *countingBackend) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	return true, "", nil
}
func (b *countingBackend) DeleteByTag(ctx context.Context, tag string, detail bool) (int, []string, error) {
	return 0, nil, nil
}
func (b *countingBackend) UpdateMetadata(ctx context.Context, contentHash string, patch storage.MetadataPatch) error {
	return nil
}
func (b *countingBackend) CleanupDuplicates(ctx context.Context) (int, error) { return 0, nil }
func (b *countingBackend) GetStats(ctx context.Context) (storage.Stats, error) {
	b.calls++
	return b.stats, b.err
}
func (b *countingBackend) List(ctx context.Context, opts storage.ListOptions) (storage.PaginatedResult[memory.Memory], error) {
	return storage.PaginatedResult[memory.Memory]{}, nil
}
func (b *countingBackend) Close() error { return nil }

var _ storage.Backend = (*countingBackend)(nil)

func TestDetailedCachesWithinTTL(t *testing.T) {
	backend := &countingBackend{stats: storage.Stats{TotalMemories: 5, Healthy: true}}
	r := health.NewReporter(backend, 50*time.Millisecond)

	s1, err := r.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, s1.TotalMemories)

	s2, err := r.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, s2.TotalMemories)
	require.Equal(t, 1, backend.calls)
}

func TestDetailedRefetchesAfterTTL(t *testing.T) {
	backend := &countingBackend{stats: storage.Stats{TotalMemories: 1, Healthy: true}}
	r := health.NewReporter(backend, 10*time.Millisecond)

	_, err := r.Detailed(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = r.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	backend := &countingBackend{stats: storage.Stats{TotalMemories: 1, Healthy: true}}
	r := health.NewReporter(backend, time.Hour)

	_, err := r.Detailed(context.Background())
	require.NoError(t, err)

	r.Invalidate()
	_, err = r.Detailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls)
}

func TestLivenessDoesNotTouchBackend(t *testing.T) {
	backend := &countingBackend{}
	r := health.NewReporter(backend, time.Hour)

	liveness := r.Liveness()
	require.Equal(t, "ok", liveness.Status)
	require.Equal(t, 0, backend.calls)
}
