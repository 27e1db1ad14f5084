package federated

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

// Store implements storage.Backend by delegating every operation to a
// coordinator's HTTP API (spec §4.7). It holds no database state of its
// own beyond the client's connection pool.
type Store struct {
	c *client
}

var _ storage.Backend = (*Store)(nil)

// Open builds a federated Store for the given configuration. Unlike the
// embedded and cloud backends there is nothing to dial up front — the
// first real request is what proves the coordinator is reachable.
func Open(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "federated endpoint is required")
	}
	return &Store{c: newClient(cfg)}, nil
}

// Initialize verifies the coordinator is reachable and healthy; it creates
// nothing locally since schema ownership belongs to the coordinator.
func (s *Store) Initialize(ctx context.Context) error {
	var stats storage.Stats
	if err := s.c.do(ctx, http.MethodGet, "/api/health/detailed", nil, &stats); err != nil {
		return memerr.Wrap(memerr.KindBackendUnavailable, "federated initialize probe", err)
	}
	if !stats.Healthy {
		return memerr.New(memerr.KindBackendUnavailable, "coordinator reports unhealthy")
	}
	return nil
}

func (s *Store) Store(ctx context.Context, m *memory.Memory) (bool, string, error) {
	var resp storeResponse
	err := s.c.do(ctx, http.MethodPost, "/api/memories", storeRequest{
		Content:    m.Content,
		Tags:       m.Tags,
		MemoryType: m.MemoryType,
		Metadata:   m.Metadata,
	}, &resp)
	if err != nil {
		return false, "", err
	}
	m.ContentHash = resp.ContentHash
	return resp.Success && resp.Message != "memory already exists", resp.Message, nil
}

func (s *Store) Retrieve(ctx context.Context, q string, n int, minSimilarity float64) ([]memory.QueryResult, error) {
	var resp searchResponse
	if err := s.c.do(ctx, http.MethodPost, "/api/search", searchRequest{
		Query: q, NResults: n, MinSimilarity: minSimilarity,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *Store) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error) {
	var resp tagSearchResponse
	if err := s.c.do(ctx, http.MethodPost, "/api/search/by-tag", tagSearchRequest{
		Tags: tags, MatchAll: matchAll,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *Store) SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error) {
	var resp timeSearchResponse
	if err := s.c.do(ctx, http.MethodPost, "/api/search/by-time", timeSearchRequest{
		Start:    float64(start.UnixNano()) / 1e9,
		End:      float64(end.UnixNano()) / 1e9,
		NResults: n,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *Store) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error) {
	var resp similarResponse
	if err := s.c.do(ctx, http.MethodPost, "/api/search/similar", similarRequest{
		ContentHash: contentHash, NResults: n,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *Store) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	var resp deleteResponse
	path := "/api/memories/" + url.PathEscape(contentHash)
	if err := s.c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		if memerr.Is(err, memerr.KindNotFound) {
			return false, "memory not found", nil
		}
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

// DeleteByTag calls the coordinator's bulk-delete-by-tag route. This route
// is not in the narrow §6.2 listing (which enumerates the primary surface)
// but is required to satisfy the full storage.Backend contract over HTTP;
// internal/api/http serves it alongside the listed routes.
func (s *Store) DeleteByTag(ctx context.Context, tag string, detail bool) (int, []string, error) {
	var resp deleteByTagResponse
	path := fmt.Sprintf("/api/memories/by-tag/%s?detail=%t", url.PathEscape(tag), detail)
	if err := s.c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, nil, err
	}
	return resp.Count, resp.Hashes, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, contentHash string, patch storage.MetadataPatch) error {
	path := "/api/memories/" + url.PathEscape(contentHash)
	return s.c.do(ctx, http.MethodPatch, path, updateMetadataRequest{
		Metadata:   patch.Metadata,
		Tags:       patch.Tags,
		MemoryType: patch.MemoryType,
	}, &updateMetadataResponse{})
}

// CleanupDuplicates asks the coordinator to run its own dedup pass; this
// backend never touches relational rows directly.
func (s *Store) CleanupDuplicates(ctx context.Context) (int, error) {
	var resp cleanupResponse
	if err := s.c.do(ctx, http.MethodPost, "/api/maintenance/cleanup-duplicates", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (s *Store) GetStats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	if err := s.c.do(ctx, http.MethodGet, "/api/health/detailed", nil, &stats); err != nil {
		return storage.Stats{}, err
	}
	return stats, nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) (storage.PaginatedResult[memory.Memory], error) {
	opts.Normalize()
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", opts.Page))
	q.Set("page_size", fmt.Sprintf("%d", opts.PageSize))
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.MemoryType != "" {
		q.Set("type", opts.MemoryType)
	}

	var resp listResponse
	if err := s.c.do(ctx, http.MethodGet, "/api/memories?"+q.Encode(), nil, &resp); err != nil {
		return storage.PaginatedResult[memory.Memory]{}, err
	}
	return storage.PaginatedResult[memory.Memory]{
		Items:    resp.Results,
		Total:    resp.Total,
		Page:     resp.Page,
		PageSize: resp.PageSize,
		HasMore:  resp.HasMore,
	}, nil
}

// Close releases the underlying HTTP client's idle connections. There is
// no persistent connection to tear down the way there is for sqlite/cloud.
func (s *Store) Close() error {
	s.c.http.CloseIdleConnections()
	return nil
}
