package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memento-engine/memengine/internal/service"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

// fakeBackend is a minimal in-memory storage.Backend used to exercise the
// service layer's own logic (hostname tagging, validation, hashing,
// response shaping) independent of any real storage implementation.
type fakeBackend struct {
	byHash map[string]*memory.Memory
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{byHash: map[string]*memory.Memory{}}
}

func (b *fakeBackend) Initialize(ctx context.Context) error { return nil }

func (b *fakeBackend) Store(ctx context.Context, m *memory.Memory) (bool, string, error) {
	if _, exists := b.byHash[m.ContentHash]; exists {
		return false, "", nil
	}
	cp := *m
	b.byHash[m.ContentHash] = &cp
	return true, "", nil
}

func (b *fakeBackend) Retrieve(ctx context.Context, q string, n int, min float64) ([]memory.QueryResult, error) {
	var out []memory.QueryResult
	for _, m := range b.byHash {
		out = append(out, memory.QueryResult{Memory: *m, SimilarityScore: 1})
	}
	return out, nil
}

func (b *fakeBackend) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error) {
	want := memory.TagSet(tags)
	var out []memory.Memory
	for _, m := range b.byHash {
		have := memory.TagSet(m.Tags)
		if matchAll {
			all := true
			for t := range want {
				if !have[t] {
					all = false
					break
				}
			}
			if all {
				out = append(out, *m)
			}
			continue
		}
		for t := range want {
			if have[t] {
				out = append(out, *m)
				break
			}
		}
	}
	return out, nil
}

func (b *fakeBackend) SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error) {
	return nil, nil
}

func (b *fakeBackend) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error) {
	return nil, nil
}

func (b *fakeBackend) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	if _, ok := b.byHash[contentHash]; !ok {
		return false, "", nil
	}
	delete(b.byHash, contentHash)
	return true, "", nil
}

func (b *fakeBackend) DeleteByTag(ctx context.Context, tag string, detail bool) (int, []string, error) {
	var hashes []string
	for hash, m := range b.byHash {
		for _, t := range m.Tags {
			if t == tag {
				hashes = append(hashes, hash)
				delete(b.byHash, hash)
				break
			}
		}
	}
	return len(hashes), hashes, nil
}

func (b *fakeBackend) UpdateMetadata(ctx context.Context, contentHash string, patch storage.MetadataPatch) error {
	m, ok := b.byHash[contentHash]
	if !ok {
		return memErrNotFound(contentHash)
	}
	if patch.Metadata != nil {
		if m.Metadata == nil {
			m.Metadata = map[string]interface{}{}
		}
		for k, v := range patch.Metadata {
			m.Metadata[k] = v
		}
	}
	if patch.Tags != nil {
		m.Tags = patch.Tags
	}
	return nil
}

func (b *fakeBackend) CleanupDuplicates(ctx context.Context) (int, error) { return 0, nil }

func (b *fakeBackend) GetStats(ctx context.Context) (storage.Stats, error) {
	return storage.Stats{TotalMemories: len(b.byHash), Healthy: true}, nil
}

func (b *fakeBackend) List(ctx context.Context, opts storage.ListOptions) (storage.PaginatedResult[memory.Memory], error) {
	var items []memory.Memory
	for _, m := range b.byHash {
		items = append(items, *m)
	}
	return storage.PaginatedResult[memory.Memory]{Items: items, Total: len(items), Page: opts.Page, PageSize: opts.PageSize}, nil
}

func (b *fakeBackend) Close() error { return nil }

var _ storage.Backend = (*fakeBackend)(nil)

func memErrNotFound(hash string) error {
	return &notFoundErr{hash}
}

type notFoundErr struct{ hash string }

func (e *notFoundErr) Error() string { return "not found: " + e.hash }

func TestStoreMemoryAppliesHostnameTagging(t *testing.T) {
	backend := newFakeBackend()
	svc := service.New(backend, service.HostnamePolicy{Enabled: true, ProcessHostname: "workstation-1"}, time.Second)

	resp, err := svc.StoreMemory(context.Background(), service.StoreRequest{Content: "remember this"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	stored := backend.byHash[resp.ContentHash]
	require.NotNil(t, stored)
	require.Contains(t, stored.Tags, "source:workstation-1")
	require.Equal(t, "workstation-1", stored.Metadata[memory.MetaHostname])
}

func TestStoreMemoryHostnamePrecedenceExplicitOverHeader(t *testing.T) {
	backend := newFakeBackend()
	svc := service.New(backend, service.HostnamePolicy{Enabled: true, ProcessHostname: "process-host"}, time.Second)

	resp, err := svc.StoreMemory(context.Background(), service.StoreRequest{
		Content:        "remember this",
		ClientHostname: "explicit-host",
		HeaderHostname: "header-host",
	})
	require.NoError(t, err)

	stored := backend.byHash[resp.ContentHash]
	require.Equal(t, "explicit-host", stored.Metadata[memory.MetaHostname])
}

func TestStoreMemoryRejectsEmptyContent(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	_, err := svc.StoreMemory(context.Background(), service.StoreRequest{Content: "   "})
	require.Error(t, err)
}

func TestStoreMemoryRejectsNonJSONMetadata(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	_, err := svc.StoreMemory(context.Background(), service.StoreRequest{
		Content:  "hi",
		Metadata: map[string]interface{}{"bad": make(chan int)},
	})
	require.Error(t, err)
}

func TestStoreMemoryDuplicateIsSuccessNotError(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	ctx := context.Background()

	first, err := svc.StoreMemory(ctx, service.StoreRequest{Content: "same content"})
	require.NoError(t, err)

	second, err := svc.StoreMemory(ctx, service.StoreRequest{Content: "same content"})
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, second.ContentHash)
}

func TestSearchByTagRequiresAtLeastOneTag(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	_, err := svc.SearchByTag(context.Background(), nil, false)
	require.Error(t, err)
}

func TestSearchByTagMatchAllVsAny(t *testing.T) {
	backend := newFakeBackend()
	svc := service.New(backend, service.HostnamePolicy{}, time.Second)
	ctx := context.Background()

	_, err := svc.StoreMemory(ctx, service.StoreRequest{Content: "one", Tags: []string{"red", "blue"}})
	require.NoError(t, err)
	_, err = svc.StoreMemory(ctx, service.StoreRequest{Content: "two", Tags: []string{"red"}})
	require.NoError(t, err)

	any, err := svc.SearchByTag(ctx, []string{"red", "blue"}, false)
	require.NoError(t, err)
	require.Equal(t, 2, any.TotalFound)

	all, err := svc.SearchByTag(ctx, []string{"red", "blue"}, true)
	require.NoError(t, err)
	require.Equal(t, 1, all.TotalFound)
}

func TestDeleteMemoryNotFoundIsNotAnError(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	resp, err := svc.DeleteMemory(context.Background(), "missing-hash")
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestListMemoriesNormalizesPaging(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	resp, err := svc.ListMemories(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Page)
	require.Equal(t, 10, resp.PageSize)
}

func TestSearchByTimeRequiresQueryOrRange(t *testing.T) {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	_, err := svc.SearchByTime(context.Background(), "", nil, nil, 5)
	require.Error(t, err)
}

func TestCheckDatabaseHealthReflectsStoredCount(t *testing.T) {
	backend := newFakeBackend()
	svc := service.New(backend, service.HostnamePolicy{}, time.Millisecond)
	ctx := context.Background()

	_, err := svc.StoreMemory(ctx, service.StoreRequest{Content: "a memory"})
	require.NoError(t, err)

	stats, err := svc.CheckDatabaseHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalMemories)
	require.True(t, stats.Healthy)
}
