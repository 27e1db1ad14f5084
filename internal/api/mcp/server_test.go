package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memento-engine/memengine/internal/api/mcp"
	"github.com/memento-engine/memengine/internal/service"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

// fakeBackend is a minimal in-memory storage.Backend, mirroring the fake
// used by internal/service's own tests, so the MCP layer is exercised
// end-to-end through a real service.Service without needing a real
// database.
type fakeBackend struct {
	byHash map[string]*memory.Memory
}

func newFakeBackend() *fakeBackend { return &fakeBackend{byHash: map[string]*memory.Memory{}} }

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
		return &notFoundErr{contentHash}
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

type notFoundErr struct{ hash string }

func (e *notFoundErr) Error() string { return "not found: " + e.hash }

func newTestServer() *mcp.Server {
	svc := service.New(newFakeBackend(), service.HostnamePolicy{}, time.Second)
	return mcp.NewServer(svc)
}

func rpcRequest(t *testing.T, method string, params interface{}) []byte {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func decodeResponse(t *testing.T, raw []byte) mcp.JSONRPCResponse {
	t.Helper()
	var resp mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandleRequestRejectsBadJSONRPCVersion(t *testing.T) {
	srv := newTestServer()
	req := []byte(`{"jsonrpc":"1.0","id":1,"method":"store_memory","params":{}}`)
	raw, err := srv.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp.Error)
	require.Equal(t, mcp.ErrCodeInvalidRequest, resp.Error.Code)
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	srv := newTestServer()
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "no_such_method", map[string]interface{}{}))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp.Error)
	require.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestStoreMemoryThenRetrieveRoundTrip(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()

	raw, err := srv.HandleRequest(ctx, rpcRequest(t, "store_memory", mcp.StoreMemoryArgs{Content: "remember the deploy key"}))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)

	var result map[string]interface{}
	b, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(b, &result))
	require.Equal(t, true, result["success"])
	require.NotEmpty(t, result["content_hash"])

	raw, err = srv.HandleRequest(ctx, rpcRequest(t, "retrieve_memory", mcp.RetrieveMemoryArgs{Query: "deploy key"}))
	require.NoError(t, err)
	resp = decodeResponse(t, raw)
	require.Nil(t, resp.Error)
}

func TestStoreMemoryRejectsEmptyContentAsInvalidInput(t *testing.T) {
	srv := newTestServer()
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "store_memory", mcp.StoreMemoryArgs{Content: "   "}))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp.Error)
	require.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)
}

func TestToolsListReturnsExactlyTenTools(t *testing.T) {
	srv := newTestServer()
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "tools/list", nil))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)

	var listResult mcp.MCPToolsListResult
	b, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(b, &listResult))
	require.Len(t, listResult.Tools, 10)
}

func TestToolsCallDispatchesToStoreMemory(t *testing.T) {
	srv := newTestServer()
	params := mcp.MCPToolCallParams{
		Name:      "store_memory",
		Arguments: map[string]interface{}{"content": "hello via tools/call"},
	}
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "tools/call", params))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)

	var callResult mcp.MCPToolCallResult
	b, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(b, &callResult))
	require.False(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
}

func TestToolsCallUnknownToolReturnsIsError(t *testing.T) {
	srv := newTestServer()
	params := mcp.MCPToolCallParams{Name: "not_a_real_tool", Arguments: map[string]interface{}{}}
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "tools/call", params))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)

	var callResult mcp.MCPToolCallResult
	b, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(b, &callResult))
	require.True(t, callResult.IsError)
}

func TestCheckDatabaseHealthReflectsStoredCount(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	_, err := srv.HandleRequest(ctx, rpcRequest(t, "store_memory", mcp.StoreMemoryArgs{Content: "one memory"}))
	require.NoError(t, err)

	raw, err := srv.HandleRequest(ctx, rpcRequest(t, "check_database_health", nil))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)

	var stats storage.Stats
	b, _ := json.Marshal(resp.Result)
	require.NoError(t, json.Unmarshal(b, &stats))
	require.Equal(t, 1, stats.TotalMemories)
	require.True(t, stats.Healthy)
}

func TestDeleteByTagHandlesNoMatches(t *testing.T) {
	srv := newTestServer()
	raw, err := srv.HandleRequest(context.Background(), rpcRequest(t, "delete_by_tag", mcp.DeleteByTagArgs{Tag: "absent"}))
	require.NoError(t, err)
	resp := decodeResponse(t, raw)
	require.Nil(t, resp.Error)
}
