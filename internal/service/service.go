// Package service implements the unified Memory Service (spec §4.8): the
// single entry point every transport (MCP/stdio, HTTP) calls. It owns
// hostname tagging, input validation, content hashing, and response
// shaping, delegating everything else to the configured storage.Backend.
// Transports stay thin — this is the source of truth for behavior.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/memento-engine/memengine/internal/health"
	"github.com/memento-engine/memengine/internal/identity"
	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/query"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

// Service is the unified entry point. It never holds backend-specific
// state beyond the storage.Backend it delegates to.
type Service struct {
	backend  storage.Backend
	health   *health.Reporter
	hostname HostnamePolicy
}

// HostnamePolicy configures hostname tagging (spec §4.8).
type HostnamePolicy struct {
	Enabled bool
	// ProcessHostname is the fallback identity used when neither an
	// explicit argument nor a request header supplies one. Defaults to
	// os.Hostname() when empty.
	ProcessHostname string
}

// New builds a Service over backend. healthTTL <= 0 uses health.DefaultCacheTTL.
func New(backend storage.Backend, hostname HostnamePolicy, healthTTL time.Duration) *Service {
	if hostname.ProcessHostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname.ProcessHostname = h
		}
	}
	return &Service{
		backend:  backend,
		health:   health.NewReporter(backend, healthTTL),
		hostname: hostname,
	}
}

// resolveHostname applies the precedence rule: explicit argument > request
// header > process identity.
func (s *Service) resolveHostname(explicit, header string) string {
	if explicit != "" {
		return explicit
	}
	if header != "" {
		return header
	}
	return s.hostname.ProcessHostname
}

// applyHostnameTagging adds tag `source:<hostname>` and metadata
// `hostname:<hostname>` to m when hostname tagging is enabled (I4). No-op
// when disabled or no hostname could be resolved.
func (s *Service) applyHostnameTagging(m *memory.Memory, explicitHostname, headerHostname string) {
	if !s.hostname.Enabled {
		return
	}
	hostname := s.resolveHostname(explicitHostname, headerHostname)
	if hostname == "" {
		return
	}
	m.Tags = append(m.Tags, fmt.Sprintf("source:%s", hostname))
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata[memory.MetaHostname] = hostname
}

// validateMetadata rejects metadata that cannot round-trip through JSON —
// every backend persists it as a JSON column/document.
func validateMetadata(metadata map[string]interface{}) error {
	if metadata == nil {
		return nil
	}
	if _, err := json.Marshal(metadata); err != nil {
		return memerr.Wrap(memerr.KindInvalidInput, "metadata is not JSON-serializable", err)
	}
	return nil
}

// validateTags rejects any tag that normalizes to empty — a tag that is
// pure whitespace violates the normalization contract (spec Glossary
// "Tag": trim, collapse, reject empty) rather than silently disappearing.
func validateTags(tags []string) error {
	for _, t := range tags {
		if memory.NormalizeTag(t) == "" && t != "" {
			return memerr.New(memerr.KindInvalidInput, fmt.Sprintf("tag %q normalizes to empty", t))
		}
	}
	return nil
}

// StoreRequest is the input to StoreMemory (spec §6.1 store_memory).
type StoreRequest struct {
	Content         string
	Tags            []string
	MemoryType      string
	Metadata        map[string]interface{}
	ClientHostname  string // explicit argument
	HeaderHostname  string // request header, when the transport has one
}

// StoreResponse is the canonical store_memory response shape (spec §4.8).
type StoreResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
}

// StoreMemory validates, hashes, hostname-tags, and persists req.
func (s *Service) StoreMemory(ctx context.Context, req StoreRequest) (*StoreResponse, error) {
	if err := validateMetadata(req.Metadata); err != nil {
		return nil, err
	}
	if err := validateTags(req.Tags); err != nil {
		return nil, err
	}

	m := &memory.Memory{
		Content:    req.Content,
		Tags:       req.Tags,
		MemoryType: req.MemoryType,
		Metadata:   req.Metadata,
	}
	if err := m.Normalize(); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid memory", err)
	}

	s.applyHostnameTagging(m, req.ClientHostname, req.HeaderHostname)
	m.Tags = memory.NormalizeTags(m.Tags)

	m.ContentHash = identity.ContentHash(m.Content, nil)
	m.CreatedAt, m.CreatedAtISO = identity.Stamp()
	m.UpdatedAt, m.UpdatedAtISO = m.CreatedAt, m.CreatedAtISO

	stored, message, err := s.backend.Store(ctx, m)
	if err != nil {
		return nil, err
	}
	s.health.Invalidate()
	if message == "" {
		if stored {
			message = "memory stored"
		} else {
			message = "memory already exists"
		}
	}
	return &StoreResponse{Success: true, Message: message, ContentHash: m.ContentHash}, nil
}

// RetrieveResponse is the canonical retrieve_memory response shape.
type RetrieveResponse struct {
	Results         []memory.QueryResult `json:"results"`
	TotalFound      int                  `json:"total_found"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// RetrieveMemory runs a semantic query (spec §6.1 retrieve_memory).
func (s *Service) RetrieveMemory(ctx context.Context, q string, nResults int, minSimilarity float64) (*RetrieveResponse, error) {
	if memory.NormalizeTag(q) == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "query must not be empty")
	}
	if nResults <= 0 {
		nResults = 5
	}

	start := time.Now()
	results, err := s.backend.Retrieve(ctx, q, nResults, minSimilarity)
	if err != nil {
		return nil, err
	}
	return &RetrieveResponse{
		Results:          results,
		TotalFound:       len(results),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// SearchByTagResponse is the canonical search_by_tag response shape.
type SearchByTagResponse struct {
	Results    []memory.Memory `json:"results"`
	SearchTags []string        `json:"search_tags"`
	MatchAll   bool            `json:"match_all"`
	TotalFound int             `json:"total_found"`
}

// SearchByTag implements spec §6.1 search_by_tag (invariant I6).
func (s *Service) SearchByTag(ctx context.Context, tags []string, matchAll bool) (*SearchByTagResponse, error) {
	if len(tags) == 0 {
		return nil, memerr.New(memerr.KindInvalidInput, "at least one tag is required")
	}
	if err := validateTags(tags); err != nil {
		return nil, err
	}
	normalized := memory.NormalizeTags(tags)

	results, err := s.backend.SearchByTag(ctx, normalized, matchAll)
	if err != nil {
		return nil, err
	}
	return &SearchByTagResponse{
		Results:    results,
		SearchTags: normalized,
		MatchAll:   matchAll,
		TotalFound: len(results),
	}, nil
}

// SearchByTimeResponse is the canonical search_by_time response shape.
type SearchByTimeResponse struct {
	Results    []memory.Memory `json:"results"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	TotalFound int             `json:"total_found"`
}

// SearchByTime accepts either a natural-language query string (spec §4.10
// grammar) or an explicit inclusive [start, end] pair; when a query string
// is given it takes precedence over start/end.
func (s *Service) SearchByTime(ctx context.Context, queryString string, start, end *time.Time, nResults int) (*SearchByTimeResponse, error) {
	if nResults <= 0 {
		nResults = 5
	}

	var window query.TimeRange
	switch {
	case queryString != "":
		r, err := query.ParseTimeRange(queryString, time.Now())
		if err != nil {
			return nil, err
		}
		window = r
	case start != nil && end != nil:
		window = query.TimeRange{Start: *start, End: *end}
	default:
		return nil, memerr.New(memerr.KindInvalidInput, "search_by_time requires either a query string or start/end")
	}

	results, err := s.backend.SearchByTime(ctx, window.Start, window.End, nResults)
	if err != nil {
		return nil, err
	}
	return &SearchByTimeResponse{
		Results:    results,
		Start:      window.Start.UTC().Format(time.RFC3339),
		End:        window.End.UTC().Format(time.RFC3339),
		TotalFound: len(results),
	}, nil
}

// SearchSimilarResponse is the canonical search_similar response shape.
type SearchSimilarResponse struct {
	Results    []memory.QueryResult `json:"results"`
	SourceHash string               `json:"source_hash"`
	TotalFound int                  `json:"total_found"`
}

// SearchSimilar returns the n nearest neighbors to contentHash (spec §6.1
// search_similar), excluding the source record itself.
func (s *Service) SearchSimilar(ctx context.Context, contentHash string, nResults int) (*SearchSimilarResponse, error) {
	if contentHash == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "content_hash is required")
	}
	if nResults <= 0 {
		nResults = 5
	}

	results, err := s.backend.SearchSimilarTo(ctx, contentHash, nResults)
	if err != nil {
		return nil, err
	}
	return &SearchSimilarResponse{
		Results:    results,
		SourceHash: contentHash,
		TotalFound: len(results),
	}, nil
}

// DeleteResponse is the canonical delete_memory response shape.
type DeleteResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
}

// DeleteMemory implements spec §6.1 delete_memory (invariant I5).
func (s *Service) DeleteMemory(ctx context.Context, contentHash string) (*DeleteResponse, error) {
	if contentHash == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "content_hash is required")
	}
	deleted, message, err := s.backend.Delete(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	s.health.Invalidate()
	if message == "" {
		if deleted {
			message = "memory deleted"
		} else {
			message = "memory not found"
		}
	}
	return &DeleteResponse{Success: deleted, Message: message, ContentHash: contentHash}, nil
}

// DeleteByTagResponse is the canonical delete_by_tag response shape.
type DeleteByTagResponse struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Hashes  []string `json:"hashes,omitempty"`
	Message string   `json:"message"`
}

// DeleteByTag implements spec §6.1 delete_by_tag.
func (s *Service) DeleteByTag(ctx context.Context, tag string, detail bool) (*DeleteByTagResponse, error) {
	normalized := memory.NormalizeTag(tag)
	if normalized == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "tag must not be empty")
	}

	count, hashes, err := s.backend.DeleteByTag(ctx, normalized, detail)
	if err != nil {
		return nil, err
	}
	s.health.Invalidate()
	return &DeleteByTagResponse{
		Success: true,
		Count:   count,
		Hashes:  hashes,
		Message: fmt.Sprintf("deleted %d memories", count),
	}, nil
}

// UpdateMetadataResponse is the canonical update_memory_metadata response shape.
type UpdateMetadataResponse struct {
	Success     bool   `json:"success"`
	ContentHash string `json:"content_hash"`
}

// UpdateMemoryMetadata implements spec §6.1 update_memory_metadata.
func (s *Service) UpdateMemoryMetadata(ctx context.Context, contentHash string, patch storage.MetadataPatch) (*UpdateMetadataResponse, error) {
	if contentHash == "" {
		return nil, memerr.New(memerr.KindInvalidInput, "content_hash is required")
	}
	if err := validateMetadata(patch.Metadata); err != nil {
		return nil, err
	}
	if err := validateTags(patch.Tags); err != nil {
		return nil, err
	}
	if patch.Tags != nil {
		patch.Tags = memory.NormalizeTags(patch.Tags)
	}

	if err := s.backend.UpdateMetadata(ctx, contentHash, patch); err != nil {
		return nil, err
	}
	return &UpdateMetadataResponse{Success: true, ContentHash: contentHash}, nil
}

// ListResponse is the canonical list_memories response shape.
type ListResponse struct {
	Results  []memory.Memory `json:"results"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasMore  bool            `json:"has_more"`
}

// ListMemories implements spec §6.1 list_memories: filter, then paginate,
// never the reverse (per §4.8).
func (s *Service) ListMemories(ctx context.Context, opts storage.ListOptions) (*ListResponse, error) {
	opts.Normalize()
	page, err := s.backend.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &ListResponse{
		Results:  page.Items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}, nil
}

// CheckDatabaseHealth implements spec §6.1 check_database_health / §4.11.
func (s *Service) CheckDatabaseHealth(ctx context.Context) (storage.Stats, error) {
	return s.health.Detailed(ctx)
}

// CleanupDuplicatesResponse is the canonical maintenance/cleanup-duplicates
// response shape, served over HTTP for the federated backend's bulk
// maintenance route (not part of the narrow §6.1 tool surface).
type CleanupDuplicatesResponse struct {
	Removed int `json:"removed"`
}

// CleanupDuplicates asks the backend to collapse any rows that ended up
// duplicated under the same content hash and invalidates the cached health
// snapshot so the next check reflects the new count.
func (s *Service) CleanupDuplicates(ctx context.Context) (*CleanupDuplicatesResponse, error) {
	removed, err := s.backend.CleanupDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	s.health.Invalidate()
	return &CleanupDuplicatesResponse{Removed: removed}, nil
}

// Liveness returns the cheap liveness record served by GET /api/health.
func (s *Service) Liveness() health.Liveness {
	return s.health.Liveness()
}

// Close releases the underlying backend's resources.
func (s *Service) Close() error {
	return s.backend.Close()
}
