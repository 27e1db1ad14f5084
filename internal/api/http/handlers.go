package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/service"
	"github.com/memento-engine/memengine/internal/storage"
)

// Handlers implements spec §6.2's HTTP coordinator surface as a thin
// adapter over the unified Memory Service — every handler validates the
// wire shape and delegates the actual work to service.Service. hub is
// optional: when nil, writes simply don't publish to the change feed.
type Handlers struct {
	svc *service.Service
	hub *EventHub
}

// NewHandlers builds a Handlers bound to svc. hub may be nil.
func NewHandlers(svc *service.Service, hub *EventHub) *Handlers {
	return &Handlers{svc: svc, hub: hub}
}

func (h *Handlers) publish(kind, contentHash string) {
	if h.hub == nil {
		return
	}
	evt := newEvent(kind, contentHash)
	evt.Timestamp = time.Now().UTC().Format(time.RFC3339)
	h.hub.Broadcast(evt)
}

// Health serves GET /api/health — the cheap liveness record, never touching
// the backend.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Liveness())
}

// HealthDetailed serves GET /api/health/detailed — the full stats record
// (spec §4.11), which may hit the backend once per health.Reporter's TTL.
func (h *Handlers) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CheckDatabaseHealth(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type storeMemoryRequest struct {
	Content        string                 `json:"content"`
	Tags           []string               `json:"tags,omitempty"`
	MemoryType     string                 `json:"memory_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ClientHostname string                 `json:"client_hostname,omitempty"`
}

// StoreMemory serves POST /api/memories (spec §6.1 store_memory).
func (h *Handlers) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}

	resp, err := h.svc.StoreMemory(r.Context(), service.StoreRequest{
		Content:        req.Content,
		Tags:           req.Tags,
		MemoryType:     req.MemoryType,
		Metadata:       req.Metadata,
		ClientHostname: req.ClientHostname,
		HeaderHostname: r.Header.Get("X-Client-Hostname"),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.publish("stored", resp.ContentHash)
	respondJSON(w, http.StatusOK, resp)
}

// ListMemories serves GET /api/memories?page=&page_size=&tag=&type=.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:       parseInt(q.Get("page"), 1),
		PageSize:   parseInt(q.Get("page_size"), 10),
		Tag:        q.Get("tag"),
		MemoryType: q.Get("type"),
	}
	resp, err := h.svc.ListMemories(r.Context(), opts)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// DeleteMemory serves DELETE /api/memories/{content_hash}.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("content_hash")
	resp, err := h.svc.DeleteMemory(r.Context(), hash)
	if err != nil {
		respondError(w, err)
		return
	}
	if resp.Success {
		h.publish("deleted", hash)
	}
	respondJSON(w, http.StatusOK, resp)
}

// DeleteByTag serves DELETE /api/memories/by-tag/{tag}?detail=. This route
// is not in the narrow §6.1 tool listing but is required so the
// HTTP-federated backend can reach delete_by_tag over the wire.
func (h *Handlers) DeleteByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	detail := r.URL.Query().Get("detail") == "true"
	resp, err := h.svc.DeleteByTag(r.Context(), tag, detail)
	if err != nil {
		respondError(w, err)
		return
	}
	for _, hash := range resp.Hashes {
		h.publish("deleted", hash)
	}
	respondJSON(w, http.StatusOK, resp)
}

type updateMemoryMetadataRequest struct {
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	MemoryType *string                `json:"memory_type,omitempty"`
}

// UpdateMemoryMetadata serves PATCH /api/memories/{content_hash}.
func (h *Handlers) UpdateMemoryMetadata(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("content_hash")
	var req updateMemoryMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}

	resp, err := h.svc.UpdateMemoryMetadata(r.Context(), hash, storage.MetadataPatch{
		Metadata:   req.Metadata,
		Tags:       req.Tags,
		MemoryType: req.MemoryType,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.publish("updated", hash)
	respondJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query         string  `json:"query"`
	NResults      int     `json:"n_results"`
	MinSimilarity float64 `json:"min_similarity"`
}

// Search serves POST /api/search (spec §6.1 retrieve_memory).
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}
	resp, err := h.svc.RetrieveMemory(r.Context(), req.Query, req.NResults, req.MinSimilarity)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type tagSearchRequest struct {
	Tags     []string `json:"tags"`
	MatchAll bool     `json:"match_all"`
}

// SearchByTag serves POST /api/search/by-tag.
func (h *Handlers) SearchByTag(w http.ResponseWriter, r *http.Request) {
	var req tagSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}
	resp, err := h.svc.SearchByTag(r.Context(), req.Tags, req.MatchAll)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type timeSearchRequest struct {
	QueryString string   `json:"query_string,omitempty"`
	Start       *float64 `json:"start,omitempty"`
	End         *float64 `json:"end,omitempty"`
	NResults    int      `json:"n_results"`
}

// SearchByTime serves POST /api/search/by-time. Either query_string or both
// start/end (Unix seconds, matching the federated backend's wire format)
// must be given.
func (h *Handlers) SearchByTime(w http.ResponseWriter, r *http.Request) {
	var req timeSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}

	var start, end *time.Time
	if req.Start != nil && req.End != nil {
		s := time.Unix(0, int64(*req.Start*float64(time.Second)))
		e := time.Unix(0, int64(*req.End*float64(time.Second)))
		start, end = &s, &e
	}

	resp, err := h.svc.SearchByTime(r.Context(), req.QueryString, start, end, req.NResults)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type similarRequest struct {
	ContentHash string `json:"content_hash"`
	NResults    int    `json:"n_results"`
}

// SearchSimilar serves POST /api/search/similar.
func (h *Handlers) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, memerr.Wrap(memerr.KindInvalidInput, "malformed request body", err))
		return
	}
	resp, err := h.svc.SearchSimilar(r.Context(), req.ContentHash, req.NResults)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// CleanupDuplicates serves POST /api/maintenance/cleanup-duplicates. Like
// DeleteByTag, this is an extension route the federated backend needs
// rather than part of the §6.1 tool surface.
func (h *Handlers) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.CleanupDuplicates(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// parseInt parses s as an int, falling back to defaultValue on empty input
// or a parse error.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return v
}

// respondJSON writes data as a JSON body with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the wire shape for every failed request (spec §7 error
// kinds), matching the errorResponse shape the federated backend's client
// already expects to be able to parse.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respondError maps err's memerr.Kind to its HTTP status (spec §7) and
// writes the uniform error body.
func respondError(w http.ResponseWriter, err error) {
	kind := memerr.KindOf(err)
	respondJSON(w, memerr.HTTPStatus(kind), errorBody{Kind: string(kind), Message: err.Error()})
}
