package federated

import "github.com/memento-engine/memengine/pkg/memory"

// These mirror the canonical response shapes from spec §4.8 — the same
// JSON the HTTP coordinator surface (internal/api/http) serves and every
// other transport shapes its own response from. The federated backend is
// simply another client of that wire contract.

type storeRequest struct {
	Content    string                 `json:"content"`
	Tags       []string               `json:"tags,omitempty"`
	MemoryType string                 `json:"memory_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type storeResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
}

type searchRequest struct {
	Query         string  `json:"query"`
	NResults      int     `json:"n_results"`
	MinSimilarity float64 `json:"min_similarity"`
}

type searchResponse struct {
	Results    []memory.QueryResult `json:"results"`
	TotalFound int                  `json:"total_found"`
}

type tagSearchRequest struct {
	Tags     []string `json:"tags"`
	MatchAll bool     `json:"match_all"`
}

type tagSearchResponse struct {
	Results    []memory.Memory `json:"results"`
	TotalFound int             `json:"total_found"`
}

type timeSearchRequest struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	NResults int     `json:"n_results"`
}

type timeSearchResponse struct {
	Results    []memory.Memory `json:"results"`
	TotalFound int             `json:"total_found"`
}

type similarRequest struct {
	ContentHash string `json:"content_hash"`
	NResults    int    `json:"n_results"`
}

type similarResponse struct {
	Results    []memory.QueryResult `json:"results"`
	TotalFound int                  `json:"total_found"`
}

type deleteResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash"`
}

type deleteByTagResponse struct {
	Count   int      `json:"count"`
	Hashes  []string `json:"hashes,omitempty"`
	Message string   `json:"message"`
}

type updateMetadataRequest struct {
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Tags       []string                `json:"tags,omitempty"`
	MemoryType *string                 `json:"memory_type,omitempty"`
}

type updateMetadataResponse struct {
	Success     bool   `json:"success"`
	ContentHash string `json:"content_hash"`
}

type listResponse struct {
	Results  []memory.Memory `json:"results"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasMore  bool            `json:"has_more"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
