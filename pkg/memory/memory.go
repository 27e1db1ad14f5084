// Package memory defines the canonical data model shared by every storage
// backend and transport in the engine: the Memory record, its query-result
// wrapper, and the normalization rules that keep both consistent.
package memory

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultMemoryType is used when a caller does not specify one.
const DefaultMemoryType = "note"

// Reserved metadata keys carry engine-assigned meaning; callers may read them
// but writes to them are controlled by the service layer, not by storage
// backends directly.
const (
	MetaHostname        = "hostname"
	MetaSource          = "source"
	MetaLargeContentRef = "large_content_ref"
	MetaOriginalLength  = "original_length"
)

// Memory is the canonical record. ContentHash is the primary identity
// (I1): a second Store with the same ContentHash is a no-op success, and
// metadata changes never alter it (P1).
type Memory struct {
	Content     string                 `json:"content"`
	ContentHash string                 `json:"content_hash"`
	Tags        []string               `json:"tags,omitempty"`
	MemoryType  string                 `json:"memory_type"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt    float64 `json:"created_at"`
	CreatedAtISO string  `json:"created_at_iso"`
	UpdatedAt    float64 `json:"updated_at"`
	UpdatedAtISO string  `json:"updated_at_iso"`

	// Embedding is absent (nil) when the provider was not ready at write
	// time. Its length, when present, always equals the provider's
	// dimension (I3).
	Embedding []float32 `json:"embedding,omitempty"`
}

// QueryResult wraps a Memory with the ranking fields produced by the
// semantic, tag, time, and similarity query paths.
type QueryResult struct {
	Memory          Memory  `json:"memory"`
	SimilarityScore float64 `json:"similarity_score"`
	RelevanceReason string  `json:"relevance_reason"`
}

// Normalize applies the construction policy shared by every ingestion path:
// trims and dedupes tags (preserving first-seen order), trims metadata
// string values, lowercases ContentHash, and defaults MemoryType. It does
// NOT compute ContentHash or timestamps — callers (the identity package and
// the service layer) own those.
//
// Returns an error if the normalized content is empty.
func (m *Memory) Normalize() error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content must not be empty")
	}

	m.Tags = NormalizeTags(m.Tags)

	if m.MemoryType == "" {
		m.MemoryType = DefaultMemoryType
	}

	m.ContentHash = strings.ToLower(m.ContentHash)

	if m.Metadata != nil {
		for k, v := range m.Metadata {
			if s, ok := v.(string); ok {
				m.Metadata[k] = strings.TrimSpace(s)
			}
		}
	}

	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	if m.UpdatedAtISO == "" {
		m.UpdatedAtISO = m.CreatedAtISO
	}

	return nil
}

// NormalizeTag trims outer whitespace and collapses internal whitespace runs
// to a single space. An all-whitespace tag normalizes to "".
func NormalizeTag(tag string) string {
	fields := strings.Fields(tag)
	return strings.Join(fields, " ")
}

// NormalizeTags normalizes every tag (NormalizeTag), drops empty results,
// and removes duplicates while preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		nt := NormalizeTag(t)
		if nt == "" || seen[nt] {
			continue
		}
		seen[nt] = true
		out = append(out, nt)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// TagSet returns tags as a set for superset/intersection comparisons (I6).
func TagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}

// SortedTags returns a sorted copy, used only where display order must be
// deterministic (e.g. test fixtures); storage preserves insertion order.
func SortedTags(tags []string) []string {
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}
