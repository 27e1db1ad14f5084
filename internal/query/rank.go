// Package query implements the ranking and time-parsing logic shared by
// every storage backend (spec §4.10): cosine similarity scoring with the
// I7 tie-break order, and the natural-language time grammar used by
// search_by_time.
package query

import (
	"math"
	"sort"

	"github.com/memento-engine/memengine/pkg/memory"
)

// CosineSimilarity returns the cosine similarity of a and b rescaled into
// [0,1] (spec §4.10: "cosine similarity in [0,1] after rescaling"). Raw
// cosine similarity ranges [-1,1]; this maps it with (x+1)/2. Returns 0 if
// the vectors differ in length or either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	raw := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (raw + 1) / 2
}

// SortResults orders results per invariant I7: similarity_score
// descending, ties broken by created_at descending, then by
// content_hash ascending. Sorts in place and also returns the slice for
// chaining.
func SortResults(results []memory.QueryResult) []memory.QueryResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		if a.Memory.CreatedAt != b.Memory.CreatedAt {
			return a.Memory.CreatedAt > b.Memory.CreatedAt
		}
		return a.Memory.ContentHash < b.Memory.ContentHash
	})
	return results
}

// FilterByMinSimilarity drops results scoring below min, preserving order.
// Per spec §4.10, if fewer than n survive the shorter list is returned —
// callers apply this before truncating to n, not after.
func FilterByMinSimilarity(results []memory.QueryResult, min float64) []memory.QueryResult {
	if min <= 0 {
		return results
	}
	out := results[:0:0]
	for _, r := range results {
		if r.SimilarityScore >= min {
			out = append(out, r)
		}
	}
	return out
}

// Truncate caps results to at most n entries.
func Truncate(results []memory.QueryResult, n int) []memory.QueryResult {
	if n < 0 || n >= len(results) {
		return results
	}
	return results[:n]
}
