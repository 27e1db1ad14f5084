package query

import (
	"testing"

	"github.com/memento-engine/memengine/pkg/memory"
)

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	got := CosineSimilarity(v, v)
	if got < 0.999999 || got > 1.000001 {
		t.Fatalf("expected ~1, got %f", got)
	}
}

func TestCosineSimilarityOppositeVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	got := CosineSimilarity(a, b)
	if got < -0.000001 || got > 0.000001 {
		t.Fatalf("expected ~0, got %f", got)
	}
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	if got := CosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestCosineSimilarityZeroVectorIsZero(t *testing.T) {
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func result(score float64, createdAt float64, hash string) memory.QueryResult {
	return memory.QueryResult{
		Memory: memory.Memory{
			ContentHash: hash,
			CreatedAt:   createdAt,
		},
		SimilarityScore: score,
	}
}

func TestSortResultsOrdersBySimilarityDescending(t *testing.T) {
	in := []memory.QueryResult{
		result(0.5, 100, "a"),
		result(0.9, 100, "b"),
		result(0.1, 100, "c"),
	}
	out := SortResults(in)
	if out[0].Memory.ContentHash != "b" || out[1].Memory.ContentHash != "a" || out[2].Memory.ContentHash != "c" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestSortResultsTieBreaksByCreatedAtThenHash(t *testing.T) {
	in := []memory.QueryResult{
		result(0.5, 100, "zzz"),
		result(0.5, 200, "aaa"),
		result(0.5, 200, "bbb"),
	}
	out := SortResults(in)
	if out[0].Memory.ContentHash != "aaa" {
		t.Fatalf("expected newer created_at first, got %s", out[0].Memory.ContentHash)
	}
	if out[1].Memory.ContentHash != "bbb" {
		t.Fatalf("expected hash-ascending tie break, got %s", out[1].Memory.ContentHash)
	}
	if out[2].Memory.ContentHash != "zzz" {
		t.Fatalf("expected oldest created_at last, got %s", out[2].Memory.ContentHash)
	}
}

func TestFilterByMinSimilarity(t *testing.T) {
	in := []memory.QueryResult{
		result(0.9, 1, "a"),
		result(0.3, 1, "b"),
		result(0.5, 1, "c"),
	}
	out := FilterByMinSimilarity(in, 0.5)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}

func TestFilterByMinSimilarityZeroIsNoOp(t *testing.T) {
	in := []memory.QueryResult{result(0.1, 1, "a")}
	out := FilterByMinSimilarity(in, 0)
	if len(out) != 1 {
		t.Fatalf("expected unfiltered passthrough, got %d", len(out))
	}
}

func TestTruncate(t *testing.T) {
	in := []memory.QueryResult{result(0.9, 1, "a"), result(0.8, 1, "b"), result(0.7, 1, "c")}
	out := Truncate(in, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2, got %d", len(out))
	}
}

func TestTruncateNGreaterThanLenReturnsAll(t *testing.T) {
	in := []memory.QueryResult{result(0.9, 1, "a")}
	out := Truncate(in, 50)
	if len(out) != 1 {
		t.Fatalf("expected 1, got %d", len(out))
	}
}
