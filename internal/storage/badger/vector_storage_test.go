package badger

import (
	"context"
	"math"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

func newTestVectors(t *testing.T) interfaces.VectorStorage {
	t.Helper()
	return NewVectorStorage(newTestDB(t), arbor.NewLogger())
}

func TestVectorSearchOrdering(t *testing.T) {
	vs := newTestVectors(t)
	ctx := context.Background()

	if err := vs.InitCollection(ctx, "extractions", 3); err != nil {
		t.Fatal(err)
	}
	points := []interfaces.VectorPoint{
		{ID: "exact", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"project_id": "p1"}},
		{ID: "close", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]interface{}{"project_id": "p1"}},
		{ID: "orthogonal", Vector: []float32{0, 1, 0}, Payload: map[string]interface{}{"project_id": "p1"}},
	}
	if err := vs.UpsertBatch(ctx, "extractions", points); err != nil {
		t.Fatal(err)
	}

	matches, err := vs.Search(ctx, "extractions", []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Point.ID != "exact" || matches[1].Point.ID != "close" {
		t.Fatalf("Wrong ordering: %s, %s", matches[0].Point.ID, matches[1].Point.ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Fatalf("Exact match should score 1.0, got %f", matches[0].Score)
	}
}

func TestVectorSearchFilters(t *testing.T) {
	vs := newTestVectors(t)
	ctx := context.Background()

	if err := vs.InitCollection(ctx, "extractions", 2); err != nil {
		t.Fatal(err)
	}
	if err := vs.Upsert(ctx, "extractions", interfaces.VectorPoint{
		ID: "a", Vector: []float32{1, 0},
		Payload: map[string]interface{}{"project_id": "p1", "source_group": "acme"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := vs.Upsert(ctx, "extractions", interfaces.VectorPoint{
		ID: "b", Vector: []float32{1, 0},
		Payload: map[string]interface{}{"project_id": "p2", "source_group": "other"},
	}); err != nil {
		t.Fatal(err)
	}

	matches, err := vs.Search(ctx, "extractions", []float32{1, 0}, 10, map[string]interface{}{"project_id": "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Point.ID != "a" {
		t.Fatalf("Filter should keep only point a, got %v", matches)
	}
}

func TestVectorDimensionMismatch(t *testing.T) {
	vs := newTestVectors(t)
	ctx := context.Background()

	if err := vs.InitCollection(ctx, "c", 4); err != nil {
		t.Fatal(err)
	}
	err := vs.Upsert(ctx, "c", interfaces.VectorPoint{ID: "x", Vector: []float32{1, 2}})
	if err == nil {
		t.Fatal("Dimension mismatch should be rejected")
	}

	// Re-init with a different dimension is also rejected.
	if err := vs.InitCollection(ctx, "c", 8); err == nil {
		t.Fatal("Conflicting re-init should be rejected")
	}
	// Same dimension is idempotent.
	if err := vs.InitCollection(ctx, "c", 4); err != nil {
		t.Fatalf("Idempotent init failed: %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("Orthogonal vectors should score 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("Zero vector should score 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 1}, []float32{1, 1}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("Identical vectors should score 1, got %f", got)
	}
}
