package interfaces

import "context"

// VectorPoint is one embedded extraction in a collection.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// VectorMatch is a search hit with its cosine similarity score.
type VectorMatch struct {
	Point VectorPoint
	Score float64
}

// VectorStorage - interface for embedding persistence and similarity search
type VectorStorage interface {
	// InitCollection ensures the collection exists with the given dimension.
	InitCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, point VectorPoint) error
	UpsertBatch(ctx context.Context, collection string, points []VectorPoint) error
	// Search returns the top-k most similar points, optionally restricted to
	// payload equality filters.
	Search(ctx context.Context, collection string, vector []float32, topK int, filters map[string]interface{}) ([]VectorMatch, error)
	Get(ctx context.Context, collection string, id string) (*VectorPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}
