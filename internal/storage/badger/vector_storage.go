package badger

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// storedVector is the badgerhold record for one embedded point.
type storedVector struct {
	Key        string `badgerhold:"key"` // collection|id
	Collection string
	PointID    string
	Vector     []float32
	Payload    map[string]interface{}
}

// collectionMeta records the dimension a collection was initialized with.
type collectionMeta struct {
	Name      string `badgerhold:"key"`
	Dimension int
}

// VectorStorage implements VectorStorage with brute-force cosine search over
// Badger. Suitable for the tens of thousands of points a single project
// produces; the postgres backend covers larger corpora.
type VectorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVectorStorage creates a new badger-backed VectorStorage instance
func NewVectorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VectorStorage {
	return &VectorStorage{
		db:     db,
		logger: logger,
	}
}

func vectorKey(collection, id string) string {
	return collection + "|" + id
}

func (s *VectorStorage) InitCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	var meta collectionMeta
	err := s.db.Store().Get(collection, &meta)
	if err == nil {
		if meta.Dimension != dimension {
			return fmt.Errorf("collection %s exists with dimension %d, requested %d", collection, meta.Dimension, dimension)
		}
		return nil
	}
	if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	meta = collectionMeta{Name: collection, Dimension: dimension}
	if err := s.db.Store().Upsert(collection, &meta); err != nil {
		return fmt.Errorf("failed to init collection: %w", err)
	}
	s.logger.Info().Str("collection", collection).Int("dimension", dimension).Msg("Vector collection initialized")
	return nil
}

func (s *VectorStorage) Upsert(ctx context.Context, collection string, point interfaces.VectorPoint) error {
	var meta collectionMeta
	if err := s.db.Store().Get(collection, &meta); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("collection %s not initialized", collection)
		}
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if len(point.Vector) != meta.Dimension {
		return fmt.Errorf("vector dimension %d does not match collection dimension %d", len(point.Vector), meta.Dimension)
	}
	record := storedVector{
		Key:        vectorKey(collection, point.ID),
		Collection: collection,
		PointID:    point.ID,
		Vector:     point.Vector,
		Payload:    point.Payload,
	}
	if err := s.db.Store().Upsert(record.Key, &record); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (s *VectorStorage) UpsertBatch(ctx context.Context, collection string, points []interfaces.VectorPoint) error {
	for _, p := range points {
		if err := s.Upsert(ctx, collection, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *VectorStorage) Search(ctx context.Context, collection string, vector []float32, topK int, filters map[string]interface{}) ([]interfaces.VectorMatch, error) {
	var records []storedVector
	err := s.db.Store().Find(&records, badgerhold.Where("Collection").Eq(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}

	matches := make([]interfaces.VectorMatch, 0, len(records))
	for i := range records {
		r := &records[i]
		if !payloadMatches(r.Payload, filters) {
			continue
		}
		score := CosineSimilarity(vector, r.Vector)
		matches = append(matches, interfaces.VectorMatch{
			Point: interfaces.VectorPoint{ID: r.PointID, Vector: r.Vector, Payload: r.Payload},
			Score: score,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *VectorStorage) Get(ctx context.Context, collection string, id string) (*interfaces.VectorPoint, error) {
	var record storedVector
	if err := s.db.Store().Get(vectorKey(collection, id), &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return &interfaces.VectorPoint{ID: record.PointID, Vector: record.Vector, Payload: record.Payload}, nil
}

func (s *VectorStorage) Delete(ctx context.Context, collection string, ids []string) error {
	for _, id := range ids {
		err := s.db.Store().Delete(vectorKey(collection, id), &storedVector{})
		if err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
	}
	return nil
}

func (s *VectorStorage) Count(ctx context.Context, collection string) (int, error) {
	count, err := s.db.Store().Count(&storedVector{}, badgerhold.Where("Collection").Eq(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return int(count), nil
}

// Close is a no-op, the shared BadgerDB owns the connection.
func (s *VectorStorage) Close() error {
	return nil
}

func payloadMatches(payload, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := payload[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine of the angle between two vectors,
// 0 when either has zero magnitude.
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
