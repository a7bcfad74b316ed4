package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// VectorStorage implements VectorStorage on Postgres with the pgvector
// extension. One table per collection, cosine distance ordering.
type VectorStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewVectorStorage connects and verifies the pgvector extension.
func NewVectorStorage(dsn string, logger arbor.ILogger) (*VectorStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector extension unavailable: %w", err)
	}
	logger.Info().Msg("Postgres vector storage connected")
	return &VectorStorage{db: db, logger: logger}, nil
}

// tableName sanitizes a collection name into an identifier.
func tableName(collection string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, collection)
	return "vec_" + safe
}

func (s *VectorStorage) InitCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	table := tableName(collection)
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'
		)`, table, dimension)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection table: %w", err)
	}
	index := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
		table, table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *VectorStorage) Upsert(ctx context.Context, collection string, point interfaces.VectorPoint) error {
	payload, err := json.Marshal(point.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		tableName(collection))
	if _, err := s.db.ExecContext(ctx, query, point.ID, pgvector.NewVector(point.Vector), payload); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (s *VectorStorage) UpsertBatch(ctx context.Context, collection string, points []interfaces.VectorPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		tableName(collection))
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, point := range points {
		payload, err := json.Marshal(point.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, point.ID, pgvector.NewVector(point.Vector), payload); err != nil {
			return fmt.Errorf("failed to insert vector %s: %w", point.ID, err)
		}
	}
	return tx.Commit()
}

func (s *VectorStorage) Search(ctx context.Context, collection string, vector []float32, topK int, filters map[string]interface{}) ([]interfaces.VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	args := []interface{}{pgvector.NewVector(vector)}
	where := ""
	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filters: %w", err)
		}
		where = "WHERE payload @> $2"
		args = append(args, filterJSON)
	}
	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT id, embedding, payload, 1 - (embedding <=> $1) AS score
		FROM %s %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, tableName(collection), where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var matches []interfaces.VectorMatch
	for rows.Next() {
		var (
			id      string
			vec     pgvector.Vector
			payload []byte
			score   float64
		)
		if err := rows.Scan(&id, &vec, &payload, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		matches = append(matches, interfaces.VectorMatch{
			Point: interfaces.VectorPoint{ID: id, Vector: vec.Slice(), Payload: decoded},
			Score: score,
		})
	}
	return matches, rows.Err()
}

func (s *VectorStorage) Get(ctx context.Context, collection string, id string) (*interfaces.VectorPoint, error) {
	query := fmt.Sprintf(`SELECT embedding, payload FROM %s WHERE id = $1`, tableName(collection))
	var (
		vec     pgvector.Vector
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&vec, &payload)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &interfaces.VectorPoint{ID: id, Vector: vec.Slice(), Payload: decoded}, nil
}

func (s *VectorStorage) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, tableName(collection))
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (s *VectorStorage) Count(ctx context.Context, collection string) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(collection))
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return count, nil
}

func (s *VectorStorage) Close() error {
	return s.db.Close()
}
