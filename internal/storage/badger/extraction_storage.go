package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ExtractionStorage implements the ExtractionStorage interface for Badger
type ExtractionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewExtractionStorage creates a new ExtractionStorage instance
func NewExtractionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ExtractionStorage {
	return &ExtractionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ExtractionStorage) Store(ctx context.Context, extraction *models.Extraction) error {
	if extraction.ID == "" {
		return fmt.Errorf("extraction ID is required")
	}
	if extraction.CreatedAt.IsZero() {
		extraction.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(extraction.ID, extraction); err != nil {
		return fmt.Errorf("failed to store extraction: %w", err)
	}
	return nil
}

func (s *ExtractionStorage) StoreBatch(ctx context.Context, extractions []*models.Extraction) error {
	for _, e := range extractions {
		if err := s.Store(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExtractionStorage) Get(ctx context.Context, id string) (*models.Extraction, error) {
	var extraction models.Extraction
	if err := s.db.Store().Get(id, &extraction); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return &extraction, nil
}

func (s *ExtractionStorage) GetBySource(ctx context.Context, sourceID string) ([]*models.Extraction, error) {
	var extractions []models.Extraction
	err := s.db.Store().Find(&extractions, badgerhold.Where("SourceID").Eq(sourceID).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get extractions by source: %w", err)
	}
	return toExtractionPtrs(extractions), nil
}

func (s *ExtractionStorage) GetByProject(ctx context.Context, projectID string) ([]*models.Extraction, error) {
	var extractions []models.Extraction
	err := s.db.Store().Find(&extractions, badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get extractions by project: %w", err)
	}
	return toExtractionPtrs(extractions), nil
}

func (s *ExtractionStorage) GetOrphaned(ctx context.Context, limit int) ([]*models.Extraction, error) {
	var extractions []models.Extraction
	query := badgerhold.Where("EmbeddingID").IsNil().SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&extractions, query); err != nil {
		return nil, fmt.Errorf("failed to get orphaned extractions: %w", err)
	}
	return toExtractionPtrs(extractions), nil
}

func (s *ExtractionStorage) GetEntityPending(ctx context.Context, limit int) ([]*models.Extraction, error) {
	var extractions []models.Extraction
	query := badgerhold.Where("EntitiesExtracted").Eq(false).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&extractions, query); err != nil {
		return nil, fmt.Errorf("failed to get entity-pending extractions: %w", err)
	}
	return toExtractionPtrs(extractions), nil
}

func (s *ExtractionStorage) SetEntitiesExtracted(ctx context.Context, id string) error {
	extraction, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	extraction.EntitiesExtracted = true
	if err := s.db.Store().Upsert(extraction.ID, extraction); err != nil {
		return fmt.Errorf("failed to mark entities extracted: %w", err)
	}
	return nil
}

func (s *ExtractionStorage) SetEmbeddingID(ctx context.Context, id string, embeddingID string) error {
	extraction, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	extraction.EmbeddingID = &embeddingID
	if err := s.db.Store().Upsert(extraction.ID, extraction); err != nil {
		return fmt.Errorf("failed to set embedding id: %w", err)
	}
	return nil
}

func (s *ExtractionStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Extraction{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete extraction: %w", err)
	}
	return nil
}

func (s *ExtractionStorage) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	existing, err := s.GetBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	for _, e := range existing {
		if err := s.db.Store().Delete(e.ID, &models.Extraction{}); err != nil && err != badgerhold.ErrNotFound {
			return 0, fmt.Errorf("failed to delete extraction %s: %w", e.ID, err)
		}
	}
	return len(existing), nil
}

func (s *ExtractionStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Extraction{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count extractions: %w", err)
	}
	return int(count), nil
}

func (s *ExtractionStorage) CountByProject(ctx context.Context, projectID string) (int, error) {
	count, err := s.db.Store().Count(&models.Extraction{}, badgerhold.Where("ProjectID").Eq(projectID))
	if err != nil {
		return 0, fmt.Errorf("failed to count extractions by project: %w", err)
	}
	return int(count), nil
}

func toExtractionPtrs(extractions []models.Extraction) []*models.Extraction {
	result := make([]*models.Extraction, len(extractions))
	for i := range extractions {
		result[i] = &extractions[i]
	}
	return result
}
