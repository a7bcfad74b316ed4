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

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) Store(ctx context.Context, source *models.Source) error {
	if err := source.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	source.UpdatedAt = time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = source.UpdatedAt
	}
	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to store source: %w", err)
	}
	return nil
}

func (s *SourceStorage) Get(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	if err := s.db.Store().Get(id, &source); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

func (s *SourceStorage) GetByProject(ctx context.Context, projectID string) ([]*models.Source, error) {
	var sources []models.Source
	err := s.db.Store().Find(&sources, badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get sources by project: %w", err)
	}
	return toSourcePtrs(sources), nil
}

func (s *SourceStorage) GetByProjectAndStatus(ctx context.Context, projectID string, status models.SourceStatus) ([]*models.Source, error) {
	var sources []models.Source
	err := s.db.Store().Find(&sources, badgerhold.Where("ProjectID").Eq(projectID).And("Status").Eq(status).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get sources by status: %w", err)
	}
	return toSourcePtrs(sources), nil
}

func (s *SourceStorage) GetByProjectAndDomain(ctx context.Context, projectID, domain string) ([]*models.Source, error) {
	all, err := s.GetByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	// Domain lives in metadata, filter in memory.
	var result []*models.Source
	for _, src := range all {
		if src.Domain() == domain {
			result = append(result, src)
		}
	}
	return result, nil
}

func (s *SourceStorage) UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error {
	source, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	source.Status = status
	if errMsg != "" {
		source.Errors = append(source.Errors, errMsg)
	}
	source.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	return nil
}

func (s *SourceStorage) SetCleanedContent(ctx context.Context, id string, cleaned string) error {
	source, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	source.CleanedContent = &cleaned
	source.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to set cleaned content: %w", err)
	}
	return nil
}

func (s *SourceStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Source{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return int(count), nil
}

func (s *SourceStorage) CountByProject(ctx context.Context, projectID string) (int, error) {
	count, err := s.db.Store().Count(&models.Source{}, badgerhold.Where("ProjectID").Eq(projectID))
	if err != nil {
		return 0, fmt.Errorf("failed to count sources by project: %w", err)
	}
	return int(count), nil
}

func (s *SourceStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Source{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrSourceNotFound
		}
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

func toSourcePtrs(sources []models.Source) []*models.Source {
	result := make([]*models.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result
}
