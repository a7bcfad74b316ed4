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

// BoilerplateStorage implements the BoilerplateStorage interface for Badger
type BoilerplateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBoilerplateStorage creates a new BoilerplateStorage instance
func NewBoilerplateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BoilerplateStorage {
	return &BoilerplateStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BoilerplateStorage) Store(ctx context.Context, bp *models.DomainBoilerplate) error {
	if bp.ProjectID == "" || bp.Domain == "" {
		return fmt.Errorf("boilerplate requires project_id and domain")
	}
	bp.ID = models.BoilerplateKey(bp.ProjectID, bp.Domain)
	bp.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(bp.ID, bp); err != nil {
		return fmt.Errorf("failed to store boilerplate: %w", err)
	}
	return nil
}

func (s *BoilerplateStorage) Get(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error) {
	var bp models.DomainBoilerplate
	if err := s.db.Store().Get(models.BoilerplateKey(projectID, domain), &bp); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get boilerplate: %w", err)
	}
	return &bp, nil
}

func (s *BoilerplateStorage) GetByProject(ctx context.Context, projectID string) ([]*models.DomainBoilerplate, error) {
	var bps []models.DomainBoilerplate
	err := s.db.Store().Find(&bps, badgerhold.Where("ProjectID").Eq(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to get boilerplate by project: %w", err)
	}
	result := make([]*models.DomainBoilerplate, len(bps))
	for i := range bps {
		result[i] = &bps[i]
	}
	return result, nil
}

func (s *BoilerplateStorage) Delete(ctx context.Context, projectID, domain string) error {
	err := s.db.Store().Delete(models.BoilerplateKey(projectID, domain), &models.DomainBoilerplate{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete boilerplate: %w", err)
	}
	return nil
}
