package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// entityKeyIndex maps the composite entity key to the entity id so lookups
// stay O(1) without a secondary badgerhold index.
type entityKeyIndex struct {
	Key      string `badgerhold:"key"`
	EntityID string
}

// EntityStorage implements the EntityStorage interface for Badger
type EntityStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes get-or-create so concurrent chunk workers cannot race two
	// entities onto the same composite key.
	mu sync.Mutex
}

// NewEntityStorage creates a new EntityStorage instance
func NewEntityStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EntityStorage {
	return &EntityStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EntityStorage) GetOrCreate(ctx context.Context, entity *models.Entity) (*models.Entity, bool, error) {
	if entity.ProjectID == "" || entity.EntityType == "" || entity.NormalizedValue == "" {
		return nil, false, fmt.Errorf("entity requires project_id, entity_type and normalized_value")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.EntityKey(entity.ProjectID, entity.SourceGroup, entity.EntityType, entity.NormalizedValue)

	var idx entityKeyIndex
	err := s.db.Store().Get(key, &idx)
	if err == nil {
		existing, getErr := s.Get(ctx, idx.EntityID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != badgerhold.ErrNotFound {
		return nil, false, fmt.Errorf("failed to look up entity key: %w", err)
	}

	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	entity.CreatedAt = time.Now()
	if err := s.db.Store().Upsert(entity.ID, entity); err != nil {
		return nil, false, fmt.Errorf("failed to store entity: %w", err)
	}
	idx = entityKeyIndex{Key: key, EntityID: entity.ID}
	if err := s.db.Store().Upsert(key, &idx); err != nil {
		return nil, false, fmt.Errorf("failed to store entity key index: %w", err)
	}
	return entity, true, nil
}

func (s *EntityStorage) Get(ctx context.Context, id string) (*models.Entity, error) {
	var entity models.Entity
	if err := s.db.Store().Get(id, &entity); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &entity, nil
}

func (s *EntityStorage) GetByKey(ctx context.Context, key string) (*models.Entity, error) {
	var idx entityKeyIndex
	if err := s.db.Store().Get(key, &idx); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up entity key: %w", err)
	}
	return s.Get(ctx, idx.EntityID)
}

func (s *EntityStorage) GetByProject(ctx context.Context, projectID string) ([]*models.Entity, error) {
	var entities []models.Entity
	err := s.db.Store().Find(&entities, badgerhold.Where("ProjectID").Eq(projectID).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get entities by project: %w", err)
	}
	result := make([]*models.Entity, len(entities))
	for i := range entities {
		result[i] = &entities[i]
	}
	return result, nil
}

func (s *EntityStorage) GetOrCreateLink(ctx context.Context, link *models.ExtractionEntity) (bool, error) {
	if link.ExtractionID == "" || link.EntityID == "" {
		return false, fmt.Errorf("link requires extraction_id and entity_id")
	}
	link.ID = models.LinkKey(link.ExtractionID, link.EntityID, link.Role)

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing models.ExtractionEntity
	err := s.db.Store().Get(link.ID, &existing)
	if err == nil {
		return false, nil
	}
	if err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	link.CreatedAt = time.Now()
	if err := s.db.Store().Upsert(link.ID, link); err != nil {
		return false, fmt.Errorf("failed to store link: %w", err)
	}
	return true, nil
}

func (s *EntityStorage) GetLinksByExtraction(ctx context.Context, extractionID string) ([]*models.ExtractionEntity, error) {
	var links []models.ExtractionEntity
	err := s.db.Store().Find(&links, badgerhold.Where("ExtractionID").Eq(extractionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get links by extraction: %w", err)
	}
	return toLinkPtrs(links), nil
}

func (s *EntityStorage) GetLinksByEntity(ctx context.Context, entityID string) ([]*models.ExtractionEntity, error) {
	var links []models.ExtractionEntity
	err := s.db.Store().Find(&links, badgerhold.Where("EntityID").Eq(entityID))
	if err != nil {
		return nil, fmt.Errorf("failed to get links by entity: %w", err)
	}
	return toLinkPtrs(links), nil
}

func (s *EntityStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Entity{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return int(count), nil
}

func toLinkPtrs(links []models.ExtractionEntity) []*models.ExtractionEntity {
	result := make([]*models.ExtractionEntity, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result
}
