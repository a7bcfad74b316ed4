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

// ProjectStorage implements the ProjectStorage interface for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProjectStorage) Store(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	project.UpdatedAt = time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = project.UpdatedAt
	}
	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("failed to store project: %w", err)
	}
	return nil
}

func (s *ProjectStorage) Get(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	if err := s.db.Store().Get(id, &project); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

func (s *ProjectStorage) GetByName(ctx context.Context, name string) (*models.Project, error) {
	var projects []models.Project
	err := s.db.Store().Find(&projects, badgerhold.Where("Name").Eq(name).And("Deleted").Eq(false))
	if err != nil {
		return nil, fmt.Errorf("failed to find project by name: %w", err)
	}
	if len(projects) == 0 {
		return nil, interfaces.ErrProjectNotFound
	}
	return &projects[0], nil
}

func (s *ProjectStorage) List(ctx context.Context, includeDeleted bool) ([]*models.Project, error) {
	query := badgerhold.Where("ID").Ne("")
	if !includeDeleted {
		query = query.And("Deleted").Eq(false)
	}
	var projects []models.Project
	if err := s.db.Store().Find(&projects, query.SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	result := make([]*models.Project, len(projects))
	for i := range projects {
		result[i] = &projects[i]
	}
	return result, nil
}

func (s *ProjectStorage) SoftDelete(ctx context.Context, id string) error {
	project, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	project.Deleted = true
	project.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("failed to soft delete project: %w", err)
	}
	s.logger.Info().Str("project_id", id).Msg("Project marked deleted")
	return nil
}

func (s *ProjectStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Project{}, badgerhold.Where("Deleted").Eq(false))
	if err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return int(count), nil
}
