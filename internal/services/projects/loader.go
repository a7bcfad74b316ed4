package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// Loader reads project definition files (YAML or JSON, one project per
// file) and upserts them by name. Definitions are the operator's interface;
// a bad file is reported and skipped, never fatal to the rest.
type Loader struct {
	storage interfaces.ProjectStorage
	config  *common.ProjectsConfig
	logger  arbor.ILogger
}

// NewLoader creates a new Loader instance.
func NewLoader(storage interfaces.ProjectStorage, config *common.ProjectsConfig, logger arbor.ILogger) *Loader {
	return &Loader{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// LoadAll syncs every definition in the configured directory. Returns the
// number of projects loaded. A missing directory is not an error.
func (l *Loader) LoadAll(ctx context.Context) (int, error) {
	dir := l.config.DefinitionsDir
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn().Str("dir", dir).Msg("Project definitions directory does not exist")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		project, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Error().Err(err).Str("file", entry.Name()).Msg("Skipping invalid project definition")
			continue
		}
		l.logger.Info().
			Str("project", project.Name).
			Str("file", entry.Name()).
			Int("field_groups", len(project.Schema.FieldGroups)).
			Int("entity_types", len(project.EntityTypes)).
			Msg("Project definition loaded")
		loaded++
	}
	return loaded, nil
}

// LoadFile parses, validates and upserts one definition file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*models.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	project, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return project, l.upsert(ctx, project)
}

// Parse decodes a YAML or JSON project definition. YAML is decoded through
// an intermediate map so the model's JSON tags apply to both formats.
func Parse(data []byte) (*models.Project, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid definition syntax: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("definition is not JSON-representable: %w", err)
	}
	var project models.Project
	if err := json.Unmarshal(encoded, &project); err != nil {
		return nil, fmt.Errorf("definition does not match project structure: %w", err)
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

// upsert stores the project, preserving identity and creation time when a
// project of the same name already exists.
func (l *Loader) upsert(ctx context.Context, project *models.Project) error {
	now := time.Now()
	existing, err := l.storage.GetByName(ctx, project.Name)
	if err == nil {
		project.ID = existing.ID
		project.CreatedAt = existing.CreatedAt
	} else {
		project.ID = common.NewID()
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	if err := l.storage.Store(ctx, project); err != nil {
		return fmt.Errorf("failed to store project %s: %w", project.Name, err)
	}
	return nil
}
