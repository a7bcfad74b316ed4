package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Manager wires every storage concern over one Badger connection.
type Manager struct {
	db *BadgerDB

	projects    interfaces.ProjectStorage
	sources     interfaces.SourceStorage
	extractions interfaces.ExtractionStorage
	entities    interfaces.EntityStorage
	jobs        interfaces.JobStorage
	boilerplate interfaces.BoilerplateStorage
	reports     interfaces.ReportStorage
	kv          interfaces.KVStorage
	vectors     interfaces.VectorStorage

	logger arbor.ILogger
}

// NewManager opens the database and constructs all storages. The vector
// backend may be overridden (postgres); pass nil to use the badger-native
// implementation.
func NewManager(config *common.Config, logger arbor.ILogger, vectors interfaces.VectorStorage) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if vectors == nil {
		vectors = NewVectorStorage(db, logger)
	}
	return &Manager{
		db:          db,
		projects:    NewProjectStorage(db, logger),
		sources:     NewSourceStorage(db, logger),
		extractions: NewExtractionStorage(db, logger),
		entities:    NewEntityStorage(db, logger),
		jobs:        NewJobStorage(db, logger),
		boilerplate: NewBoilerplateStorage(db, logger),
		reports:     NewReportStorage(db, logger),
		kv:          NewKVStorage(db, logger),
		vectors:     vectors,
		logger:      logger,
	}, nil
}

func (m *Manager) Projects() interfaces.ProjectStorage         { return m.projects }
func (m *Manager) Sources() interfaces.SourceStorage           { return m.sources }
func (m *Manager) Extractions() interfaces.ExtractionStorage   { return m.extractions }
func (m *Manager) Entities() interfaces.EntityStorage          { return m.entities }
func (m *Manager) Jobs() interfaces.JobStorage                 { return m.jobs }
func (m *Manager) Boilerplate() interfaces.BoilerplateStorage  { return m.boilerplate }
func (m *Manager) Reports() interfaces.ReportStorage           { return m.reports }
func (m *Manager) KV() interfaces.KVStorage                    { return m.kv }
func (m *Manager) Vectors() interfaces.VectorStorage           { return m.vectors }

// Close shuts down the vector backend first, then the database.
func (m *Manager) Close() error {
	if m.vectors != nil {
		if err := m.vectors.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close vector storage")
		}
	}
	return m.db.Close()
}
