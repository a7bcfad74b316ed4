package interfaces

import (
	"context"
	"time"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ProjectStorage - interface for project definition persistence
type ProjectStorage interface {
	Store(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	List(ctx context.Context, includeDeleted bool) ([]*models.Project, error)
	// SoftDelete marks a project deleted; its data stays addressable.
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SourceStorage - interface for scraped source persistence
type SourceStorage interface {
	Store(ctx context.Context, source *models.Source) error
	Get(ctx context.Context, id string) (*models.Source, error)
	GetByProject(ctx context.Context, projectID string) ([]*models.Source, error)
	GetByProjectAndStatus(ctx context.Context, projectID string, status models.SourceStatus) ([]*models.Source, error)
	GetByProjectAndDomain(ctx context.Context, projectID, domain string) ([]*models.Source, error)
	UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error
	SetCleanedContent(ctx context.Context, id string, cleaned string) error
	Count(ctx context.Context) (int, error)
	CountByProject(ctx context.Context, projectID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// ExtractionStorage - interface for extraction result persistence
type ExtractionStorage interface {
	Store(ctx context.Context, extraction *models.Extraction) error
	StoreBatch(ctx context.Context, extractions []*models.Extraction) error
	Get(ctx context.Context, id string) (*models.Extraction, error)
	GetBySource(ctx context.Context, sourceID string) ([]*models.Extraction, error)
	GetByProject(ctx context.Context, projectID string) ([]*models.Extraction, error)
	// GetOrphaned returns extractions with no embedding point, oldest first.
	GetOrphaned(ctx context.Context, limit int) ([]*models.Extraction, error)
	// GetEntityPending returns extractions whose entity pass has not
	// completed, oldest first.
	GetEntityPending(ctx context.Context, limit int) ([]*models.Extraction, error)
	SetEmbeddingID(ctx context.Context, id string, embeddingID string) error
	SetEntitiesExtracted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
	Count(ctx context.Context) (int, error)
	CountByProject(ctx context.Context, projectID string) (int, error)
}

// EntityStorage - interface for the entity registry
type EntityStorage interface {
	// GetOrCreate resolves an entity by its composite key, creating it when
	// absent. Returns the entity and whether it was created.
	GetOrCreate(ctx context.Context, entity *models.Entity) (*models.Entity, bool, error)
	Get(ctx context.Context, id string) (*models.Entity, error)
	GetByKey(ctx context.Context, key string) (*models.Entity, error)
	GetByProject(ctx context.Context, projectID string) ([]*models.Entity, error)
	// GetOrCreateLink records an extraction->entity association, idempotent
	// on the link key.
	GetOrCreateLink(ctx context.Context, link *models.ExtractionEntity) (bool, error)
	GetLinksByExtraction(ctx context.Context, extractionID string) ([]*models.ExtractionEntity, error)
	GetLinksByEntity(ctx context.Context, entityID string) ([]*models.ExtractionEntity, error)
	Count(ctx context.Context) (int, error)
}

// JobStorage - interface for the shared job queue
type JobStorage interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, jobType models.JobType, status models.JobStatus, limit int) ([]*models.Job, error)

	// ClaimNext atomically claims the oldest queued job of the given type,
	// moving it to running with a fresh heartbeat. Returns ErrJobNotFound
	// when nothing is queued.
	ClaimNext(ctx context.Context, jobType models.JobType, claimantID string) (*models.Job, error)

	// Heartbeat refreshes the liveness marker of a running job and reports
	// whether cancellation has been requested.
	Heartbeat(ctx context.Context, id string) (cancelRequested bool, err error)

	// RequestCancel flags a job for cooperative cancellation. Queued jobs
	// move straight to cancelled; running jobs move to cancelling.
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)

	Complete(ctx context.Context, id string, result map[string]interface{}) error
	Fail(ctx context.Context, id string, errMsg string) error
	// MarkCancelled finalizes a cancelled job, keeping whatever partial
	// result the handler accumulated before it stopped.
	MarkCancelled(ctx context.Context, id string, partialResult map[string]interface{}) error

	// RequeueStale returns running jobs of the given type whose heartbeat is
	// older than the threshold to queued status.
	RequeueStale(ctx context.Context, jobType models.JobType, threshold time.Duration) ([]*models.Job, error)

	CountByStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) (int, error)
	Delete(ctx context.Context, id string) error
}

// BoilerplateStorage - interface for per-domain boilerplate fingerprints
type BoilerplateStorage interface {
	Store(ctx context.Context, bp *models.DomainBoilerplate) error
	Get(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error)
	GetByProject(ctx context.Context, projectID string) ([]*models.DomainBoilerplate, error)
	Delete(ctx context.Context, projectID, domain string) error
}

// ReportStorage - interface for generated report persistence
type ReportStorage interface {
	Store(ctx context.Context, report *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	GetByProject(ctx context.Context, projectID string) ([]*models.Report, error)
}

// StreamEntry is one message read from a KV stream.
type StreamEntry struct {
	ID        string
	Value     []byte
	Delivered int // delivery attempts, 1 on first read
}

// KVStorage - interface for transient coordination state: streams with
// consumer groups, TTL response keys, lists and counters.
type KVStorage interface {
	// Stream operations.
	StreamAdd(ctx context.Context, stream string, value []byte, maxLen int) (string, error)
	StreamLen(ctx context.Context, stream string) (int, error)
	// StreamReadGroup delivers up to count undelivered entries to the named
	// consumer group, marking them pending.
	StreamReadGroup(ctx context.Context, stream, group, consumer string, count int) ([]StreamEntry, error)
	StreamAck(ctx context.Context, stream, group, id string) error
	// StreamReclaim re-delivers pending entries idle longer than minIdle.
	StreamReclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]StreamEntry, error)

	// TTL key operations.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// List operations (dead letter queues).
	ListPush(ctx context.Context, key string, value []byte) error
	ListRange(ctx context.Context, key string, limit int) ([][]byte, error)
	ListLen(ctx context.Context, key string) (int, error)

	// Counter operations (daily rate budgets). The counter expires at the
	// given TTL from first increment.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
}

// StorageManager - composite access to every storage concern plus lifecycle
type StorageManager interface {
	Projects() ProjectStorage
	Sources() SourceStorage
	Extractions() ExtractionStorage
	Entities() EntityStorage
	Jobs() JobStorage
	Boilerplate() BoilerplateStorage
	Reports() ReportStorage
	KV() KVStorage
	Vectors() VectorStorage
	Close() error
}
