package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// claimMu serializes ClaimNext and RequeueStale so two pollers can never
	// move the same job to running. The equivalent of row locking for a
	// single-process embedded store.
	claimMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.logger.Debug().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Job enqueued")
	return nil
}

func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) List(ctx context.Context, jobType models.JobType, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")
	if jobType != "" {
		query = query.And("Type").Eq(jobType)
	}
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toJobPtrs(jobs), nil
}

// ClaimNext claims the highest-priority, oldest queued job of the type.
// The whole read-modify-write runs under claimMu so a job is handed to at
// most one worker.
func (s *JobStorage) ClaimNext(ctx context.Context, jobType models.JobType, claimantID string) (*models.Job, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var jobs []models.Job
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Type").Eq(jobType).
			And("Status").Eq(models.JobStatusQueued).
			SortBy("Priority", "CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrJobNotFound
	}

	// SortBy is ascending on both fields; highest priority wins, then FIFO.
	best := 0
	for i := 1; i < len(jobs); i++ {
		if jobs[i].Priority > jobs[best].Priority ||
			(jobs[i].Priority == jobs[best].Priority && jobs[i].CreatedAt.Before(jobs[best].CreatedAt)) {
			best = i
		}
	}
	job := jobs[best]

	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.LastHeartbeatAt = &now
	job.ClaimantID = claimantID
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) Heartbeat(ctx context.Context, id string) (bool, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusRunning && job.Status != models.JobStatusCancelling {
		return false, interfaces.ErrNotClaimable
	}
	now := time.Now()
	job.LastHeartbeatAt = &now
	job.UpdatedAt = now
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return false, fmt.Errorf("failed to heartbeat job: %w", err)
	}
	return job.CancellationRequested, nil
}

func (s *JobStorage) RequestCancel(ctx context.Context, id string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	now := time.Now()
	job.CancellationRequested = true
	switch job.Status {
	case models.JobStatusQueued:
		// Never claimed, nothing to wind down.
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
	case models.JobStatusRunning:
		job.Status = models.JobStatusCancelling
	}
	job.UpdatedAt = now
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	s.logger.Info().Str("job_id", id).Str("status", string(job.Status)).Msg("Cancellation requested")
	return nil
}

func (s *JobStorage) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CancellationRequested, nil
}

func (s *JobStorage) Complete(ctx context.Context, id string, result map[string]interface{}) error {
	return s.finish(ctx, id, models.JobStatusCompleted, result, "")
}

func (s *JobStorage) Fail(ctx context.Context, id string, errMsg string) error {
	return s.finish(ctx, id, models.JobStatusFailed, nil, errMsg)
}

func (s *JobStorage) MarkCancelled(ctx context.Context, id string, partialResult map[string]interface{}) error {
	return s.finish(ctx, id, models.JobStatusCancelled, partialResult, "")
}

func (s *JobStorage) finish(ctx context.Context, id string, status models.JobStatus, result map[string]interface{}, errMsg string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		// Late writer lost the race with a reclaim or cancel, keep the first
		// terminal state.
		s.logger.Warn().Str("job_id", id).Str("status", string(job.Status)).Msg("Ignoring finish on terminal job")
		return nil
	}
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.UpdatedAt = now
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// RequeueStale moves running jobs with heartbeats older than threshold back
// to queued. Cancelling jobs past the threshold go to cancelled instead,
// since the claimant that would have acknowledged is gone.
func (s *JobStorage) RequeueStale(ctx context.Context, jobType models.JobType, threshold time.Duration) ([]*models.Job, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var jobs []models.Job
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Type").Eq(jobType).
			And("Status").In(models.JobStatusRunning, models.JobStatusCancelling))
	if err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}

	var requeued []*models.Job
	now := time.Now()
	for i := range jobs {
		job := jobs[i]
		last := job.CreatedAt
		if job.LastHeartbeatAt != nil {
			last = *job.LastHeartbeatAt
		}
		if !last.Before(cutoff) {
			continue
		}
		prevClaimant := job.ClaimantID
		if job.Status == models.JobStatusCancelling {
			job.Status = models.JobStatusCancelled
			job.CompletedAt = &now
		} else {
			job.Status = models.JobStatusQueued
			job.StartedAt = nil
			job.LastHeartbeatAt = nil
			job.ClaimantID = ""
		}
		job.UpdatedAt = now
		if err := s.db.Store().Upsert(job.ID, &job); err != nil {
			return requeued, fmt.Errorf("failed to requeue stale job %s: %w", job.ID, err)
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("type", string(job.Type)).
			Str("claimant", prevClaimant).
			Str("new_status", string(job.Status)).
			Msg("Reclaimed stale job")
		requeued = append(requeued, &job)
	}
	return requeued, nil
}

func (s *JobStorage) CountByStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) (int, error) {
	query := badgerhold.Where("Status").Eq(status)
	if jobType != "" {
		query = query.And("Type").Eq(jobType)
	}
	count, err := s.db.Store().Count(&models.Job{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// Delete removes a job record. Only terminal jobs can be deleted; a queued
// or running job must be cancelled first.
func (s *JobStorage) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("job %s is %s, only terminal jobs can be deleted", id, job.Status)
	}
	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func toJobPtrs(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
