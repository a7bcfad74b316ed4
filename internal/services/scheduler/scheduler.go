package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// JobHandler executes one claimed job. The cancelled callback reports
// cooperative cancellation; handlers are expected to call it at their
// checkpoints and return context.Canceled when it fires, alongside whatever
// partial counters they accumulated. The returned map becomes the job
// result in every terminal state.
type JobHandler func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error)

// heartbeatInterval is how often a running job refreshes its liveness
// marker. Must be well under the smallest stale threshold.
const heartbeatInterval = 30 * time.Second

// Scheduler polls the job queue per type, claims work into bounded slots,
// keeps heartbeats fresh and requeues jobs whose claimant died.
type Scheduler struct {
	jobs       interfaces.JobStorage
	config     *common.SchedulerConfig
	logger     arbor.ILogger
	instanceID string

	handlers map[models.JobType]JobHandler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(jobs interfaces.JobStorage, config *common.SchedulerConfig, instanceID string, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		config:     config,
		logger:     logger,
		instanceID: instanceID,
		handlers:   make(map[models.JobType]JobHandler),
	}
}

// Register installs the handler for a job type. Must be called before Start.
func (s *Scheduler) Register(jobType models.JobType, handler JobHandler) {
	s.handlers[jobType] = handler
}

// Start launches one poll loop per worker slot per registered type, plus the
// stale-job reclaimer.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.handlers) == 0 {
		return fmt.Errorf("scheduler started with no registered handlers")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for jobType, handler := range s.handlers {
		slots := s.config.ConcurrencyFor(string(jobType))
		if slots <= 0 {
			slots = 1
		}
		for slot := 0; slot < slots; slot++ {
			s.wg.Add(1)
			go func(jobType models.JobType, handler JobHandler, slot int) {
				defer s.wg.Done()
				s.pollLoop(runCtx, jobType, handler, slot)
			}(jobType, handler, slot)
		}
		s.logger.Info().
			Str("type", string(jobType)).
			Int("slots", slots).
			Msg("Job poll loop started")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reclaimLoop(runCtx)
	}()
	return nil
}

// Stop signals every loop and waits for running jobs to finish their current
// iteration.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context, jobType models.JobType, handler JobHandler, slot int) {
	pollInterval := s.config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	claimant := fmt.Sprintf("%s:%s:%d", s.instanceID, jobType, slot)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain the queue before going back to sleep.
		for {
			job, err := s.jobs.ClaimNext(ctx, jobType, claimant)
			if errors.Is(err, interfaces.ErrJobNotFound) {
				break
			}
			if err != nil {
				s.logger.Error().Err(err).Str("type", string(jobType)).Msg("Failed to claim job")
				break
			}
			s.runJob(ctx, job, handler)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// runJob executes one claimed job under a heartbeat. Cancellation observed
// through the heartbeat flips the cancelled flag the handler polls.
func (s *Scheduler) runJob(ctx context.Context, job *models.Job, handler JobHandler) {
	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Msg("Job started")

	var cancelRequested atomic.Bool
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
			}
			cancelled, err := s.jobs.Heartbeat(heartbeatCtx, job.ID)
			if err != nil {
				// The job was reclaimed or finished elsewhere; stop touching it.
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Heartbeat rejected, abandoning job")
				cancelRequested.Store(true)
				return
			}
			if cancelled {
				cancelRequested.Store(true)
			}
		}
	}()

	cancelled := func(checkCtx context.Context) bool {
		return checkCtx.Err() != nil || cancelRequested.Load()
	}

	start := time.Now()
	result, err := handler(ctx, job, cancelled)
	stopHeartbeat()
	heartbeatWG.Wait()

	elapsed := time.Since(start)
	switch {
	case errors.Is(err, context.Canceled):
		if markErr := s.jobs.MarkCancelled(ctx, job.ID, result); markErr != nil {
			s.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("Failed to mark job cancelled")
		}
		s.logger.Info().Str("job_id", job.ID).Dur("elapsed", elapsed).Msg("Job cancelled")
	case err != nil:
		if failErr := s.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			s.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to mark job failed")
		}
		s.logger.Warn().Err(err).Str("job_id", job.ID).Dur("elapsed", elapsed).Msg("Job failed")
	default:
		if completeErr := s.jobs.Complete(ctx, job.ID, result); completeErr != nil {
			s.logger.Error().Err(completeErr).Str("job_id", job.ID).Msg("Failed to mark job complete")
		}
		s.logger.Info().Str("job_id", job.ID).Dur("elapsed", elapsed).Msg("Job completed")
	}
}

// reclaimLoop periodically requeues running jobs whose heartbeat went stale
// past the per-type threshold.
func (s *Scheduler) reclaimLoop(ctx context.Context) {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	// Reclaim checks are cheap but not free; run them an order of magnitude
	// less often than the claim polls.
	interval *= 12

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.ReclaimStale(ctx)
	}
}

// ReclaimStale runs one requeue pass across every job type.
func (s *Scheduler) ReclaimStale(ctx context.Context) {
	for _, jobType := range models.AllJobTypes {
		threshold := s.config.StaleThresholdFor(string(jobType))
		if threshold <= 0 {
			continue
		}
		requeued, err := s.jobs.RequeueStale(ctx, jobType, threshold)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(jobType)).Msg("Stale job reclaim failed")
			continue
		}
		for _, job := range requeued {
			s.logger.Warn().
				Str("job_id", job.ID).
				Str("type", string(job.Type)).
				Msg("Requeued stale job")
		}
	}
}
