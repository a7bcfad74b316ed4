package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

func newTestScheduler(t *testing.T) (*Scheduler, interfaces.JobStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, logger)
	config := &common.SchedulerConfig{
		PollInterval:          20 * time.Millisecond,
		ExtractConcurrency:    2,
		ReportConcurrency:     1,
		ExtractStaleThreshold: time.Minute,
	}
	return NewScheduler(jobs, config, "test-instance", logger), jobs
}

func waitForStatus(t *testing.T, jobs interfaces.JobStorage, id string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := jobs.Get(context.Background(), id)
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, job.Status)
	return nil
}

func TestSchedulerRunsJobToCompletion(t *testing.T) {
	s, jobs := newTestScheduler(t)
	ctx := context.Background()

	s.Register(models.JobTypeExtract, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		return map[string]interface{}{"done": true}, nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	job := models.NewJob(models.JobTypeExtract, map[string]interface{}{"project_id": "p1"}, 0)
	if err := jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	finished := waitForStatus(t, jobs, job.ID, models.JobStatusCompleted)
	if finished.Result["done"] != true {
		t.Fatalf("result not recorded: %v", finished.Result)
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	s, jobs := newTestScheduler(t)
	ctx := context.Background()

	s.Register(models.JobTypeExtract, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		return nil, context.DeadlineExceeded
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	job := models.NewJob(models.JobTypeExtract, nil, 0)
	if err := jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	failed := waitForStatus(t, jobs, job.ID, models.JobStatusFailed)
	if failed.Error == "" {
		t.Fatal("expected error message on failed job")
	}
}

func TestSchedulerCooperativeCancel(t *testing.T) {
	s, jobs := newTestScheduler(t)
	ctx := context.Background()

	started := make(chan string, 1)
	s.Register(models.JobTypeExtract, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		started <- job.ID
		for i := 0; i < 500; i++ {
			// The scheduler's heartbeat only fires every 30s, so poll the
			// queue directly the way a long-running handler checkpoint would.
			if requested, err := jobs.IsCancelRequested(ctx, job.ID); err == nil && requested {
				return map[string]interface{}{"chunks_processed": 3}, context.Canceled
			}
			time.Sleep(10 * time.Millisecond)
		}
		return map[string]interface{}{}, nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	job := models.NewJob(models.JobTypeExtract, nil, 0)
	if err := jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	id := <-started
	if err := jobs.RequestCancel(ctx, id); err != nil {
		t.Fatalf("failed to request cancel: %v", err)
	}
	finished := waitForStatus(t, jobs, id, models.JobStatusCancelled)
	if finished.Result["chunks_processed"] != 3 {
		t.Fatalf("cancelled job should keep the handler's partial result, got %v", finished.Result)
	}
}

func TestSchedulerHonorsPerTypeHandlers(t *testing.T) {
	s, jobs := newTestScheduler(t)
	ctx := context.Background()

	extractRan := make(chan struct{}, 1)
	reportRan := make(chan struct{}, 1)
	s.Register(models.JobTypeExtract, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		extractRan <- struct{}{}
		return nil, nil
	})
	s.Register(models.JobTypeReport, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		reportRan <- struct{}{}
		return nil, nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	extractJob := models.NewJob(models.JobTypeExtract, nil, 0)
	reportJob := models.NewJob(models.JobTypeReport, nil, 0)
	if err := jobs.Enqueue(ctx, extractJob); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if err := jobs.Enqueue(ctx, reportJob); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-extractRan:
		case <-reportRan:
		case <-time.After(5 * time.Second):
			t.Fatal("handlers did not both run")
		}
	}
}

func TestSchedulerStartWithoutHandlers(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("expected error starting with no handlers")
	}
}
