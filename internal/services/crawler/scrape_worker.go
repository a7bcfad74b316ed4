package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ScrapeWorker handles scrape jobs: fetch one URL and upsert the source row.
// Refetching the same URL overwrites content and resets the source to
// pending so the next extract pass picks it up.
type ScrapeWorker struct {
	fetcher interfaces.Fetcher
	sources interfaces.SourceStorage
	jobs    interfaces.JobStorage
	config  *common.CrawlConfig
	logger  arbor.ILogger
}

// NewScrapeWorker creates a new ScrapeWorker instance.
func NewScrapeWorker(fetcher interfaces.Fetcher, sources interfaces.SourceStorage, jobs interfaces.JobStorage, config *common.CrawlConfig, logger arbor.ILogger) *ScrapeWorker {
	return &ScrapeWorker{
		fetcher: fetcher,
		sources: sources,
		jobs:    jobs,
		config:  config,
		logger:  logger,
	}
}

// HandleScrapeJob is the job-queue entry point. Payload: project_id, url,
// and optional source_group.
func (w *ScrapeWorker) HandleScrapeJob(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
	projectID, ok := job.PayloadString("project_id")
	if !ok {
		return nil, fmt.Errorf("scrape job %s: payload missing project_id", job.ID)
	}
	url, ok := job.PayloadString("url")
	if !ok {
		return nil, fmt.Errorf("scrape job %s: payload missing url", job.ID)
	}
	sourceGroup, _ := job.PayloadString("source_group")

	if cancelled != nil && cancelled(ctx) {
		return nil, context.Canceled
	}

	result, err := w.fetcher.Scrape(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("scrape job %s: %w", job.ID, err)
	}

	source, err := w.storeResult(ctx, projectID, sourceGroup, result)
	if err != nil {
		return nil, err
	}

	if w.config.AutoExtract {
		w.enqueueExtract(ctx, projectID, source.ID)
	}

	return map[string]interface{}{
		"source_id": source.ID,
		"url":       url,
		"bytes":     len(result.Markdown),
	}, nil
}

// storeResult upserts the source row for a fetched page.
func (w *ScrapeWorker) storeResult(ctx context.Context, projectID, sourceGroup string, result *interfaces.ScrapeResult) (*models.Source, error) {
	now := time.Now()
	source := &models.Source{
		ID:          common.SourceID(projectID, result.URL),
		ProjectID:   projectID,
		URI:         result.URL,
		SourceGroup: sourceGroup,
		Title:       result.Title,
		Content:     result.Markdown,
		Metadata:    result.Metadata,
		Status:      models.SourceStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := w.sources.Get(ctx, source.ID); err == nil {
		source.CreatedAt = existing.CreatedAt
		if sourceGroup == "" {
			source.SourceGroup = existing.SourceGroup
		}
	}
	if err := w.sources.Store(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to store source: %w", err)
	}
	w.logger.Info().
		Str("source_id", source.ID).
		Str("url", result.URL).
		Int("bytes", len(result.Markdown)).
		Msg("Source stored")
	return source, nil
}

func (w *ScrapeWorker) enqueueExtract(ctx context.Context, projectID, sourceID string) {
	job := models.NewJob(models.JobTypeExtract, map[string]interface{}{
		"project_id": projectID,
		"source_id":  sourceID,
	}, 0)
	if err := w.jobs.Enqueue(ctx, job); err != nil {
		w.logger.Warn().Err(err).Str("source_id", sourceID).Msg("Failed to enqueue auto-extract job")
		return
	}
	w.logger.Debug().Str("job_id", job.ID).Str("source_id", sourceID).Msg("Auto-extract job enqueued")
}
