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

// CrawlWorker handles crawl jobs: start a site crawl, poll its progress,
// persist pages as they arrive and optionally hand the project off to
// extraction when the crawl finishes.
type CrawlWorker struct {
	fetcher interfaces.Fetcher
	sources interfaces.SourceStorage
	jobs    interfaces.JobStorage
	broker  interfaces.LMBroker
	config  *common.CrawlConfig
	logger  arbor.ILogger
}

// NewCrawlWorker creates a new CrawlWorker instance. The broker is optional
// and only used to defer polling under LM backpressure.
func NewCrawlWorker(fetcher interfaces.Fetcher, sources interfaces.SourceStorage, jobs interfaces.JobStorage, broker interfaces.LMBroker, config *common.CrawlConfig, logger arbor.ILogger) *CrawlWorker {
	return &CrawlWorker{
		fetcher: fetcher,
		sources: sources,
		jobs:    jobs,
		broker:  broker,
		config:  config,
		logger:  logger,
	}
}

// HandleCrawlJob is the job-queue entry point. Payload: project_id, url,
// optional source_group, max_pages and max_depth.
func (w *CrawlWorker) HandleCrawlJob(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
	projectID, ok := job.PayloadString("project_id")
	if !ok {
		return nil, fmt.Errorf("crawl job %s: payload missing project_id", job.ID)
	}
	url, ok := job.PayloadString("url")
	if !ok {
		return nil, fmt.Errorf("crawl job %s: payload missing url", job.ID)
	}
	sourceGroup, _ := job.PayloadString("source_group")
	maxPages, _ := job.PayloadInt("max_pages")
	maxDepth, _ := job.PayloadInt("max_depth")

	crawlID, err := w.fetcher.StartCrawl(ctx, url, maxPages, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("crawl job %s: %w", job.ID, err)
	}

	pollInterval := w.config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	persisted := 0
	var sourceIDs []string
	for {
		if cancelled != nil && cancelled(ctx) {
			if cancelErr := w.fetcher.CancelCrawl(ctx, crawlID); cancelErr != nil {
				w.logger.Warn().Err(cancelErr).Str("crawl_id", crawlID).Msg("Failed to cancel crawl")
			}
			// Pages persisted so far stay recorded as the partial result.
			return map[string]interface{}{
				"crawl_id": crawlID,
				"pages":    persisted,
				"sources":  len(sourceIDs),
			}, context.Canceled
		}

		status, err := w.fetcher.GetCrawlStatus(ctx, crawlID)
		if err != nil {
			return nil, fmt.Errorf("crawl job %s: %w", job.ID, err)
		}

		// Persist pages incrementally; a dead crawl still keeps what landed.
		for persisted < len(status.Pages) {
			page := status.Pages[persisted]
			sourceID, err := w.storePage(ctx, projectID, sourceGroup, &page)
			if err != nil {
				w.logger.Warn().Err(err).Str("url", page.URL).Msg("Failed to persist crawled page")
			} else {
				sourceIDs = append(sourceIDs, sourceID)
			}
			persisted++
		}

		if status.State == "failed" {
			return nil, fmt.Errorf("crawl job %s: crawl failed: %s", job.ID, status.Error)
		}
		if status.State == "completed" {
			if status.PageCount == 0 {
				// A reachable site with nothing to fetch is success, not
				// failure, but the operator should see it.
				w.logger.Warn().
					Str("crawl_id", crawlID).
					Str("url", url).
					Msg("Crawl completed with zero pages")
			}
			break
		}

		w.waitPoll(ctx, pollInterval)
	}

	if w.config.AutoExtract && len(sourceIDs) > 0 {
		extractJob := models.NewJob(models.JobTypeExtract, map[string]interface{}{
			"project_id": projectID,
		}, 0)
		if err := w.jobs.Enqueue(ctx, extractJob); err != nil {
			w.logger.Warn().Err(err).Str("project_id", projectID).Msg("Failed to enqueue auto-extract job")
		} else {
			w.logger.Info().Str("job_id", extractJob.ID).Str("project_id", projectID).Msg("Auto-extract job enqueued")
		}
	}

	return map[string]interface{}{
		"crawl_id": crawlID,
		"pages":    persisted,
		"sources":  len(sourceIDs),
	}, nil
}

// waitPoll sleeps until the next status poll, stretching the interval while
// the LM queue is saturated so crawling does not pile more work onto a
// backlogged extractor.
func (w *CrawlWorker) waitPoll(ctx context.Context, interval time.Duration) {
	if w.broker != nil {
		if level, depth, err := w.broker.BackpressureStatus(ctx); err == nil && level == interfaces.BackpressureFull {
			w.logger.Debug().Int("depth", depth).Msg("LM queue full, deferring crawl poll")
			interval *= 4
		}
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}

func (w *CrawlWorker) storePage(ctx context.Context, projectID, sourceGroup string, page *interfaces.ScrapeResult) (string, error) {
	now := time.Now()
	source := &models.Source{
		ID:          common.SourceID(projectID, page.URL),
		ProjectID:   projectID,
		URI:         page.URL,
		SourceGroup: sourceGroup,
		Title:       page.Title,
		Content:     page.Markdown,
		Metadata:    page.Metadata,
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
		return "", err
	}
	return source.ID, nil
}
