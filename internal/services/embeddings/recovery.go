package embeddings

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Recovery periodically sweeps extractions whose embedding never landed and
// pushes them back through the pipeline.
type Recovery struct {
	pipeline    *Pipeline
	extractions interfaces.ExtractionStorage
	config      *common.EmbeddingsConfig
	logger      arbor.ILogger
	cron        *cron.Cron
}

// NewRecovery creates a new Recovery instance.
func NewRecovery(pipeline *Pipeline, extractions interfaces.ExtractionStorage, config *common.EmbeddingsConfig, logger arbor.ILogger) *Recovery {
	return &Recovery{
		pipeline:    pipeline,
		extractions: extractions,
		config:      config,
		logger:      logger,
	}
}

// Start schedules the sweep.
func (r *Recovery) Start(ctx context.Context) error {
	schedule := r.config.RecoverySchedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Orphan recovery sweep failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info().Str("schedule", schedule).Msg("Embedding recovery sweep scheduled")
	return nil
}

// Stop halts the scheduler, waiting for a running sweep.
func (r *Recovery) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep embeds one batch of orphaned extractions, oldest first.
func (r *Recovery) Sweep(ctx context.Context) error {
	batchSize := r.config.RecoveryBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	orphans, err := r.extractions.GetOrphaned(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	embedded, failed, err := r.pipeline.EmbedExtractions(ctx, orphans)
	r.logger.Info().
		Int("orphans", len(orphans)).
		Int("embedded", embedded).
		Int("failed", failed).
		Msg("Orphan recovery sweep finished")
	return err
}
