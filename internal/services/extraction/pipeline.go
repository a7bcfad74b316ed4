package extraction

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/boilerplate"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embeddings"
)

// SourceResult summarizes one source's trip through the pipeline.
type SourceResult struct {
	SourceID    string `json:"source_id"`
	Skipped     bool   `json:"skipped"`
	Extractions int    `json:"extractions"`
	Duplicates  int    `json:"duplicates"`
	Embedded    int    `json:"embedded"`
	EmbedFailed int    `json:"embed_failed"`
}

// Pipeline drives a source from raw content to stored, embedded and
// entity-linked extractions. Each stage degrades independently: a failed
// embedding or entity pass never loses the extraction rows.
type Pipeline struct {
	storage      interfaces.StorageManager
	orchestrator *Orchestrator
	boilerplate  *boilerplate.Engine
	dedup        *Deduplicator
	embeddings   *embeddings.Pipeline
	entities     *EntityExtractor
	config       *common.Config
	logger       arbor.ILogger
}

// NewPipeline creates a new Pipeline instance.
func NewPipeline(
	storage interfaces.StorageManager,
	orchestrator *Orchestrator,
	bp *boilerplate.Engine,
	dedup *Deduplicator,
	emb *embeddings.Pipeline,
	entities *EntityExtractor,
	config *common.Config,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		storage:      storage,
		orchestrator: orchestrator,
		boilerplate:  bp,
		dedup:        dedup,
		embeddings:   emb,
		entities:     entities,
		config:       config,
		logger:       logger,
	}
}

// ProcessSource runs the full per-source flow. The source ends in status
// extracted or failed; a skip is extracted with zero extractions.
func (p *Pipeline) ProcessSource(ctx context.Context, project *models.Project, source *models.Source, cancelled CancelCheck) (*SourceResult, error) {
	result := &SourceResult{SourceID: source.ID}

	if source.Content == "" {
		if err := p.storage.Sources().UpdateStatus(ctx, source.ID, models.SourceStatusFailed, "source has no content"); err != nil {
			return nil, err
		}
		return result, fmt.Errorf("source %s has no content", source.ID)
	}

	if p.shouldSkip(project, source) {
		result.Skipped = true
		p.logger.Info().
			Str("source_id", source.ID).
			Str("uri", source.URI).
			Msg("Source matches skip pattern, marking extracted without extraction")
		return result, p.storage.Sources().UpdateStatus(ctx, source.ID, models.SourceStatusExtracted, "")
	}

	classifierContent := p.cleanForClassifier(ctx, source)

	extractions, err := p.orchestrator.ExtractSource(ctx, project, source, classifierContent, cancelled)
	if errors.Is(err, context.Canceled) {
		return result, err
	}
	if err != nil {
		return result, err
	}

	if p.dedup != nil {
		var dropped int
		extractions, dropped = p.dedup.FilterNew(ctx, extractions)
		result.Duplicates = dropped
	}

	// Commit checkpoint: a cancellation past this point completes the job.
	if cancelled != nil && cancelled(ctx) {
		return result, context.Canceled
	}

	nonEmpty := 0
	for _, e := range extractions {
		if !e.IsEmpty() {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		if err := p.storage.Sources().UpdateStatus(ctx, source.ID, models.SourceStatusFailed, "no extractions produced"); err != nil {
			return result, err
		}
		return result, fmt.Errorf("source %s: no extractions produced", source.ID)
	}

	if err := p.storage.Extractions().StoreBatch(ctx, extractions); err != nil {
		return result, fmt.Errorf("failed to store extractions: %w", err)
	}
	result.Extractions = len(extractions)

	if p.embeddings != nil {
		embedded, failed, err := p.embeddings.EmbedExtractions(ctx, extractions)
		result.Embedded = embedded
		result.EmbedFailed = failed
		if err != nil {
			// Rows stay as orphans; the recovery sweep embeds them later.
			p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Embedding failed, rows left for recovery")
		}
	}

	if p.entities != nil {
		for _, extraction := range extractions {
			if err := p.entities.ExtractEntities(ctx, project, extraction); err != nil {
				p.logger.Warn().Err(err).Str("extraction_id", extraction.ID).Msg("Entity pass failed, retry sweep will pick it up")
			}
		}
	}

	if err := p.storage.Sources().UpdateStatus(ctx, source.ID, models.SourceStatusExtracted, ""); err != nil {
		return result, err
	}
	p.logger.Info().
		Str("source_id", source.ID).
		Int("extractions", result.Extractions).
		Int("duplicates", result.Duplicates).
		Int("embedded", result.Embedded).
		Msg("Source extracted")
	return result, nil
}

// cleanForClassifier produces the dedup-cleaned text the classifier scores
// against, persisting it on the source row. Any failure falls back to raw
// content.
func (p *Pipeline) cleanForClassifier(ctx context.Context, source *models.Source) string {
	if !p.config.Boilerplate.Enabled || p.boilerplate == nil {
		return source.ExtractionContent()
	}
	domain := source.Domain()
	if domain == "" {
		return source.ExtractionContent()
	}
	cleaned, removed, err := p.boilerplate.Strip(ctx, source.ProjectID, domain, source.Content)
	if err != nil {
		p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Boilerplate strip failed, using raw content")
		return source.ExtractionContent()
	}
	if removed > 0 {
		if err := p.storage.Sources().SetCleanedContent(ctx, source.ID, cleaned); err != nil {
			p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Failed to persist cleaned content")
		}
		p.logger.Debug().
			Str("source_id", source.ID).
			Int("bytes_removed", removed).
			Msg("Stripped domain boilerplate")
	}
	return cleaned
}

// shouldSkip applies the project's rule-based skip patterns. An invalid
// pattern is logged and ignored rather than blocking the source.
func (p *Pipeline) shouldSkip(project *models.Project, source *models.Source) bool {
	if !p.config.Extraction.SkipPatternsEnabled {
		return false
	}
	for _, pattern := range project.SkipURLPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			p.logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalid skip URL pattern")
			continue
		}
		if re.MatchString(source.URI) {
			return true
		}
	}
	for _, pattern := range project.SkipContentPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			p.logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalid skip content pattern")
			continue
		}
		if re.MatchString(source.Content) {
			return true
		}
	}
	return false
}

// HandleExtractJob is the job-queue entry point for extract jobs. Payload:
// project_id plus either source_id (one source) or nothing (every pending
// source in the project).
func (p *Pipeline) HandleExtractJob(ctx context.Context, job *models.Job, cancelled CancelCheck) (map[string]interface{}, error) {
	projectID, ok := job.PayloadString("project_id")
	if !ok {
		return nil, fmt.Errorf("extract job %s: payload missing project_id", job.ID)
	}
	project, err := p.storage.Projects().Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("extract job %s: %w", job.ID, err)
	}

	var sources []*models.Source
	if sourceID, ok := job.PayloadString("source_id"); ok {
		source, err := p.storage.Sources().Get(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("extract job %s: %w", job.ID, err)
		}
		sources = []*models.Source{source}
	} else {
		sources, err = p.storage.Sources().GetByProjectAndStatus(ctx, projectID, models.SourceStatusPending)
		if err != nil {
			return nil, fmt.Errorf("extract job %s: %w", job.ID, err)
		}
	}

	// Refresh the domain fingerprints once up front so every source in the
	// batch strips against current boilerplate.
	if p.config.Boilerplate.Enabled && p.boilerplate != nil {
		p.refreshBoilerplate(ctx, project, sources)
	}

	// Counters survive cancellation: a cancelled job keeps them as its
	// partial result.
	processed, failed, skipped := 0, 0, 0
	totalExtractions := 0
	jobResult := func() map[string]interface{} {
		return map[string]interface{}{
			"project_id":  projectID,
			"sources":     len(sources),
			"processed":   processed,
			"failed":      failed,
			"skipped":     skipped,
			"extractions": totalExtractions,
		}
	}
	for _, source := range sources {
		if cancelled != nil && cancelled(ctx) {
			return jobResult(), context.Canceled
		}
		result, err := p.ProcessSource(ctx, project, source, cancelled)
		if errors.Is(err, context.Canceled) {
			return jobResult(), err
		}
		if err != nil {
			failed++
			p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Source extraction failed")
			continue
		}
		if result.Skipped {
			skipped++
			continue
		}
		processed++
		totalExtractions += result.Extractions
	}

	return jobResult(), nil
}

// refreshBoilerplate re-analyzes each distinct domain seen in the batch.
func (p *Pipeline) refreshBoilerplate(ctx context.Context, project *models.Project, sources []*models.Source) {
	domains := make(map[string]bool)
	for _, source := range sources {
		if d := source.Domain(); d != "" {
			domains[d] = true
		}
	}
	for domain := range domains {
		if _, err := p.boilerplate.Analyze(ctx, project.ID, domain); err != nil {
			p.logger.Warn().Err(err).Str("domain", domain).Msg("Boilerplate analysis failed")
		}
	}
}

// HandleDedupJob sweeps a project for stored duplicates. Payload: project_id.
func (p *Pipeline) HandleDedupJob(ctx context.Context, job *models.Job, cancelled CancelCheck) (map[string]interface{}, error) {
	if p.dedup == nil {
		return nil, fmt.Errorf("dedup job %s: deduplication is disabled", job.ID)
	}
	projectID, ok := job.PayloadString("project_id")
	if !ok {
		return nil, fmt.Errorf("dedup job %s: payload missing project_id", job.ID)
	}
	start := time.Now()
	removed, err := p.dedup.SweepProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"project_id":  projectID,
		"removed":     removed,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}
