package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// Generator builds per-project coverage reports: one summary row per source
// group, aggregated from stored sources, extractions and entities.
type Generator struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewGenerator creates a new Generator instance.
func NewGenerator(storage interfaces.StorageManager, logger arbor.ILogger) *Generator {
	return &Generator{
		storage: storage,
		logger:  logger,
	}
}

// Generate aggregates a project's state into a stored report.
func (g *Generator) Generate(ctx context.Context, projectID string) (*models.Report, error) {
	if _, err := g.storage.Projects().Get(ctx, projectID); err != nil {
		return nil, fmt.Errorf("report for unknown project %s: %w", projectID, err)
	}

	sources, err := g.storage.Sources().GetByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	extractions, err := g.storage.Extractions().GetByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	entities, err := g.storage.Entities().GetByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	groups := make(map[string]*models.GroupSummary)
	summary := func(group string) *models.GroupSummary {
		s, ok := groups[group]
		if !ok {
			s = &models.GroupSummary{SourceGroup: group}
			groups[group] = s
		}
		return s
	}

	for _, source := range sources {
		summary(source.SourceGroup).Sources++
	}

	confidenceSums := make(map[string]float64)
	embeddedCounts := make(map[string]int)
	for _, extraction := range extractions {
		s := summary(extraction.SourceGroup)
		s.Extractions++
		confidenceSums[extraction.SourceGroup] += extraction.Confidence
		if extraction.EmbeddingID != nil {
			embeddedCounts[extraction.SourceGroup]++
		}
	}
	for _, entity := range entities {
		summary(entity.SourceGroup).Entities++
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &models.Report{
		ID:          common.NewID(),
		ProjectID:   projectID,
		GeneratedAt: time.Now(),
	}
	for _, name := range names {
		s := groups[name]
		if s.Extractions > 0 {
			s.AvgConfidence = confidenceSums[name] / float64(s.Extractions)
			s.EmbeddedFraction = float64(embeddedCounts[name]) / float64(s.Extractions)
		}
		report.Groups = append(report.Groups, *s)
	}

	if err := g.storage.Reports().Store(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	g.logger.Info().
		Str("report_id", report.ID).
		Str("project_id", projectID).
		Int("groups", len(report.Groups)).
		Msg("Report generated")
	return report, nil
}

// HandleReportJob is the job-queue entry point. Payload: project_id.
func (g *Generator) HandleReportJob(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
	projectID, ok := job.PayloadString("project_id")
	if !ok {
		return nil, fmt.Errorf("report job %s: payload missing project_id", job.ID)
	}
	report, err := g.Generate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"report_id": report.ID,
		"groups":    len(report.Groups),
	}, nil
}
