package extraction

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embeddings"
)

// Deduplicator finds extractions that restate an already-stored record by
// cosine similarity against the vector index, scoped to the same project
// and source group.
type Deduplicator struct {
	pipeline    *embeddings.Pipeline
	vectors     interfaces.VectorStorage
	extractions interfaces.ExtractionStorage
	config      *common.DedupConfig
	logger      arbor.ILogger
}

// NewDeduplicator creates a new Deduplicator instance.
func NewDeduplicator(
	pipeline *embeddings.Pipeline,
	vectors interfaces.VectorStorage,
	extractions interfaces.ExtractionStorage,
	config *common.DedupConfig,
	logger arbor.ILogger,
) *Deduplicator {
	return &Deduplicator{
		pipeline:    pipeline,
		vectors:     vectors,
		extractions: extractions,
		config:      config,
		logger:      logger,
	}
}

// IsDuplicate reports whether a stored record within the extraction's
// project and source group already says the same thing. Returns the id of
// the matched record when it does.
func (d *Deduplicator) IsDuplicate(ctx context.Context, extraction *models.Extraction) (bool, string, error) {
	if !d.config.Enabled {
		return false, "", nil
	}

	vec, err := d.pipeline.EmbedQuery(ctx, extraction.CanonicalText())
	if err != nil {
		return false, "", fmt.Errorf("failed to embed for dedup: %w", err)
	}

	matches, err := d.vectors.Search(ctx, embeddings.Collection, vec, 1, map[string]interface{}{
		"project_id":   extraction.ProjectID,
		"source_group": extraction.SourceGroup,
	})
	if err != nil {
		return false, "", fmt.Errorf("dedup search failed: %w", err)
	}
	if len(matches) == 0 {
		return false, "", nil
	}

	threshold := d.config.Threshold
	if threshold <= 0 {
		threshold = 0.90
	}
	match := matches[0]
	if match.Score >= threshold {
		// Never match an extraction against itself on re-runs.
		if match.Point.ID == extraction.ID {
			return false, "", nil
		}
		return true, match.Point.ID, nil
	}
	return false, "", nil
}

// FilterNew drops extractions that duplicate stored records, returning the
// survivors and the number dropped. Embedding failures keep the record: a
// false negative costs a near-duplicate row, a false positive loses data.
func (d *Deduplicator) FilterNew(ctx context.Context, extractions []*models.Extraction) ([]*models.Extraction, int) {
	if !d.config.Enabled {
		return extractions, 0
	}
	kept := extractions[:0]
	dropped := 0
	for _, extraction := range extractions {
		dup, matchID, err := d.IsDuplicate(ctx, extraction)
		if err != nil {
			d.logger.Warn().Err(err).Str("extraction_id", extraction.ID).Msg("Dedup check failed, keeping record")
			kept = append(kept, extraction)
			continue
		}
		if dup {
			d.logger.Debug().
				Str("extraction_id", extraction.ID).
				Str("duplicate_of", matchID).
				Str("group", extraction.ExtractionType).
				Msg("Dropping duplicate extraction")
			dropped++
			continue
		}
		kept = append(kept, extraction)
	}
	return kept, dropped
}

// SweepProject walks a project's embedded extractions newest-first and
// removes rows whose vector duplicates an older one. Used by the dedup job.
func (d *Deduplicator) SweepProject(ctx context.Context, projectID string) (int, error) {
	extractions, err := d.extractions.GetByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to list extractions: %w", err)
	}

	removed := 0
	for _, extraction := range extractions {
		if extraction.EmbeddingID == nil {
			continue
		}
		vec, err := d.pipeline.EmbedQuery(ctx, extraction.CanonicalText())
		if err != nil {
			d.logger.Warn().Err(err).Str("extraction_id", extraction.ID).Msg("Dedup sweep embed failed")
			continue
		}
		matches, err := d.vectors.Search(ctx, embeddings.Collection, vec, 2, map[string]interface{}{
			"project_id":   extraction.ProjectID,
			"source_group": extraction.SourceGroup,
		})
		if err != nil {
			return removed, fmt.Errorf("dedup sweep search failed: %w", err)
		}

		threshold := d.config.Threshold
		if threshold <= 0 {
			threshold = 0.90
		}
		for _, match := range matches {
			if match.Point.ID == extraction.ID || match.Score < threshold {
				continue
			}
			older, err := d.extractions.Get(ctx, match.Point.ID)
			if err != nil {
				continue
			}
			// The newer of the pair goes; the sweep visits it either way.
			if older.CreatedAt.After(extraction.CreatedAt) {
				continue
			}
			if err := d.removeExtraction(ctx, extraction); err != nil {
				return removed, err
			}
			removed++
			break
		}
	}

	if removed > 0 {
		d.logger.Info().Str("project_id", projectID).Int("removed", removed).Msg("Dedup sweep removed duplicates")
	}
	return removed, nil
}

func (d *Deduplicator) removeExtraction(ctx context.Context, extraction *models.Extraction) error {
	if err := d.vectors.Delete(ctx, embeddings.Collection, []string{extraction.ID}); err != nil {
		return fmt.Errorf("failed to delete vector point: %w", err)
	}
	if err := d.extractions.Delete(ctx, extraction.ID); err != nil && err != interfaces.ErrKeyNotFound {
		return fmt.Errorf("failed to delete extraction row: %w", err)
	}
	return nil
}
