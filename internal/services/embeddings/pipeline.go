package embeddings

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// Collection is the vector collection extractions are embedded into.
const Collection = "extractions"

// Pipeline embeds stored extractions and records the vector point on the
// extraction row. The write order is fixed: the extraction row exists first,
// the vector point second, the embedding id last. A crash between steps
// leaves an orphan the recovery sweep picks up, never a dangling vector.
type Pipeline struct {
	embedder    interfaces.EmbeddingService
	vectors     interfaces.VectorStorage
	extractions interfaces.ExtractionStorage
	config      *common.EmbeddingsConfig
	logger      arbor.ILogger
}

// NewPipeline creates a new Pipeline instance.
func NewPipeline(
	embedder interfaces.EmbeddingService,
	vectors interfaces.VectorStorage,
	extractions interfaces.ExtractionStorage,
	config *common.EmbeddingsConfig,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		embedder:    embedder,
		vectors:     vectors,
		extractions: extractions,
		config:      config,
		logger:      logger,
	}
}

// Init ensures the vector collection exists.
func (p *Pipeline) Init(ctx context.Context) error {
	return p.vectors.InitCollection(ctx, Collection, p.embedder.Dimension())
}

// EmbedExtractions embeds a batch of extractions and marks each row. Rows
// that fail keep a nil embedding id and are reported in the error count.
func (p *Pipeline) EmbedExtractions(ctx context.Context, extractions []*models.Extraction) (embedded, failed int, err error) {
	batchSize := p.config.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	for start := 0; start < len(extractions); start += batchSize {
		end := start + batchSize
		if end > len(extractions) {
			end = len(extractions)
		}
		batch := extractions[start:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.CanonicalText()
		}

		vectors, embedErr := p.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			// The whole batch stays orphaned; recovery retries later.
			p.logger.Warn().Err(embedErr).Int("batch", len(batch)).Msg("Embedding batch failed, rows left for recovery")
			failed += len(batch)
			continue
		}

		points := make([]interfaces.VectorPoint, len(batch))
		for i, e := range batch {
			points[i] = interfaces.VectorPoint{
				ID:     e.ID,
				Vector: vectors[i],
				Payload: map[string]interface{}{
					"project_id":      e.ProjectID,
					"source_group":    e.SourceGroup,
					"extraction_type": e.ExtractionType,
					"source_id":       e.SourceID,
				},
			}
		}
		if upsertErr := p.vectors.UpsertBatch(ctx, Collection, points); upsertErr != nil {
			p.logger.Warn().Err(upsertErr).Int("batch", len(batch)).Msg("Vector upsert failed, rows left for recovery")
			failed += len(batch)
			continue
		}

		for _, e := range batch {
			if markErr := p.extractions.SetEmbeddingID(ctx, e.ID, e.ID); markErr != nil {
				// The vector exists; the next sweep re-upserts idempotently
				// and retries the mark.
				p.logger.Warn().Err(markErr).Str("extraction_id", e.ID).Msg("Failed to record embedding id")
				failed++
				continue
			}
			embedded++
		}
	}

	if embedded == 0 && failed > 0 {
		return embedded, failed, fmt.Errorf("embedding failed for all %d extractions", failed)
	}
	return embedded, failed, nil
}

// EmbedQuery embeds free text for similarity search.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedder.Embed(ctx, text)
}
