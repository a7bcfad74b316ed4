package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/chunker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/classifier"
)

// CancelCheck reports whether the surrounding job was asked to stop. Workers
// call it at checkpoints; a nil check never cancels.
type CancelCheck func(ctx context.Context) bool

// chunkResult is one LM response for a (group, chunk) pair.
type chunkResult struct {
	data       map[string]interface{}
	confidence float64
}

// Orchestrator runs the per-source extraction algorithm: structural
// cleanup, classification, chunking, one LM request per (group, chunk),
// typed merge and confidence recalibration.
type Orchestrator struct {
	broker     interfaces.LMBroker
	classifier *classifier.Classifier
	chunker    *chunker.Chunker
	config     *common.ExtractionConfig
	timeout    time.Duration
	logger     arbor.ILogger

	// Bounds in-flight (group, chunk) requests across all jobs.
	sem chan struct{}
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(
	broker interfaces.LMBroker,
	cls *classifier.Classifier,
	config *common.ExtractionConfig,
	requestTimeout time.Duration,
	logger arbor.ILogger,
) *Orchestrator {
	maxChunks := config.MaxConcurrentChunks
	if maxChunks <= 0 {
		maxChunks = 80
	}
	return &Orchestrator{
		broker:     broker,
		classifier: cls,
		chunker:    chunker.NewChunker(config.ChunkTokenBudget, logger),
		config:     config,
		timeout:    requestTimeout,
		logger:     logger,
		sem:        make(chan struct{}, maxChunks),
	}
}

// ExtractSource produces one Extraction per relevant field group.
// classifierContent is the dedup-cleaned text; extraction itself runs on a
// lighter structural cleanup of the raw content so no useful token is lost.
// A failed group never aborts the others.
func (o *Orchestrator) ExtractSource(ctx context.Context, project *models.Project, source *models.Source, classifierContent string, cancelled CancelCheck) ([]*models.Extraction, error) {
	working := CleanStructural(source.Content)

	selected := make(map[string]bool)
	if o.config.ClassifierEnabled && o.classifier != nil {
		for _, name := range o.classifier.Classify(ctx, &project.Schema, classifierContent) {
			selected[name] = true
		}
	} else {
		for _, g := range project.Schema.FieldGroups {
			selected[g.Name] = true
		}
	}

	chunks := o.chunker.Chunk(working)
	o.logger.Debug().
		Str("source_id", source.ID).
		Int("chunks", len(chunks)).
		Int("groups", len(selected)).
		Msg("Extraction plan ready")

	var extractions []*models.Extraction
	for i := range project.Schema.FieldGroups {
		group := &project.Schema.FieldGroups[i]
		if !selected[group.Name] {
			continue
		}
		if cancelled != nil && cancelled(ctx) {
			return extractions, context.Canceled
		}

		results := o.extractGroup(ctx, project, source, group, chunks, cancelled)
		if len(results) == 0 {
			continue
		}

		data := mergeGroupResults(group, project.Context.EntityIDFields, chunkData(results), o.logger)
		raw := maxConfidence(results)

		extraction := &models.Extraction{
			ID:             uuid.New().String(),
			ProjectID:      project.ID,
			SourceID:       source.ID,
			SourceGroup:    source.SourceGroup,
			ExtractionType: group.Name,
			Data:           data,
			Confidence:     recalibrate(data, raw),
			CreatedAt:      time.Now(),
		}
		extractions = append(extractions, extraction)

		if cancelled != nil && cancelled(ctx) {
			return extractions, context.Canceled
		}
	}
	return extractions, nil
}

// extractGroup fans one request per chunk out through the broker. Failed
// chunks contribute an empty result with confidence 0 and are logged.
func (o *Orchestrator) extractGroup(ctx context.Context, project *models.Project, source *models.Source, group *models.FieldGroup, chunks []models.DocumentChunk, cancelled CancelCheck) []chunkResult {
	systemPrompt := buildGroupSystemPrompt(project, group)

	results := make([]chunkResult, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if cancelled != nil && cancelled(ctx) {
			break
		}
		wg.Add(1)
		go func(i int, chunk models.DocumentChunk) {
			defer wg.Done()
			o.sem <- struct{}{}
			defer func() { <-o.sem }()
			results[i] = o.extractChunk(ctx, project, source, group, systemPrompt, chunk)
		}(i, chunk)
	}
	wg.Wait()

	valid := results[:0]
	for _, r := range results {
		if r.data != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

func (o *Orchestrator) extractChunk(ctx context.Context, project *models.Project, source *models.Source, group *models.FieldGroup, systemPrompt string, chunk models.DocumentChunk) chunkResult {
	req := models.NewLMRequest(models.LMRequestExtractFieldGroup, []models.LMMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildGroupUserPrompt(project, source, chunk.Content, o.config.ContentLimit)},
	}, true, o.timeout)

	resp, err := o.broker.SubmitAndWait(ctx, req)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("source_id", source.ID).
			Str("group", group.Name).
			Int("chunk", chunk.ChunkIndex).
			Msg("Field group request failed")
		return chunkResult{}
	}
	if !resp.OK() {
		o.logger.Warn().
			Str("status", string(resp.Status)).
			Str("error", resp.Error).
			Str("group", group.Name).
			Int("chunk", chunk.ChunkIndex).
			Msg("Field group request unsuccessful")
		return chunkResult{}
	}

	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil {
		return chunkResult{}
	}
	data, confidence, err := parseGroupOutput(group, text)
	if err != nil {
		// Bounded repair already ran inside the parse; unrecoverable output
		// becomes an empty result, never a failed group.
		o.logger.Warn().
			Err(err).
			Str("group", group.Name).
			Int("chunk", chunk.ChunkIndex).
			Msg("Unparsable field group output")
		return chunkResult{data: map[string]interface{}{}, confidence: 0}
	}
	return chunkResult{data: data, confidence: confidence}
}

// parseGroupOutput decodes and type-coerces one chunk's model output. Fields
// that fail coercion are dropped, never fatal.
func parseGroupOutput(group *models.FieldGroup, text string) (map[string]interface{}, float64, error) {
	decoded, err := common.DecodeJSONMap(text)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrUnparsableOutput, err)
	}

	confidence := 0.5
	if c, ok := decoded["confidence"].(float64); ok {
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		confidence = c
	}

	if group.IsEntityList {
		records, _ := decoded["records"].([]interface{})
		coerced := make([]interface{}, 0, len(records))
		for _, item := range records {
			record, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			coerced = append(coerced, coerceRecord(group, record))
		}
		return map[string]interface{}{"records": coerced}, confidence, nil
	}

	return coerceRecord(group, decoded), confidence, nil
}

// coerceRecord applies per-field type coercion, dropping offenders.
func coerceRecord(group *models.FieldGroup, record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(group.Fields))
	for _, field := range group.Fields {
		raw, ok := record[field.Name]
		if !ok {
			out[field.Name] = field.Default
			continue
		}
		value, err := field.Coerce(raw)
		if err != nil {
			out[field.Name] = field.Default
			continue
		}
		out[field.Name] = value
	}
	return out
}

// recalibrate caps the confidence of an all-empty record at 0.1 and passes
// everything else through.
func recalibrate(data map[string]interface{}, raw float64) float64 {
	empty := true
	for k, v := range data {
		if k == "records" {
			if list, ok := v.([]interface{}); ok && len(list) > 0 {
				empty = false
				break
			}
			continue
		}
		if !models.IsEmptyValue(v) {
			empty = false
			break
		}
	}
	if empty && raw > 0.1 {
		return 0.1
	}
	return raw
}

func chunkData(results []chunkResult) []map[string]interface{} {
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = r.data
	}
	return out
}

func maxConfidence(results []chunkResult) float64 {
	max := 0.0
	for _, r := range results {
		if r.confidence > max {
			max = r.confidence
		}
	}
	return max
}
