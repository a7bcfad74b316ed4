package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// EntityExtractor turns extraction records into normalized entity rows and
// links. The whole pass is idempotent: rerunning it over the same
// extraction creates nothing new.
type EntityExtractor struct {
	broker      interfaces.LMBroker
	entities    interfaces.EntityStorage
	extractions interfaces.ExtractionStorage
	projects    interfaces.ProjectStorage
	config      *common.ExtractionConfig
	timeout     time.Duration
	logger      arbor.ILogger
	cron        *cron.Cron
}

// NewEntityExtractor creates a new EntityExtractor instance.
func NewEntityExtractor(
	broker interfaces.LMBroker,
	entities interfaces.EntityStorage,
	extractions interfaces.ExtractionStorage,
	projects interfaces.ProjectStorage,
	config *common.ExtractionConfig,
	requestTimeout time.Duration,
	logger arbor.ILogger,
) *EntityExtractor {
	return &EntityExtractor{
		broker:      broker,
		entities:    entities,
		extractions: extractions,
		projects:    projects,
		config:      config,
		timeout:     requestTimeout,
		logger:      logger,
	}
}

// entityRecord is one entity as returned by the model.
type entityRecord struct {
	EntityType string                 `json:"entity_type"`
	Value      string                 `json:"value"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// ExtractEntities runs the entity pass for one extraction. Already-done
// extractions and projects without entity types are no-ops.
func (e *EntityExtractor) ExtractEntities(ctx context.Context, project *models.Project, extraction *models.Extraction) error {
	if extraction.EntitiesExtracted {
		return nil
	}
	if len(project.EntityTypes) == 0 || extraction.IsEmpty() {
		return e.extractions.SetEntitiesExtracted(ctx, extraction.ID)
	}

	records, err := e.requestEntities(ctx, project, extraction)
	if err != nil {
		return fmt.Errorf("entity request for extraction %s: %w", extraction.ID, err)
	}

	created := 0
	for _, record := range records {
		entityType, ok := project.EntityTypeByName(record.EntityType)
		if !ok || strings.TrimSpace(record.Value) == "" {
			continue
		}
		normalized := NormalizeEntityValue(entityType.Normalization, record.Value)
		if normalized == "" {
			continue
		}

		entity, isNew, err := e.entities.GetOrCreate(ctx, &models.Entity{
			ProjectID:       project.ID,
			SourceGroup:     extraction.SourceGroup,
			EntityType:      entityType.Name,
			NormalizedValue: normalized,
			Value:           record.Value,
			Attributes:      record.Attributes,
		})
		if err != nil {
			return fmt.Errorf("entity upsert: %w", err)
		}
		if isNew {
			created++
		}
		// A pre-existing link is a successful no-op.
		if _, err := e.entities.GetOrCreateLink(ctx, &models.ExtractionEntity{
			ExtractionID: extraction.ID,
			EntityID:     entity.ID,
			Role:         "mention",
		}); err != nil {
			return fmt.Errorf("entity link: %w", err)
		}
	}

	if err := e.extractions.SetEntitiesExtracted(ctx, extraction.ID); err != nil {
		return err
	}
	e.logger.Debug().
		Str("extraction_id", extraction.ID).
		Int("entities", len(records)).
		Int("created", created).
		Msg("Entity pass complete")
	return nil
}

func (e *EntityExtractor) requestEntities(ctx context.Context, project *models.Project, extraction *models.Extraction) ([]entityRecord, error) {
	req := models.NewLMRequest(models.LMRequestExtractEntities, []models.LMMessage{
		{Role: "system", Content: buildEntitySystemPrompt(project)},
		{Role: "user", Content: buildEntityUserPrompt(extraction)},
	}, true, e.timeout)

	resp, err := e.broker.SubmitAndWait(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("entity request %s: %s", resp.Status, resp.Error)
	}

	var text string
	if err := json.Unmarshal(resp.Result, &text); err != nil {
		return nil, fmt.Errorf("failed to decode entity result: %w", err)
	}
	extracted, err := common.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnparsableOutput, err)
	}
	var records []entityRecord
	if err := json.Unmarshal([]byte(extracted), &records); err != nil {
		// A single object instead of an array still counts.
		var one entityRecord
		if err2 := json.Unmarshal([]byte(extracted), &one); err2 != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrUnparsableOutput, err)
		}
		records = []entityRecord{one}
	}
	return records, nil
}

// StartRetrySweep schedules a periodic pass over extractions whose entity
// pass has not completed, so a transient failure heals without operator
// action.
func (e *EntityExtractor) StartRetrySweep(ctx context.Context) error {
	schedule := e.config.EntityRetrySchedule
	if schedule == "" {
		schedule = "@every 10m"
	}
	e.cron = cron.New()
	_, err := e.cron.AddFunc(schedule, func() {
		if err := e.RetrySweep(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Entity retry sweep failed")
		}
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	e.logger.Info().Str("schedule", schedule).Msg("Entity retry sweep scheduled")
	return nil
}

// StopRetrySweep halts the scheduler.
func (e *EntityExtractor) StopRetrySweep() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// RetrySweep processes one batch of pending extractions.
func (e *EntityExtractor) RetrySweep(ctx context.Context) error {
	pending, err := e.extractions.GetEntityPending(ctx, 50)
	if err != nil {
		return err
	}
	projectCache := make(map[string]*models.Project)
	retried := 0
	for _, extraction := range pending {
		project, ok := projectCache[extraction.ProjectID]
		if !ok {
			project, err = e.projects.Get(ctx, extraction.ProjectID)
			if err != nil {
				e.logger.Warn().Err(err).Str("project_id", extraction.ProjectID).Msg("Skipping extraction with missing project")
				continue
			}
			projectCache[extraction.ProjectID] = project
		}
		if err := e.ExtractEntities(ctx, project, extraction); err != nil {
			e.logger.Warn().Err(err).Str("extraction_id", extraction.ID).Msg("Entity retry failed")
			continue
		}
		retried++
	}
	if len(pending) > 0 {
		e.logger.Info().Int("pending", len(pending)).Int("done", retried).Msg("Entity retry sweep finished")
	}
	return nil
}

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	numberUnit = regexp.MustCompile(`([\d][\d,.]*)\s*(?:per|/)\s*([a-zA-Z]+)`)
	priceForm  = regexp.MustCompile(`([\d][\d,.]*)\s*(?:per|/|a\s)\s*(month|year|week|day|user|seat|mo|yr)`)
)

// NormalizeEntityValue reduces a surface form to its unique key by
// normalization kind: plans and features fold case and punctuation, limits
// become <number>_per_<unit>, prices become <cents>_per_<period>.
func NormalizeEntityValue(kind, value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	switch kind {
	case "limit":
		if m := numberUnit.FindStringSubmatch(trimmed); m != nil {
			return strings.ReplaceAll(m[1], ",", "") + "_per_" + strings.ToLower(m[2])
		}
		return defaultNormalize(trimmed)
	case "pricing":
		if m := priceForm.FindStringSubmatch(trimmed); m != nil {
			return fmt.Sprintf("%d_per_%s", toCents(m[1]), canonicalPeriod(m[2]))
		}
		return defaultNormalize(trimmed)
	default: // "plan", "feature" and anything unrecognized
		return defaultNormalize(trimmed)
	}
}

func defaultNormalize(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(s, "_"), "_")
}

func toCents(amount string) int {
	amount = strings.ReplaceAll(amount, ",", "")
	var whole, frac int
	if i := strings.Index(amount, "."); i >= 0 {
		fmt.Sscanf(amount[:i], "%d", &whole)
		fracStr := amount[i+1:]
		if len(fracStr) > 2 {
			fracStr = fracStr[:2]
		}
		for len(fracStr) < 2 {
			fracStr += "0"
		}
		fmt.Sscanf(fracStr, "%d", &frac)
	} else {
		fmt.Sscanf(amount, "%d", &whole)
	}
	return whole*100 + frac
}

func canonicalPeriod(period string) string {
	switch strings.ToLower(period) {
	case "mo", "month":
		return "month"
	case "yr", "year":
		return "year"
	default:
		return strings.ToLower(period)
	}
}
