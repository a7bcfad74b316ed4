package classifier

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// contentProbe is how much of the page the classifier embeds.
const contentProbe = 6000

// Classifier selects the field groups worth extracting from a page by
// cosine-scoring the page against a cached embedding of each group's
// description. Failure fails open: every group runs.
type Classifier struct {
	embedder interfaces.EmbeddingService
	config   *common.ExtractionConfig
	logger   arbor.ILogger

	mu    sync.RWMutex
	cache map[string][]float32 // group text hash -> embedding
}

// NewClassifier creates a new Classifier instance.
func NewClassifier(embedder interfaces.EmbeddingService, config *common.ExtractionConfig, logger arbor.ILogger) *Classifier {
	return &Classifier{
		embedder: embedder,
		config:   config,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

type groupScore struct {
	name  string
	score float64
}

// Classify returns the field groups to extract from the content. Bucketing
// runs on the maximum group score: on a strong match only groups near the
// max run, in the middle band the top N run, and on a weak page a floor of
// two groups still runs so nothing is silently dropped.
func (c *Classifier) Classify(ctx context.Context, schema *models.ExtractionSchema, content string) []string {
	allGroups := make([]string, len(schema.FieldGroups))
	for i, g := range schema.FieldGroups {
		allGroups[i] = g.Name
	}
	if len(allGroups) <= 2 {
		return allGroups
	}

	content = common.CutRune(content, contentProbe)
	pageVec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Page embedding failed, running all field groups")
		return allGroups
	}

	scores := make([]groupScore, 0, len(schema.FieldGroups))
	maxScore := -1.0
	for _, g := range schema.FieldGroups {
		groupVec, err := c.groupEmbedding(ctx, &g)
		if err != nil {
			c.logger.Warn().Err(err).Str("group", g.Name).Msg("Group embedding failed, running all field groups")
			return allGroups
		}
		score := cosine(pageVec, groupVec)
		scores = append(scores, groupScore{name: g.Name, score: score})
		if score > maxScore {
			maxScore = score
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	high := c.config.ClassifierHigh
	if high <= 0 {
		high = 0.75
	}
	low := c.config.ClassifierLow
	if low <= 0 {
		low = 0.40
	}
	topN := c.config.ClassifierTopN
	if topN <= 0 {
		topN = 3
	}

	var selected []string
	switch {
	case maxScore > high:
		// Strong signal: everything within 0.10 of the best.
		for _, gs := range scores {
			if gs.score >= maxScore-0.10 {
				selected = append(selected, gs.name)
			}
		}
	case maxScore >= low:
		for i, gs := range scores {
			if i >= topN {
				break
			}
			selected = append(selected, gs.name)
		}
	default:
		// Weak page: relative cut with a floor of two groups.
		for _, gs := range scores {
			if gs.score > 0.80*maxScore {
				selected = append(selected, gs.name)
			}
		}
		for i := 0; len(selected) < 2 && i < len(scores); i++ {
			if !contains(selected, scores[i].name) {
				selected = append(selected, scores[i].name)
			}
		}
	}

	c.logger.Debug().
		Float64("max_score", maxScore).
		Int("groups_total", len(allGroups)).
		Int("groups_selected", len(selected)).
		Msg("Page classified")
	return selected
}

// groupEmbedding returns the cached embedding of description || prompt_hint.
func (c *Classifier) groupEmbedding(ctx context.Context, group *models.FieldGroup) ([]float32, error) {
	text := group.Description
	if group.PromptHint != "" {
		text += " " + group.PromptHint
	}
	if text == "" {
		text = group.Name
	}
	key := common.BlockHash(text)

	c.mu.RLock()
	vec, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = vec
	c.mu.Unlock()
	return vec, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
