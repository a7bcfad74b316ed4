package classifier

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// fakeEmbedder maps exact input text to a fixed vector.
type fakeEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vec, ok := f.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

// unit returns a unit vector whose cosine against [1,0,0] is c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0}
}

func testConfig() *common.ExtractionConfig {
	return &common.ExtractionConfig{
		ClassifierHigh: 0.75,
		ClassifierLow:  0.40,
		ClassifierTopN: 2,
	}
}

func testSchema(descriptions ...string) *models.ExtractionSchema {
	schema := &models.ExtractionSchema{}
	for i, d := range descriptions {
		schema.FieldGroups = append(schema.FieldGroups, models.FieldGroup{
			Name:        fmt.Sprintf("group%d", i+1),
			Description: d,
		})
	}
	return schema
}

const pageContent = "Our plans start at $29 per month with unlimited seats."

func TestClassifyStrongMatchKeepsNearBest(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		pageContent: unit(1.0),
		"pricing":   unit(0.98),
		"plans":     unit(0.92),
		"support":   unit(0.30),
	}}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())

	selected := c.Classify(context.Background(), testSchema("pricing", "plans", "support"), pageContent)
	require.Equal(t, []string{"group1", "group2"}, selected)
}

func TestClassifyMiddleBandTakesTopN(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		pageContent: unit(1.0),
		"pricing":   unit(0.60),
		"plans":     unit(0.50),
		"support":   unit(0.45),
	}}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())

	selected := c.Classify(context.Background(), testSchema("pricing", "plans", "support"), pageContent)
	require.Equal(t, []string{"group1", "group2"}, selected)
}

func TestClassifyWeakPageFloorsAtTwo(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		pageContent: unit(1.0),
		"pricing":   unit(0.30),
		"plans":     unit(0.10),
		"support":   unit(0.05),
	}}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())

	selected := c.Classify(context.Background(), testSchema("pricing", "plans", "support"), pageContent)
	require.Len(t, selected, 2, "weak page still runs two groups")
	require.Equal(t, "group1", selected[0])
}

func TestClassifyTwoGroupsSkipsScoring(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("unreachable")}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())

	selected := c.Classify(context.Background(), testSchema("pricing", "plans"), pageContent)
	require.Len(t, selected, 2)
	require.Zero(t, embedder.calls, "two-group schemas never embed")
}

func TestClassifyFailsOpen(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("embedding service down")}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())

	selected := c.Classify(context.Background(), testSchema("pricing", "plans", "support"), pageContent)
	require.Len(t, selected, 3, "embedding failure runs all groups")
}

func TestGroupEmbeddingsCached(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		pageContent: unit(1.0),
		"pricing":   unit(0.98),
		"plans":     unit(0.92),
		"support":   unit(0.30),
	}}
	c := NewClassifier(embedder, testConfig(), arbor.NewLogger())
	schema := testSchema("pricing", "plans", "support")

	c.Classify(context.Background(), schema, pageContent)
	after := embedder.calls // page + one per group
	c.Classify(context.Background(), schema, pageContent)
	require.Equal(t, after+1, embedder.calls, "second pass embeds only the page")
}
