package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

func newTestGenerator(t *testing.T) (*Generator, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.DefaultConfig()
	config.Storage.Badger.Path = t.TempDir()

	manager, err := badgerstore.NewManager(config, logger, nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return NewGenerator(manager, logger), manager
}

func seedProject(t *testing.T, storage interfaces.StorageManager) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:   uuid.New().String(),
		Name: "report-test",
		Schema: models.ExtractionSchema{
			FieldGroups: []models.FieldGroup{
				{Name: "overview", Fields: []models.Field{{Name: "summary", Type: models.FieldTypeText}}},
			},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := storage.Projects().Store(context.Background(), project); err != nil {
		t.Fatalf("failed to store project: %v", err)
	}
	return project
}

func TestGenerateAggregatesPerGroup(t *testing.T) {
	generator, storage := newTestGenerator(t)
	ctx := context.Background()
	project := seedProject(t, storage)

	for i, group := range []string{"acme", "acme", "globex"} {
		source := &models.Source{
			ID:          common.SourceID(project.ID, group+string(rune('a'+i))),
			ProjectID:   project.ID,
			URI:         "https://" + group + ".example.com/" + string(rune('a'+i)),
			SourceGroup: group,
			Content:     "content",
			Status:      models.SourceStatusExtracted,
		}
		if err := storage.Sources().Store(ctx, source); err != nil {
			t.Fatalf("failed to store source: %v", err)
		}
	}

	embeddingID := "vec-1"
	extractions := []*models.Extraction{
		{
			ID: uuid.New().String(), ProjectID: project.ID, SourceID: "s1",
			SourceGroup: "acme", ExtractionType: "overview",
			Data: map[string]interface{}{"summary": "a"}, Confidence: 0.8,
			EmbeddingID: &embeddingID,
		},
		{
			ID: uuid.New().String(), ProjectID: project.ID, SourceID: "s2",
			SourceGroup: "acme", ExtractionType: "overview",
			Data: map[string]interface{}{"summary": "b"}, Confidence: 0.4,
		},
	}
	if err := storage.Extractions().StoreBatch(ctx, extractions); err != nil {
		t.Fatalf("failed to store extractions: %v", err)
	}

	if _, _, err := storage.Entities().GetOrCreate(ctx, &models.Entity{
		ProjectID: project.ID, SourceGroup: "acme",
		EntityType: "plan", NormalizedValue: "pro", Value: "Pro",
	}); err != nil {
		t.Fatalf("failed to store entity: %v", err)
	}

	report, err := generator.Generate(ctx, project.ID)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(report.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(report.Groups))
	}

	acme := report.Groups[0]
	if acme.SourceGroup != "acme" {
		t.Fatalf("groups not sorted, got %s first", acme.SourceGroup)
	}
	if acme.Sources != 2 || acme.Extractions != 2 || acme.Entities != 1 {
		t.Fatalf("acme counts wrong: %+v", acme)
	}
	if acme.AvgConfidence < 0.59 || acme.AvgConfidence > 0.61 {
		t.Fatalf("expected avg confidence 0.6, got %f", acme.AvgConfidence)
	}
	if acme.EmbeddedFraction != 0.5 {
		t.Fatalf("expected embedded fraction 0.5, got %f", acme.EmbeddedFraction)
	}

	globex := report.Groups[1]
	if globex.Sources != 1 || globex.Extractions != 0 {
		t.Fatalf("globex counts wrong: %+v", globex)
	}

	stored, err := storage.Reports().Get(ctx, report.ID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if stored.ProjectID != project.ID {
		t.Fatalf("stored report has wrong project: %s", stored.ProjectID)
	}
}

func TestGenerateUnknownProject(t *testing.T) {
	generator, _ := newTestGenerator(t)
	if _, err := generator.Generate(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown project")
	}
}

func TestHandleReportJob(t *testing.T) {
	generator, storage := newTestGenerator(t)
	ctx := context.Background()
	project := seedProject(t, storage)

	job := models.NewJob(models.JobTypeReport, map[string]interface{}{"project_id": project.ID}, 0)
	result, err := generator.HandleReportJob(ctx, job, nil)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result["report_id"] == "" {
		t.Fatal("expected report id in result")
	}
}
