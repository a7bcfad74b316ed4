package extraction

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

func testGroup() *models.FieldGroup {
	return &models.FieldGroup{
		Name: "pricing_overview",
		Fields: []models.Field{
			{Name: "has_free_tier", Type: models.FieldTypeBoolean},
			{Name: "plan_count", Type: models.FieldTypeInteger},
			{Name: "starting_price", Type: models.FieldTypeFloat},
			{Name: "summary", Type: models.FieldTypeText},
			{Name: "plan_names", Type: models.FieldTypeList},
			{Name: "billing_model", Type: models.FieldTypeEnum, EnumValues: []string{"flat", "usage", "seat"}},
		},
	}
}

func TestMergeBooleanOr(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"has_free_tier": false},
		{"has_free_tier": true},
		{"has_free_tier": false},
	}, logger)
	if merged["has_free_tier"] != true {
		t.Fatalf("expected true, got %v", merged["has_free_tier"])
	}
}

func TestMergeNumericMax(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"plan_count": int64(3), "starting_price": 9.99},
		{"plan_count": int64(5), "starting_price": 4.99},
	}, logger)
	if merged["plan_count"] != int64(5) {
		t.Fatalf("expected 5, got %v", merged["plan_count"])
	}
	if merged["starting_price"] != 9.99 {
		t.Fatalf("expected 9.99, got %v", merged["starting_price"])
	}
}

func TestMergeTextLongest(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"summary": "short"},
		{"summary": "a considerably longer description"},
		{"summary": "medium text"},
	}, logger)
	if merged["summary"] != "a considerably longer description" {
		t.Fatalf("expected longest text, got %v", merged["summary"])
	}
}

func TestMergeListDedupPreservesOrder(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"plan_names": []interface{}{"Free", "Pro"}},
		{"plan_names": []interface{}{"Pro", "Enterprise"}},
	}, logger)
	list, ok := merged["plan_names"].([]interface{})
	if !ok {
		t.Fatalf("expected list, got %T", merged["plan_names"])
	}
	want := []string{"Free", "Pro", "Enterprise"}
	if len(list) != len(want) {
		t.Fatalf("expected %d items, got %d: %v", len(want), len(list), list)
	}
	for i, w := range want {
		if list[i] != w {
			t.Fatalf("position %d: expected %s, got %v", i, w, list[i])
		}
	}
}

func TestMergeEnumFirstNonNull(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"billing_model": nil},
		{"billing_model": "seat"},
		{"billing_model": "usage"},
	}, logger)
	if merged["billing_model"] != "seat" {
		t.Fatalf("expected first non-null enum, got %v", merged["billing_model"])
	}
}

func TestMergeNullsNeverOverwrite(t *testing.T) {
	logger := arbor.NewLogger()
	merged := mergeGroupResults(testGroup(), nil, []map[string]interface{}{
		{"summary": "present"},
		{"summary": nil},
	}, logger)
	if merged["summary"] != "present" {
		t.Fatalf("null overwrote value: %v", merged["summary"])
	}
}

func TestMergeEntityListKeyedDedup(t *testing.T) {
	group := &models.FieldGroup{
		Name:         "plans",
		IsEntityList: true,
		Fields: []models.Field{
			{Name: "plan_name", Type: models.FieldTypeText},
			{Name: "price", Type: models.FieldTypeFloat},
		},
	}
	logger := arbor.NewLogger()
	merged := mergeGroupResults(group, []string{"plan_name"}, []map[string]interface{}{
		{"records": []interface{}{
			map[string]interface{}{"plan_name": "Pro", "price": 10.0},
			map[string]interface{}{"plan_name": "Free", "price": 0.0},
		}},
		{"records": []interface{}{
			map[string]interface{}{"plan_name": "Pro", "price": 12.0},
			map[string]interface{}{"price": 99.0}, // keyless, kept
		}},
	}, logger)

	records, ok := merged["records"].([]interface{})
	if !ok {
		t.Fatalf("expected records list, got %T", merged["records"])
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records (Pro, Free, keyless), got %d", len(records))
	}
	first := records[0].(map[string]interface{})
	if first["price"] != 10.0 {
		t.Fatalf("first occurrence should win, got price %v", first["price"])
	}
}

func TestRecalibrateEmptyCapped(t *testing.T) {
	empty := map[string]interface{}{"summary": nil, "plan_names": []interface{}{}}
	if got := recalibrate(empty, 0.9); got != 0.1 {
		t.Fatalf("expected 0.1 for empty record, got %v", got)
	}
	if got := recalibrate(empty, 0.05); got != 0.05 {
		t.Fatalf("expected raw below cap untouched, got %v", got)
	}
	populated := map[string]interface{}{"summary": "something"}
	if got := recalibrate(populated, 0.9); got != 0.9 {
		t.Fatalf("expected raw for populated record, got %v", got)
	}
	withRecords := map[string]interface{}{"records": []interface{}{map[string]interface{}{"a": 1}}}
	if got := recalibrate(withRecords, 0.8); got != 0.8 {
		t.Fatalf("expected raw for populated entity list, got %v", got)
	}
}
