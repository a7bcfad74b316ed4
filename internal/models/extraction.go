package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Extraction is one schema-conforming record produced for a source. Data
// keys are the field names of the group named by ExtractionType. Immutable
// once written except EmbeddingID and EntitiesExtracted.
type Extraction struct {
	ID             string                 `json:"id"`
	ProjectID      string                 `json:"project_id"`
	SourceID       string                 `json:"source_id"`
	SourceGroup    string                 `json:"source_group"`
	ExtractionType string                 `json:"extraction_type"` // field group name
	Data           map[string]interface{} `json:"data"`
	Confidence     float64                `json:"confidence"` // [0,1]

	// EmbeddingID is nil until the vector point is stored; a nil value marks
	// the row as an orphan eligible for recovery and invisible to search.
	EmbeddingID       *string `json:"embedding_id"`
	EntitiesExtracted bool    `json:"entities_extracted"`

	CreatedAt time.Time `json:"created_at"`
}

// CanonicalText renders the extraction for embedding and dedup comparison:
// field name/value pairs in field-name order.
func (e *Extraction) CanonicalText() string {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if IsEmptyValue(e.Data[k]) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.ExtractionType)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		switch v := e.Data[k].(type) {
		case string:
			b.WriteString(v)
		default:
			encoded, err := json.Marshal(v)
			if err == nil {
				b.Write(encoded)
			}
		}
	}
	return b.String()
}

// IsEmpty reports whether every field in the extraction is null or empty.
func (e *Extraction) IsEmpty() bool {
	for _, v := range e.Data {
		if !IsEmptyValue(v) {
			return false
		}
	}
	return true
}

// Entity is a normalized value shared across extractions within one
// (project, source_group). (project_id, source_group, entity_type,
// normalized_value) is unique.
type Entity struct {
	ID              string                 `json:"id"`
	ProjectID       string                 `json:"project_id"`
	SourceGroup     string                 `json:"source_group"`
	EntityType      string                 `json:"entity_type"`
	NormalizedValue string                 `json:"normalized_value"`
	Value           string                 `json:"value"` // display form
	Attributes      map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// EntityKey builds the unique composite key for an entity row.
func EntityKey(projectID, sourceGroup, entityType, normalizedValue string) string {
	return fmt.Sprintf("%s|%s|%s|%s", projectID, sourceGroup, entityType, normalizedValue)
}

// ExtractionEntity links an extraction to an entity with a role. Unique on
// the triple; creation is idempotent.
type ExtractionEntity struct {
	ID           string    `json:"id"` // composite key extraction|entity|role
	ExtractionID string    `json:"extraction_id"`
	EntityID     string    `json:"entity_id"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkKey builds the unique composite key for an extraction-entity link.
func LinkKey(extractionID, entityID, role string) string {
	return fmt.Sprintf("%s|%s|%s", extractionID, entityID, role)
}
