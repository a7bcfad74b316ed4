package models

import (
	"fmt"
	"time"
)

// Project is the operator-defined unit of work: one extraction schema, one
// entity type list, one extraction context. Sources, extractions and
// entities are always scoped to a project.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"` // unique
	Description string    `json:"description,omitempty"`
	Deleted     bool      `json:"deleted"` // soft delete; rows are never hard-deleted while referenced

	Schema      ExtractionSchema `json:"schema"`
	EntityTypes []EntityType     `json:"entity_types"`
	Context     ExtractionContext `json:"context"`

	// Optional rule-based skip patterns (URL or content regex). A match
	// forces skip_extraction for the source.
	SkipURLPatterns     []string `json:"skip_url_patterns,omitempty"`
	SkipContentPatterns []string `json:"skip_content_patterns,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractionContext controls prompt wording and entity-list deduplication.
type ExtractionContext struct {
	SourceType     string   `json:"source_type"`      // e.g. "company websites"
	SourceLabel    string   `json:"source_label"`     // e.g. "Company"
	EntityIDFields []string `json:"entity_id_fields"` // ordered; first populated field keys entity-list merge
}

// EntityType describes one normalizable entity kind within a project.
type EntityType struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Normalization string `json:"normalization"` // "plan", "feature", "limit", "pricing" or "" for default
	ValueHint     string `json:"value_hint,omitempty"`
}

// Validate checks project integrity before persisting.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(p.Schema.FieldGroups) == 0 {
		return fmt.Errorf("project %s: extraction schema must define at least one field group", p.Name)
	}
	if err := p.Schema.Validate(); err != nil {
		return fmt.Errorf("project %s: %w", p.Name, err)
	}
	seen := make(map[string]bool)
	for _, et := range p.EntityTypes {
		if et.Name == "" {
			return fmt.Errorf("project %s: entity type with empty name", p.Name)
		}
		if seen[et.Name] {
			return fmt.Errorf("project %s: duplicate entity type %q", p.Name, et.Name)
		}
		seen[et.Name] = true
	}
	return nil
}

// EntityTypeByName looks up a project entity type.
func (p *Project) EntityTypeByName(name string) (EntityType, bool) {
	for _, et := range p.EntityTypes {
		if et.Name == name {
			return et, true
		}
	}
	return EntityType{}, false
}
