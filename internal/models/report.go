package models

import "time"

// GroupSummary aggregates extraction results for one source_group.
type GroupSummary struct {
	SourceGroup      string  `json:"source_group"`
	Sources          int     `json:"sources"`
	Extractions      int     `json:"extractions"`
	Entities         int     `json:"entities"`
	AvgConfidence    float64 `json:"avg_confidence"`
	EmbeddedFraction float64 `json:"embedded_fraction"` // share of extractions with a vector point
}

// Report is the persisted output of a report job. Rendering (tables, export)
// happens outside the core.
type Report struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Groups      []GroupSummary `json:"groups"`
	GeneratedAt time.Time      `json:"generated_at"`
}
