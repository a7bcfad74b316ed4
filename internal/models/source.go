package models

import (
	"fmt"
	"time"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
)

// SourceStatus is the lifecycle state of a crawled page.
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusExtracted SourceStatus = "extracted"
	SourceStatusFailed    SourceStatus = "failed"
)

// Source is one fetched page within a project, identified by
// (project_id, uri). Content is written by the scrape/crawl workers;
// CleanedContent and Status by the extraction pipeline.
type Source struct {
	ID          string       `json:"id"` // derived from (project_id, uri)
	ProjectID   string       `json:"project_id"`
	URI         string       `json:"uri"`
	SourceGroup string       `json:"source_group"` // human grouping label, e.g. company name
	Title       string       `json:"title,omitempty"`

	Content        string  `json:"content"`         // processed markdown
	CleanedContent *string `json:"cleaned_content"` // post-boilerplate; nil until computed

	Metadata map[string]interface{} `json:"metadata"` // includes "domain"
	Status   SourceStatus           `json:"status"`
	Errors   []string               `json:"errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Domain returns the metadata domain, falling back to parsing the URI.
func (s *Source) Domain() string {
	if s.Metadata != nil {
		if d, ok := s.Metadata["domain"].(string); ok && d != "" {
			return d
		}
	}
	return common.ExtractDomain(s.URI)
}

// ExtractionContent returns the text extraction should run on: the cleaned
// content when present and non-empty, otherwise the raw content. An empty
// cleaned result must never cause a vacuous extraction.
func (s *Source) ExtractionContent() string {
	if s.CleanedContent != nil && *s.CleanedContent != "" {
		return *s.CleanedContent
	}
	return s.Content
}

// Validate checks required identity fields.
func (s *Source) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("source project_id is required")
	}
	if s.URI == "" {
		return fmt.Errorf("source uri is required")
	}
	return nil
}
