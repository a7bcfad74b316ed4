package models

import "testing"

func TestSourceDomainPrefersMetadata(t *testing.T) {
	s := &Source{
		URI:      "https://www.example.com/pricing",
		Metadata: map[string]interface{}{"domain": "example.com"},
	}
	if got := s.Domain(); got != "example.com" {
		t.Fatalf("expected metadata domain, got %q", got)
	}
}

func TestSourceDomainFallsBackToURI(t *testing.T) {
	s := &Source{URI: "https://Docs.Example.com/guide"}
	if got := s.Domain(); got != "docs.example.com" {
		t.Fatalf("expected host parsed from uri, got %q", got)
	}

	s.Metadata = map[string]interface{}{"domain": ""}
	if got := s.Domain(); got != "docs.example.com" {
		t.Fatalf("empty metadata domain should fall back, got %q", got)
	}
}

func TestExtractionContentPrefersCleaned(t *testing.T) {
	cleaned := "cleaned"
	s := &Source{Content: "raw", CleanedContent: &cleaned}
	if s.ExtractionContent() != "cleaned" {
		t.Fatal("cleaned content should win when present")
	}

	empty := ""
	s.CleanedContent = &empty
	if s.ExtractionContent() != "raw" {
		t.Fatal("empty cleaned content must fall back to raw")
	}
}
