package extraction

import (
	"strings"
	"testing"
)

func TestCleanStructuralRemovesScripts(t *testing.T) {
	input := "Before\n<script type=\"text/javascript\">\nvar x = 1;\n</script>\nAfter"
	out := CleanStructural(input)
	if strings.Contains(out, "var x") {
		t.Fatalf("script content survived: %q", out)
	}
	if !strings.Contains(out, "Before") || !strings.Contains(out, "After") {
		t.Fatalf("surrounding text lost: %q", out)
	}
}

func TestCleanStructuralRemovesTrackerImages(t *testing.T) {
	input := "Text ![](https://example.com/pixel.gif?utm_source=x) more text"
	out := CleanStructural(input)
	if strings.Contains(out, "pixel.gif") {
		t.Fatalf("tracker image survived: %q", out)
	}
	if !strings.Contains(out, "more text") {
		t.Fatalf("text lost: %q", out)
	}
}

func TestCleanStructuralDropsNavClusters(t *testing.T) {
	input := strings.Join([]string{
		"# Pricing",
		"",
		"[Home](/)",
		"[About](/about)",
		"[Contact](/contact)",
		"[Blog](/blog)",
		"",
		"Our plans start at $9.",
	}, "\n")
	out := CleanStructural(input)
	if strings.Contains(out, "[About]") {
		t.Fatalf("nav cluster survived: %q", out)
	}
	if !strings.Contains(out, "Our plans start at $9.") {
		t.Fatalf("body text lost: %q", out)
	}
}

func TestCleanStructuralKeepsIsolatedLinks(t *testing.T) {
	input := "See [the docs](/docs) for details.\n\nMore prose here."
	out := CleanStructural(input)
	if !strings.Contains(out, "[the docs](/docs)") {
		t.Fatalf("inline link removed: %q", out)
	}
}

func TestCleanStructuralCollapsesBlankRuns(t *testing.T) {
	out := CleanStructural("a\n\n\n\n\nb")
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("blank run survived: %q", out)
	}
}
