package chunker

import (
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
)

func TestSmallDocumentSingleChunk(t *testing.T) {
	c := NewChunker(8000, arbor.NewLogger())
	doc := "# Title\n\nSome short content.\n"

	chunks := c.Chunk(doc)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != doc {
		t.Fatal("Single chunk should be the whole document")
	}
	if chunks[0].TotalChunks != 1 || chunks[0].ChunkIndex != 0 {
		t.Fatalf("Bad numbering: %d/%d", chunks[0].ChunkIndex, chunks[0].TotalChunks)
	}
}

func TestChunksReassembleToDocument(t *testing.T) {
	// Budget of 100 tokens = 400 chars forces splits.
	c := NewChunker(100, arbor.NewLogger())

	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString("## Section ")
		b.WriteByte(byte('A' + i))
		b.WriteString("\n\n")
		b.WriteString(strings.Repeat("lorem ipsum dolor sit amet ", 10))
		b.WriteString("\n\n")
	}
	doc := b.String()

	chunks := c.Chunk(doc)
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	var reassembled strings.Builder
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Fatalf("Chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if chunk.TotalChunks != len(chunks) {
			t.Fatalf("Chunk %d reports total %d, want %d", i, chunk.TotalChunks, len(chunks))
		}
		reassembled.WriteString(chunk.Content)
	}
	if reassembled.String() != doc {
		t.Fatal("Concatenated chunks should reproduce the document")
	}
}

func TestHeaderPathBreadcrumb(t *testing.T) {
	c := NewChunker(50, arbor.NewLogger())

	doc := "# Guide\n\n" + strings.Repeat("intro text ", 30) + "\n\n" +
		"## Install\n\n" + strings.Repeat("install text ", 30) + "\n\n" +
		"### Linux\n\n" + strings.Repeat("linux text ", 30) + "\n"

	chunks := c.Chunk(doc)
	if len(chunks) < 3 {
		t.Fatalf("Expected at least 3 chunks, got %d", len(chunks))
	}

	var linuxPath []string
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, "### Linux") {
			linuxPath = chunk.HeaderPath
		}
	}
	want := []string{"Guide", "Install", "Linux"}
	if len(linuxPath) != len(want) {
		t.Fatalf("Expected path %v, got %v", want, linuxPath)
	}
	for i := range want {
		if linuxPath[i] != want[i] {
			t.Fatalf("Expected path %v, got %v", want, linuxPath)
		}
	}
}

func TestHeadingSiblingResetsPath(t *testing.T) {
	c := NewChunker(10, arbor.NewLogger())

	doc := "# Top\n\n" + strings.Repeat("x ", 50) + "\n\n" +
		"## First\n\n" + strings.Repeat("y ", 50) + "\n\n" +
		"## Second\n\n" + strings.Repeat("z ", 50) + "\n"

	chunks := c.Chunk(doc)
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, "## Second") {
			if len(chunk.HeaderPath) != 2 || chunk.HeaderPath[1] != "Second" {
				t.Fatalf("Sibling heading should replace its level: %v", chunk.HeaderPath)
			}
			if chunk.HeaderPath[0] != "Top" {
				t.Fatalf("Parent should survive: %v", chunk.HeaderPath)
			}
		}
	}
}

func TestOversizedParagraphHardSplit(t *testing.T) {
	c := NewChunker(10, arbor.NewLogger()) // 40 char budget

	doc := strings.Repeat("a", 200) + "\n"
	chunks := c.Chunk(doc)
	if len(chunks) < 5 {
		t.Fatalf("Expected hard split into >=5 chunks, got %d", len(chunks))
	}
	var reassembled strings.Builder
	for _, chunk := range chunks {
		reassembled.WriteString(chunk.Content)
	}
	if reassembled.String() != doc {
		t.Fatal("Hard split must still reassemble")
	}
}

func TestDeepHeadingsStayInline(t *testing.T) {
	c := NewChunker(8000, arbor.NewLogger())
	doc := "# A\n\n#### Deep\n\ntext\n"
	chunks := c.Chunk(doc)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Fatalf("Expected 100 tokens, got %d", got)
	}
}
