package boilerplate

import (
	"context"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

func newTestEngine(t *testing.T) (*Engine, interfaces.SourceStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	sources := badgerstore.NewSourceStorage(db, logger)
	store := badgerstore.NewBoilerplateStorage(db, logger)
	config := &common.BoilerplateConfig{ThresholdPct: 0.7, MinPages: 3, MinBlockChars: 50}
	return NewEngine(sources, store, config, logger), sources
}

func storePage(t *testing.T, sources interfaces.SourceStorage, projectID, uri, content string) {
	t.Helper()
	src := &models.Source{
		ID:        common.SourceID(projectID, uri),
		ProjectID: projectID,
		URI:       uri,
		Content:   content,
		Metadata:  map[string]interface{}{"domain": "example.com"},
		Status:    models.SourceStatusPending,
	}
	if err := sources.Store(context.Background(), src); err != nil {
		t.Fatal(err)
	}
}

const navBlock = "Home | Products | About Us | Contact | Careers | Privacy Policy"
const footerBlock = "Copyright 2026 Example Corp. All rights reserved. Registered in Finland."

func TestAnalyzeDetectsRepeatedBlocks(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		unique := "Page body " + strings.Repeat("unique content ", 5) + string(rune('A'+i))
		content := navBlock + "\n\n" + unique + "\n\n" + footerBlock
		storePage(t, sources, "p1", "https://example.com/page"+string(rune('a'+i)), content)
	}

	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if bp.PagesAnalyzed != 5 {
		t.Fatalf("Expected 5 pages, got %d", bp.PagesAnalyzed)
	}

	hashes := bp.HashSet()
	if !hashes[common.BlockHash(navBlock)] {
		t.Fatal("Nav block should be boilerplate")
	}
	if !hashes[common.BlockHash(footerBlock)] {
		t.Fatal("Footer block should be boilerplate")
	}
	if hashes[common.BlockHash("Page body unique content A")] {
		t.Fatal("Unique blocks must not be boilerplate")
	}
}

func TestAnalyzeComputesBytesRemovedAvg(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		unique := "Page body " + strings.Repeat("unique content ", 5) + string(rune('A'+i))
		content := navBlock + "\n\n" + unique + "\n\n" + footerBlock
		storePage(t, sources, "p1", "https://example.com/page"+string(rune('a'+i)), content)
	}

	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	// Every analyzed page loses both repeated blocks, so the average must
	// cover at least their combined length.
	if bp.BytesRemovedAvg < len(navBlock)+len(footerBlock) {
		t.Fatalf("Expected average of at least %d bytes removed, got %d",
			len(navBlock)+len(footerBlock), bp.BytesRemovedAvg)
	}

	// The counter persists with the fingerprint.
	stored, _, err := engine.Strip(ctx, "p1", "example.com", navBlock+"\n\nbody text long enough to survive the floor\n\n"+footerBlock)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stored, "Home | Products") {
		t.Fatal("Fingerprint should strip after analysis")
	}
}

func TestAnalyzeWithoutBoilerplateLeavesAvgZero(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		storePage(t, sources, "p1", "https://example.com/"+string(rune('a'+i)),
			"Entirely distinct page content with nothing shared across pages, variant "+string(rune('A'+i)))
	}
	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if bp.BytesRemovedAvg != 0 {
		t.Fatalf("No boilerplate means nothing removed, got %d", bp.BytesRemovedAvg)
	}
}

func TestAnalyzeRequiresMinPages(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	// Two identical pages, below the min_pages floor of 3.
	for i := 0; i < 2; i++ {
		storePage(t, sources, "p1", "https://example.com/"+string(rune('a'+i)), navBlock+"\n\nbody")
	}
	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(bp.BoilerplateHashes) != 0 {
		t.Fatalf("Below min_pages nothing is boilerplate, got %d hashes", len(bp.BoilerplateHashes))
	}
}

func TestRepetitionWithinOnePageDoesNotCount(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	// One page repeats the block five times; others never contain it.
	repeated := strings.Repeat(navBlock+"\n\n", 5)
	storePage(t, sources, "p1", "https://example.com/a", repeated)
	for i := 1; i < 5; i++ {
		storePage(t, sources, "p1", "https://example.com/"+string(rune('a'+i)),
			"Distinct body text long enough to clear the size floor, page "+string(rune('A'+i)))
	}

	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if bp.HashSet()[common.BlockHash(navBlock)] {
		t.Fatal("A block repeated on a single page is not boilerplate")
	}
}

func TestShortBlocksIgnored(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	short := "Menu" // under min_block_chars
	for i := 0; i < 5; i++ {
		storePage(t, sources, "p1", "https://example.com/"+string(rune('a'+i)),
			short+"\n\nLonger unique page content to give the page some body, variant "+string(rune('A'+i)))
	}
	bp, err := engine.Analyze(ctx, "p1", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if bp.HashSet()[common.BlockHash(short)] {
		t.Fatal("Blocks under the size floor are never boilerplate")
	}
}

func TestStripRemovesBoilerplate(t *testing.T) {
	engine, sources := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		unique := "Important facts about product " + string(rune('A'+i)) + " that extraction needs to see."
		storePage(t, sources, "p1", "https://example.com/"+string(rune('a'+i)),
			navBlock+"\n\n"+unique+"\n\n"+footerBlock)
	}
	if _, err := engine.Analyze(ctx, "p1", "example.com"); err != nil {
		t.Fatal(err)
	}

	content := navBlock + "\n\nImportant facts about product A that extraction needs to see.\n\n" + footerBlock
	stripped, removed, err := engine.Strip(ctx, "p1", "example.com", content)
	if err != nil {
		t.Fatal(err)
	}
	if removed != len(content)-len(stripped) {
		t.Fatalf("Removed byte count %d does not match %d", removed, len(content)-len(stripped))
	}
	if removed == 0 {
		t.Fatal("Expected bytes to be removed")
	}
	if strings.Contains(stripped, "Home | Products") {
		t.Fatal("Nav block should be stripped")
	}
	if strings.Contains(stripped, "Copyright 2026") {
		t.Fatal("Footer block should be stripped")
	}
	if !strings.Contains(stripped, "Important facts about product A") {
		t.Fatal("Unique content must survive stripping")
	}
}

func TestStripWithoutFingerprintPassesThrough(t *testing.T) {
	engine, _ := newTestEngine(t)
	content := "anything\n\nat all"
	stripped, removed, err := engine.Strip(context.Background(), "p1", "unknown.domain", content)
	if err != nil {
		t.Fatal(err)
	}
	if stripped != content || removed != 0 {
		t.Fatal("Without a fingerprint content passes through")
	}
}

func TestBlockHashNormalization(t *testing.T) {
	a := common.BlockHash("Hello   World\nFoo")
	b := common.BlockHash("hello world foo")
	if a != b {
		t.Fatal("Hashing should collapse whitespace and case")
	}
	if len(a) != 16 {
		t.Fatalf("Expected 16 hex chars, got %d", len(a))
	}
}
