package boilerplate

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// blockSplit cuts markdown into blocks at blank-line boundaries.
var blockSplit = regexp.MustCompile(`\n\s*\n`)

// Engine detects blocks repeated across pages of one (project, domain) and
// strips them before extraction. Repetition is measured per page, not per
// occurrence, so a block repeated within a single page is not boilerplate.
type Engine struct {
	sources interfaces.SourceStorage
	store   interfaces.BoilerplateStorage
	config  *common.BoilerplateConfig
	logger  arbor.ILogger
}

// NewEngine creates a new Engine instance.
func NewEngine(sources interfaces.SourceStorage, store interfaces.BoilerplateStorage, config *common.BoilerplateConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		sources: sources,
		store:   store,
		config:  config,
		logger:  logger,
	}
}

// SplitBlocks returns the blank-line-delimited blocks of a document.
func SplitBlocks(content string) []string {
	return blockSplit.Split(content, -1)
}

// Analyze recomputes the boilerplate fingerprint for a domain from every
// stored page and persists it. With fewer pages than min_pages the result
// is an empty hash set.
func (e *Engine) Analyze(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error) {
	pages, err := e.sources.GetByProjectAndDomain(ctx, projectID, domain)
	if err != nil {
		return nil, err
	}

	minPages := e.config.MinPages
	if minPages <= 0 {
		minPages = 5
	}
	minBlockChars := e.config.MinBlockChars
	if minBlockChars <= 0 {
		minBlockChars = 50
	}
	thresholdPct := e.config.ThresholdPct
	if thresholdPct <= 0 {
		thresholdPct = 0.7
	}

	// Pages per hash, each page counted once.
	pageCounts := make(map[string]int)
	blocksTotal := 0
	for _, page := range pages {
		seen := make(map[string]bool)
		for _, block := range SplitBlocks(page.Content) {
			if len(strings.TrimSpace(block)) < minBlockChars {
				continue
			}
			blocksTotal++
			h := common.BlockHash(block)
			if !seen[h] {
				seen[h] = true
				pageCounts[h]++
			}
		}
	}

	threshold := int(math.Floor(float64(len(pages)) * thresholdPct))
	if threshold < minPages {
		threshold = minPages
	}

	var hashes []string
	for h, count := range pageCounts {
		if count >= threshold {
			hashes = append(hashes, h)
		}
	}

	// Average strip yield across the analyzed pages, so operators can see
	// what the fingerprint is worth before it runs against new content.
	bytesRemovedAvg := 0
	if len(hashes) > 0 && len(pages) > 0 {
		set := make(map[string]bool, len(hashes))
		for _, h := range hashes {
			set[h] = true
		}
		totalRemoved := 0
		for _, page := range pages {
			_, removed := StripWithHashes(page.Content, set, minBlockChars)
			totalRemoved += removed
		}
		bytesRemovedAvg = totalRemoved / len(pages)
	}

	bp := &models.DomainBoilerplate{
		ProjectID:         projectID,
		Domain:            domain,
		BoilerplateHashes: hashes,
		ThresholdPct:      thresholdPct,
		MinPages:          minPages,
		MinBlockChars:     minBlockChars,
		PagesAnalyzed:     len(pages),
		BlocksTotal:       blocksTotal,
		BlocksBoilerplate: len(hashes),
		BytesRemovedAvg:   bytesRemovedAvg,
	}
	if err := e.store.Store(ctx, bp); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("project_id", projectID).
		Str("domain", domain).
		Int("pages", len(pages)).
		Int("boilerplate_blocks", len(hashes)).
		Msg("Boilerplate analysis complete")
	return bp, nil
}

// Strip removes boilerplate blocks from a document using the stored
// fingerprint. Blocks under the size floor always survive. Without a stored
// fingerprint the content passes through untouched.
func (e *Engine) Strip(ctx context.Context, projectID, domain, content string) (string, int, error) {
	bp, err := e.store.Get(ctx, projectID, domain)
	if err != nil {
		if err == interfaces.ErrKeyNotFound {
			return content, 0, nil
		}
		return "", 0, err
	}
	cleaned, removed := StripWithHashes(content, bp.HashSet(), bp.MinBlockChars)
	return cleaned, removed, nil
}

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// StripWithHashes removes the blocks whose hash is in the set, preserving
// the separators between survivors and collapsing the newline runs left by
// dropped blocks. Returns the cleaned text and the byte count removed.
func StripWithHashes(content string, hashes map[string]bool, minBlockChars int) (string, int) {
	if len(hashes) == 0 {
		return content, 0
	}

	separators := blockSplit.FindAllStringIndex(content, -1)
	var b strings.Builder
	prev := 0
	for i := 0; i <= len(separators); i++ {
		var blockEnd, sepEnd int
		if i < len(separators) {
			blockEnd, sepEnd = separators[i][0], separators[i][1]
		} else {
			blockEnd, sepEnd = len(content), len(content)
		}
		block := content[prev:blockEnd]
		if !(len(strings.TrimSpace(block)) >= minBlockChars && hashes[common.BlockHash(block)]) {
			b.WriteString(block)
			b.WriteString(content[blockEnd:sepEnd])
		}
		prev = sepEnd
	}

	cleaned := newlineRuns.ReplaceAllString(b.String(), "\n\n")
	return cleaned, len(content) - len(cleaned)
}
