package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

const userAgent = "kx-crawler/1.0"

// HTTPFetcher implements the Fetcher interface over plain HTTP with
// goquery parsing and markdown conversion. Crawls run in-process as a
// breadth-first walk restricted to the start host.
type HTTPFetcher struct {
	client    *http.Client
	converter *htmltomarkdown.Converter
	limiter   *RateLimiter
	logger    arbor.ILogger

	mu     sync.Mutex
	crawls map[string]*crawlState
}

// crawlState is the mutable progress of one in-flight crawl.
type crawlState struct {
	mu     sync.Mutex
	status interfaces.CrawlStatus
	cancel context.CancelFunc
}

func (c *crawlState) snapshot() *interfaces.CrawlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := c.status
	copied.Pages = append([]interfaces.ScrapeResult(nil), c.status.Pages...)
	return &copied
}

// NewHTTPFetcher creates a new HTTPFetcher instance.
func NewHTTPFetcher(limiter *RateLimiter, fetchTimeout time.Duration, logger arbor.ILogger) *HTTPFetcher {
	if fetchTimeout <= 0 {
		fetchTimeout = 180 * time.Second
	}
	converter := htmltomarkdown.NewConverter("", true, nil)
	return &HTTPFetcher{
		client:    &http.Client{Timeout: fetchTimeout},
		converter: converter,
		limiter:   limiter,
		logger:    logger,
		crawls:    make(map[string]*crawlState),
	}
}

// Scrape fetches one URL and converts it to markdown.
func (f *HTTPFetcher) Scrape(ctx context.Context, rawURL string) (*interfaces.ScrapeResult, error) {
	domain := common.ExtractDomain(rawURL)
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx, domain); err != nil {
			return nil, err
		}
		defer f.limiter.Release(domain)
	}
	return f.fetch(ctx, rawURL)
}

func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string) (*interfaces.ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return nil, fmt.Errorf("fetch %s: unsupported content type %s", rawURL, contentType)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	// Drop chrome before conversion so the markdown starts closer to content.
	doc.Find("script, style, noscript, iframe, svg").Remove()

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", rawURL, err)
	}
	markdown, err := f.converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to markdown: %w", rawURL, err)
	}

	return &interfaces.ScrapeResult{
		URL:      rawURL,
		Title:    title,
		Markdown: markdown,
		Links:    extractLinks(doc, rawURL),
		Metadata: map[string]interface{}{
			"domain":       common.ExtractDomain(rawURL),
			"content_type": contentType,
			"fetched_at":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// extractLinks resolves every same-host anchor to an absolute, fragment-free
// URL.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Host, base.Host) {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links
}

// StartCrawl begins a breadth-first walk rooted at the URL and returns its
// crawl id immediately.
func (f *HTTPFetcher) StartCrawl(ctx context.Context, rawURL string, maxPages, maxDepth int) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", fmt.Errorf("invalid crawl root %s: %w", rawURL, err)
	}
	if maxPages <= 0 {
		maxPages = 100
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	crawlCtx, cancel := context.WithCancel(context.Background())
	state := &crawlState{
		status: interfaces.CrawlStatus{
			CrawlID: uuid.New().String(),
			State:   "running",
		},
		cancel: cancel,
	}

	f.mu.Lock()
	f.crawls[state.status.CrawlID] = state
	f.mu.Unlock()

	go f.runCrawl(crawlCtx, state, rawURL, maxPages, maxDepth)

	f.logger.Info().
		Str("crawl_id", state.status.CrawlID).
		Str("url", rawURL).
		Int("max_pages", maxPages).
		Int("max_depth", maxDepth).
		Msg("Crawl started")
	return state.status.CrawlID, nil
}

func (f *HTTPFetcher) runCrawl(ctx context.Context, state *crawlState, rootURL string, maxPages, maxDepth int) {
	type queued struct {
		url   string
		depth int
	}
	visited := map[string]bool{rootURL: true}
	queue := []queued{{url: rootURL, depth: 0}}

	finish := func(finalState, errMsg string) {
		state.mu.Lock()
		state.status.State = finalState
		state.status.Error = errMsg
		state.mu.Unlock()
	}

	fetched := 0
	for len(queue) > 0 && fetched < maxPages {
		if ctx.Err() != nil {
			finish("failed", "crawl cancelled")
			return
		}
		next := queue[0]
		queue = queue[1:]

		result, err := f.Scrape(ctx, next.url)
		if err != nil {
			if err == interfaces.ErrRateLimited {
				finish("failed", "daily scrape budget exhausted")
				return
			}
			f.logger.Warn().Err(err).Str("url", next.url).Msg("Crawl page fetch failed")
			continue
		}
		fetched++

		state.mu.Lock()
		state.status.Pages = append(state.status.Pages, *result)
		state.status.PageCount = fetched
		state.mu.Unlock()

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range result.Links {
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, queued{url: link, depth: next.depth + 1})
		}
	}

	finish("completed", "")
	f.logger.Info().
		Str("crawl_id", state.status.CrawlID).
		Int("pages", fetched).
		Msg("Crawl completed")
}

// GetCrawlStatus returns a snapshot of a crawl's progress.
func (f *HTTPFetcher) GetCrawlStatus(ctx context.Context, crawlID string) (*interfaces.CrawlStatus, error) {
	f.mu.Lock()
	state, ok := f.crawls[crawlID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown crawl %s", crawlID)
	}
	return state.snapshot(), nil
}

// CancelCrawl stops a running crawl. Already-finished crawls are a no-op.
func (f *HTTPFetcher) CancelCrawl(ctx context.Context, crawlID string) error {
	f.mu.Lock()
	state, ok := f.crawls[crawlID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown crawl %s", crawlID)
	}
	state.cancel()
	return nil
}
