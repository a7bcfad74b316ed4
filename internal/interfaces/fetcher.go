package interfaces

import "context"

// ScrapeResult is the fetched, markdown-converted content of one URL.
type ScrapeResult struct {
	URL      string
	Title    string
	Markdown string
	Links    []string
	Metadata map[string]interface{}
}

// CrawlStatus reports progress of a fetcher-side crawl.
type CrawlStatus struct {
	CrawlID   string
	State     string // "running", "completed", "failed"
	Pages     []ScrapeResult
	PageCount int
	Error     string
}

// Fetcher - interface for page retrieval, single-page and whole-site
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
	// StartCrawl begins an asynchronous site crawl rooted at the URL.
	StartCrawl(ctx context.Context, url string, maxPages, maxDepth int) (string, error)
	GetCrawlStatus(ctx context.Context, crawlID string) (*CrawlStatus, error)
	CancelCrawl(ctx context.Context, crawlID string) error
}
