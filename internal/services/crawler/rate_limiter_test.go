package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
)

func newTestLimiter(t *testing.T, config *common.ScrapeConfig) *RateLimiter {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRateLimiter(badgerstore.NewKVStorage(db, logger), config, logger)
}

func TestRateLimiterDailyBudget(t *testing.T) {
	limiter := newTestLimiter(t, &common.ScrapeConfig{
		DailyLimit:             3,
		MaxConcurrentPerDomain: 5,
		DelayMin:               time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(ctx, "example.com"); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
		limiter.Release("example.com")
	}
	if err := limiter.Acquire(ctx, "example.com"); err != interfaces.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiterBudgetIsPerDomain(t *testing.T) {
	limiter := newTestLimiter(t, &common.ScrapeConfig{
		DailyLimit:             1,
		MaxConcurrentPerDomain: 5,
		DelayMin:               time.Millisecond,
	})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "a.example.com"); err != nil {
		t.Fatalf("first domain should pass: %v", err)
	}
	limiter.Release("a.example.com")
	if err := limiter.Acquire(ctx, "b.example.com"); err != nil {
		t.Fatalf("second domain has its own budget: %v", err)
	}
	limiter.Release("b.example.com")
	if err := limiter.Acquire(ctx, "a.example.com"); err != interfaces.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on exhausted domain, got %v", err)
	}
}

func TestRateLimiterConcurrencyBound(t *testing.T) {
	limiter := newTestLimiter(t, &common.ScrapeConfig{
		DailyLimit:             100,
		MaxConcurrentPerDomain: 1,
		DelayMin:               time.Millisecond,
	})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "example.com"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Second acquire must block until the slot frees.
	blockedCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(blockedCtx, "example.com"); err == nil {
		t.Fatal("second acquire should block while the slot is held")
	}

	limiter.Release("example.com")
	if err := limiter.Acquire(ctx, "example.com"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	limiter.Release("example.com")
}

func TestRateLimiterPacesRequests(t *testing.T) {
	limiter := newTestLimiter(t, &common.ScrapeConfig{
		DailyLimit:             100,
		MaxConcurrentPerDomain: 5,
		DelayMin:               50 * time.Millisecond,
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(ctx, "example.com"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		limiter.Release("example.com")
	}
	// Token bucket starts with one burst token, so three requests take at
	// least two refill intervals.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("requests were not paced: %v", elapsed)
	}
}

func TestRateLimiterDailyCount(t *testing.T) {
	limiter := newTestLimiter(t, &common.ScrapeConfig{
		DailyLimit:             10,
		MaxConcurrentPerDomain: 5,
		DelayMin:               time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := limiter.Acquire(ctx, "example.com"); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		limiter.Release("example.com")
	}
	count, err := limiter.DailyCount(ctx, "example.com")
	if err != nil {
		t.Fatalf("failed to read count: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
}
