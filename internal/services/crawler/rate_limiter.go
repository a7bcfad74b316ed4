package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// dailyCounterKey tracks requests per domain per UTC day.
func dailyCounterKey(domain string) string {
	return fmt.Sprintf("scrape:count:%s:%s", domain, time.Now().UTC().Format("2006-01-02"))
}

// RateLimiter throttles outbound fetches per domain: a token bucket paces
// request rate, a semaphore bounds in-flight requests, a KV counter enforces
// the daily budget, and a randomized delay keeps the traffic pattern
// irregular.
type RateLimiter struct {
	kv     interfaces.KVStorage
	config *common.ScrapeConfig
	logger arbor.ILogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}
	rng      *rand.Rand
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(kv interfaces.KVStorage, config *common.ScrapeConfig, logger arbor.ILogger) *RateLimiter {
	return &RateLimiter{
		kv:       kv,
		config:   config,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		slots:    make(map[string]chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire blocks until a request to the domain may proceed, or fails with
// ErrRateLimited when the daily budget is exhausted. Every successful
// Acquire must be paired with Release.
func (r *RateLimiter) Acquire(ctx context.Context, domain string) error {
	if r.config.DailyLimit > 0 {
		count, err := r.kv.IncrWithTTL(ctx, dailyCounterKey(domain), 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to track daily count for %s: %w", domain, err)
		}
		if count > int64(r.config.DailyLimit) {
			r.logger.Warn().
				Str("domain", domain).
				Int64("count", count).
				Int("limit", r.config.DailyLimit).
				Msg("Daily scrape budget exhausted")
			return interfaces.ErrRateLimited
		}
	}

	select {
	case r.slot(domain) <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.limiter(domain).Wait(ctx); err != nil {
		<-r.slot(domain)
		return err
	}

	delay := r.randomDelay()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			<-r.slot(domain)
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the domain's in-flight slot.
func (r *RateLimiter) Release(domain string) {
	select {
	case <-r.slot(domain):
	default:
	}
}

// DailyCount returns today's request count for a domain.
func (r *RateLimiter) DailyCount(ctx context.Context, domain string) (int64, error) {
	return r.kv.GetCounter(ctx, dailyCounterKey(domain))
}

func (r *RateLimiter) slot(domain string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.slots[domain]
	if !ok {
		size := r.config.MaxConcurrentPerDomain
		if size <= 0 {
			size = 2
		}
		ch = make(chan struct{}, size)
		r.slots[domain] = ch
	}
	return ch
}

func (r *RateLimiter) limiter(domain string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[domain]
	if !ok {
		minDelay := r.config.DelayMin
		if minDelay <= 0 {
			minDelay = time.Second
		}
		l = rate.NewLimiter(rate.Every(minDelay), 1)
		r.limiters[domain] = l
	}
	return l
}

// randomDelay returns a uniform extra delay in [0, delay_max - delay_min].
func (r *RateLimiter) randomDelay() time.Duration {
	spread := r.config.DelayMax - r.config.DelayMin
	if spread <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.rng.Int63n(int64(spread)))
}
