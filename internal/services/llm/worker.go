package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/broker"
)

// adaptInterval is how often the worker re-evaluates its concurrency.
const adaptInterval = 10 * time.Second

// outcomeWindow tracks recent call results for concurrency adaptation.
type outcomeWindow struct {
	mu        sync.Mutex
	outcomes  []models.LMResponseStatus
	successes int // successes since last upward adjustment
}

func (w *outcomeWindow) record(status models.LMResponseStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes = append(w.outcomes, status)
	if len(w.outcomes) > 100 {
		w.outcomes = w.outcomes[1:]
	}
	if status == models.LMResponseSuccess {
		w.successes++
	}
}

// rates returns the timeout fraction over the window and the success count
// since the last reset. The rate is timeouts over successes plus timeouts;
// plain errors carry no load signal and stay out of the denominator.
func (w *outcomeWindow) rates() (timeoutRate float64, successes, samples int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	timeouts, completed := 0, 0
	for _, s := range w.outcomes {
		switch s {
		case models.LMResponseTimeout:
			timeouts++
			completed++
		case models.LMResponseSuccess:
			completed++
		}
	}
	if completed == 0 {
		return 0, w.successes, 0
	}
	return float64(timeouts) / float64(completed), w.successes, completed
}

func (w *outcomeWindow) resetSuccesses() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successes = 0
}

// Worker consumes the LM request stream, fans calls out to the endpoint and
// writes responses back to the KV layer. Concurrency adapts to observed
// timeout rates.
type Worker struct {
	id       string
	kv       interfaces.KVStorage
	endpoint interfaces.LMEndpoint
	config   *common.LLMConfig
	logger   arbor.ILogger

	mu          sync.Mutex
	concurrency int

	window         outcomeWindow
	pollInterval   time.Duration
	requestTimeout time.Duration
	responseTTL    time.Duration

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewWorker creates a new Worker instance.
func NewWorker(id string, kv interfaces.KVStorage, endpoint interfaces.LMEndpoint, config *common.LLMConfig, logger arbor.ILogger) *Worker {
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Minute
	}
	responseTTL := config.ResponseTTL
	if responseTTL <= 0 {
		responseTTL = 5 * time.Minute
	}
	concurrency := config.InitialConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Worker{
		id:             id,
		kv:             kv,
		endpoint:       endpoint,
		config:         config,
		logger:         logger,
		concurrency:    concurrency,
		pollInterval:   pollInterval,
		requestTimeout: requestTimeout,
		responseTTL:    responseTTL,
	}
}

// Start launches the consume loop.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	w.logger.Info().
		Str("worker_id", w.id).
		Str("model", w.endpoint.ModelName()).
		Int("concurrency", w.concurrency).
		Msg("LM worker started")
}

// Stop signals the loop and waits for in-flight calls to finish.
func (w *Worker) Stop() {
	if w.stop != nil {
		w.stop()
	}
	w.wg.Wait()
	w.logger.Info().Str("worker_id", w.id).Msg("LM worker stopped")
}

// Concurrency returns the current adaptive batch size.
func (w *Worker) Concurrency() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.concurrency
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	lastAdapt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		batch := w.Concurrency()

		// Re-deliver entries a crashed consumer left pending.
		reclaimed, err := w.kv.StreamReclaim(ctx, broker.RequestStream, broker.ConsumerGroup, w.id, w.requestTimeout, batch)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to reclaim pending LM requests")
		}
		fresh, err := w.kv.StreamReadGroup(ctx, broker.RequestStream, broker.ConsumerGroup, w.id, batch-len(reclaimed))
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to read LM request stream")
			continue
		}
		entries := append(reclaimed, fresh...)
		if len(entries) == 0 {
			continue
		}

		var batchWG sync.WaitGroup
		for _, entry := range entries {
			batchWG.Add(1)
			go func(entry interfaces.StreamEntry) {
				defer batchWG.Done()
				w.process(ctx, entry)
			}(entry)
		}
		batchWG.Wait()
		if time.Since(lastAdapt) >= adaptInterval {
			w.adapt()
			lastAdapt = time.Now()
		}
	}
}

func (w *Worker) process(ctx context.Context, entry interfaces.StreamEntry) {
	var req models.LMRequest
	if err := json.Unmarshal(entry.Value, &req); err != nil {
		w.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Dropping malformed LM request")
		_ = w.kv.ListPush(ctx, broker.DeadLetterList, entry.Value)
		_ = w.kv.StreamAck(ctx, broker.RequestStream, broker.ConsumerGroup, entry.ID)
		return
	}

	start := time.Now()
	resp := w.execute(ctx, &req)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	resp.CompletedAt = time.Now()

	w.window.record(resp.Status)

	encoded, err := json.Marshal(resp)
	if err == nil {
		if err := w.kv.SetWithTTL(ctx, broker.ResponseKey(req.RequestID), encoded, w.responseTTL); err != nil {
			w.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to store LM response")
		}
	}
	// Only requests that exhausted their retries are dead-lettered; expired
	// requests just get a timeout response and the ack.
	if resp.Status == models.LMResponseError {
		w.deadLetter(ctx, &req, resp.Error)
	}
	if err := w.kv.StreamAck(ctx, broker.RequestStream, broker.ConsumerGroup, entry.ID); err != nil {
		w.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to ack LM request")
	}
}

// execute runs the call with the retry and temperature schedule. Attempt k
// uses base + (k-1) * increment.
func (w *Worker) execute(ctx context.Context, req *models.LMRequest) *models.LMResponse {
	resp := &models.LMResponse{RequestID: req.RequestID}

	if time.Now().After(req.TimeoutAt) {
		resp.Status = models.LMResponseTimeout
		resp.Error = "request expired before processing"
		return resp
	}

	maxAttempts := w.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if time.Now().After(req.TimeoutAt) {
			resp.Status = models.LMResponseTimeout
			resp.Error = fmt.Sprintf("request expired after %d attempts: %v", attempt-1, lastErr)
			return resp
		}
		temperature := w.config.BaseTemperature + float64(attempt-1+req.RetryCount)*w.config.TemperatureIncrement
		if temperature > 1.0 {
			temperature = 1.0
		}
		text, err := w.endpoint.Complete(ctx, req.Messages, interfaces.CompletionOptions{
			MaxTokens:   req.MaxTokens,
			Temperature: temperature,
			JSONMode:    req.JSONMode,
		})
		if err == nil {
			resp.Status = models.LMResponseSuccess
			resp.Result = json.RawMessage(mustMarshalText(text))
			return resp
		}
		lastErr = err
		w.logger.Warn().
			Err(err).
			Str("request_id", req.RequestID).
			Int("attempt", attempt).
			Float64("temperature", temperature).
			Msg("LM call failed")
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || strings.Contains(lastErr.Error(), "deadline exceeded") {
		resp.Status = models.LMResponseTimeout
	} else {
		resp.Status = models.LMResponseError
	}
	resp.Error = lastErr.Error()
	return resp
}

func (w *Worker) deadLetter(ctx context.Context, req *models.LMRequest, reason string) {
	record := map[string]interface{}{
		"request_id":   req.RequestID,
		"request_type": req.RequestType,
		"retry_count":  req.RetryCount,
		"error":        reason,
		"failed_at":    time.Now(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := w.kv.ListPush(ctx, broker.DeadLetterList, encoded); err != nil {
		w.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to dead-letter LM request")
	}
}

// adapt resizes the batch: shrink at >10% timeouts, grow after 50 clean
// successes with timeouts under 2%.
func (w *Worker) adapt() {
	timeoutRate, successes, samples := w.window.rates()
	if samples < 10 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	before := w.concurrency

	min := w.config.MinConcurrency
	if min <= 0 {
		min = 5
	}
	max := w.config.MaxConcurrency
	if max <= 0 {
		max = 50
	}

	switch {
	case timeoutRate > 0.10:
		w.concurrency = int(float64(w.concurrency) * 0.7)
		if w.concurrency < min {
			w.concurrency = min
		}
	case timeoutRate < 0.02 && successes > 50:
		w.concurrency = int(float64(w.concurrency) * 1.2)
		if w.concurrency > max {
			w.concurrency = max
		}
		w.window.resetSuccesses()
	}

	if w.concurrency != before {
		w.logger.Info().
			Int("from", before).
			Int("to", w.concurrency).
			Float64("timeout_rate", timeoutRate).
			Msg("Adjusted LM worker concurrency")
	}
}

func mustMarshalText(text string) []byte {
	encoded, err := json.Marshal(text)
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}
