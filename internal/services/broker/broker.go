package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

const (
	// RequestStream is the shared inference work queue.
	RequestStream = "llm:requests"
	// ConsumerGroup is the worker pool's consumer group on the stream.
	ConsumerGroup = "llm-workers"
	// responseKeyPrefix + request id holds the TTL-bound response.
	responseKeyPrefix = "llm:response:"
	// DeadLetterList collects requests that exhausted their retries.
	DeadLetterList = "llm:dlq"
)

// ResponseKey returns the KV key a request's response is stored under.
func ResponseKey(requestID string) string {
	return responseKeyPrefix + requestID
}

// Broker implements LMBroker over the KV stream. Producers submit requests
// and poll for responses; the LM worker pool consumes the stream.
type Broker struct {
	kv     interfaces.KVStorage
	config *common.LLMConfig
	logger arbor.ILogger

	pollInterval time.Duration
	responseTTL  time.Duration
}

// NewBroker creates a new Broker instance.
func NewBroker(kv interfaces.KVStorage, config *common.LLMConfig, logger arbor.ILogger) *Broker {
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	responseTTL := config.ResponseTTL
	if responseTTL <= 0 {
		responseTTL = 5 * time.Minute
	}
	return &Broker{
		kv:           kv,
		config:       config,
		logger:       logger,
		pollInterval: pollInterval,
		responseTTL:  responseTTL,
	}
}

// Submit enqueues a request, refusing when the queue is at capacity.
func (b *Broker) Submit(ctx context.Context, req *models.LMRequest) error {
	depth, err := b.kv.StreamLen(ctx, RequestStream)
	if err != nil {
		return fmt.Errorf("failed to check queue depth: %w", err)
	}
	if b.config.MaxQueueDepth > 0 && depth >= b.config.MaxQueueDepth {
		b.logger.Warn().Int("depth", depth).Msg("LM queue at capacity, rejecting request")
		return interfaces.ErrQueueFull
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := b.kv.StreamAdd(ctx, RequestStream, encoded, b.config.StreamMaxLen); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	b.logger.Debug().
		Str("request_id", req.RequestID).
		Str("type", string(req.RequestType)).
		Int("depth", depth+1).
		Msg("LM request submitted")
	return nil
}

// Wait polls for the response until the deadline passes.
func (b *Broker) Wait(ctx context.Context, requestID string, timeoutAt time.Time) (*models.LMResponse, error) {
	key := ResponseKey(requestID)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		value, err := b.kv.Get(ctx, key)
		if err == nil {
			var resp models.LMResponse
			if err := json.Unmarshal(value, &resp); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			// Consumed once; the TTL would collect it anyway.
			_ = b.kv.Delete(ctx, key)
			return &resp, nil
		}
		if err != interfaces.ErrKeyNotFound {
			return nil, fmt.Errorf("failed to poll response: %w", err)
		}
		if time.Now().After(timeoutAt) {
			return nil, interfaces.ErrResponseTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubmitAndWait is the common round trip.
func (b *Broker) SubmitAndWait(ctx context.Context, req *models.LMRequest) (*models.LMResponse, error) {
	if err := b.Submit(ctx, req); err != nil {
		return nil, err
	}
	return b.Wait(ctx, req.RequestID, req.TimeoutAt)
}

// BackpressureStatus classifies the current queue depth.
func (b *Broker) BackpressureStatus(ctx context.Context) (interfaces.BackpressureLevel, int, error) {
	depth, err := b.kv.StreamLen(ctx, RequestStream)
	if err != nil {
		return interfaces.BackpressureOK, 0, fmt.Errorf("failed to check queue depth: %w", err)
	}
	switch {
	case b.config.MaxQueueDepth > 0 && depth >= b.config.MaxQueueDepth:
		return interfaces.BackpressureFull, depth, nil
	case b.config.SlowThreshold > 0 && depth >= b.config.SlowThreshold:
		return interfaces.BackpressureSlow, depth, nil
	default:
		return interfaces.BackpressureOK, depth, nil
	}
}

// ResponseTTL exposes the configured response lifetime for the worker side.
func (b *Broker) ResponseTTL() time.Duration {
	return b.responseTTL
}
