package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// Direct implements LMBroker without the queue: each submit calls the
// endpoint synchronously on the caller's goroutine. Used when
// llm.queue_enabled is off, mainly for small deployments and tests.
type Direct struct {
	endpoint interfaces.LMEndpoint
	config   *common.LLMConfig
	logger   arbor.ILogger

	mu        sync.Mutex
	responses map[string]*models.LMResponse
}

// NewDirect creates a new Direct broker instance.
func NewDirect(endpoint interfaces.LMEndpoint, config *common.LLMConfig, logger arbor.ILogger) *Direct {
	return &Direct{
		endpoint:  endpoint,
		config:    config,
		logger:    logger,
		responses: make(map[string]*models.LMResponse),
	}
}

// Submit executes the request inline and caches the response for Wait.
func (d *Direct) Submit(ctx context.Context, req *models.LMRequest) error {
	resp := d.execute(ctx, req)
	d.mu.Lock()
	d.responses[req.RequestID] = resp
	d.mu.Unlock()
	return nil
}

// Wait returns the cached response from a prior Submit.
func (d *Direct) Wait(ctx context.Context, requestID string, timeoutAt time.Time) (*models.LMResponse, error) {
	d.mu.Lock()
	resp, ok := d.responses[requestID]
	delete(d.responses, requestID)
	d.mu.Unlock()
	if !ok {
		return nil, interfaces.ErrResponseTimeout
	}
	return resp, nil
}

// SubmitAndWait is the synchronous round trip.
func (d *Direct) SubmitAndWait(ctx context.Context, req *models.LMRequest) (*models.LMResponse, error) {
	return d.execute(ctx, req), nil
}

// BackpressureStatus always reports an empty queue; direct mode has none.
func (d *Direct) BackpressureStatus(ctx context.Context) (interfaces.BackpressureLevel, int, error) {
	return interfaces.BackpressureOK, 0, nil
}

func (d *Direct) execute(ctx context.Context, req *models.LMRequest) *models.LMResponse {
	resp := &models.LMResponse{RequestID: req.RequestID}
	start := time.Now()

	text, err := d.endpoint.Complete(ctx, req.Messages, interfaces.CompletionOptions{
		MaxTokens:   req.MaxTokens,
		Temperature: d.config.BaseTemperature,
		JSONMode:    req.JSONMode,
	})
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	resp.CompletedAt = time.Now()
	if err != nil {
		resp.Status = models.LMResponseError
		resp.Error = err.Error()
		d.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("Direct LM call failed")
		return resp
	}

	encoded, err := json.Marshal(text)
	if err != nil {
		resp.Status = models.LMResponseError
		resp.Error = err.Error()
		return resp
	}
	resp.Status = models.LMResponseSuccess
	resp.Result = json.RawMessage(encoded)
	return resp
}
