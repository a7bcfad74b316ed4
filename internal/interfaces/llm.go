package interfaces

import (
	"context"
	"time"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// CompletionOptions tunes a single model call.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// LMEndpoint - interface for the underlying language model API
type LMEndpoint interface {
	// Complete runs one chat completion and returns the text of the reply.
	Complete(ctx context.Context, messages []models.LMMessage, opts CompletionOptions) (string, error)
	ModelName() string
}

// BackpressureLevel classifies queue depth for producers.
type BackpressureLevel string

const (
	BackpressureOK   BackpressureLevel = "ok"
	BackpressureSlow BackpressureLevel = "slow"
	BackpressureFull BackpressureLevel = "full"
)

// LMBroker - interface for queued inference
type LMBroker interface {
	// Submit enqueues a request, returning ErrQueueFull at capacity.
	Submit(ctx context.Context, req *models.LMRequest) error
	// Wait polls for the response to a submitted request until the deadline.
	Wait(ctx context.Context, requestID string, timeoutAt time.Time) (*models.LMResponse, error)
	// SubmitAndWait is the common round trip.
	SubmitAndWait(ctx context.Context, req *models.LMRequest) (*models.LMResponse, error)
	BackpressureStatus(ctx context.Context) (BackpressureLevel, int, error)
}
