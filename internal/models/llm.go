package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LMRequestType identifies the kind of work an LM request carries.
type LMRequestType string

const (
	LMRequestExtractFacts      LMRequestType = "extract_facts"
	LMRequestExtractFieldGroup LMRequestType = "extract_field_group"
	LMRequestExtractEntities   LMRequestType = "extract_entities"
	LMRequestComplete          LMRequestType = "complete"
)

// LMMessage is a single chat message for the completion endpoint.
type LMMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LMRequest is the transient, stream-resident unit of inference work.
type LMRequest struct {
	RequestID   string        `json:"request_id"`
	RequestType LMRequestType `json:"request_type"`
	Messages    []LMMessage   `json:"messages"`
	JSONMode    bool          `json:"json_mode"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Priority    int           `json:"priority"`
	CreatedAt   time.Time     `json:"created_at"`
	TimeoutAt   time.Time     `json:"timeout_at"`
	RetryCount  int           `json:"retry_count"`
}

// NewLMRequest builds a request with a fresh id and the given timeout
// horizon.
func NewLMRequest(reqType LMRequestType, messages []LMMessage, jsonMode bool, timeout time.Duration) *LMRequest {
	now := time.Now()
	return &LMRequest{
		RequestID:   uuid.New().String(),
		RequestType: reqType,
		Messages:    messages,
		JSONMode:    jsonMode,
		CreatedAt:   now,
		TimeoutAt:   now.Add(timeout),
	}
}

// LMResponseStatus is the outcome of an LM request.
type LMResponseStatus string

const (
	LMResponseSuccess LMResponseStatus = "success"
	LMResponseError   LMResponseStatus = "error"
	LMResponseTimeout LMResponseStatus = "timeout"
)

// LMResponse is the transient, KV-resident result of an LM request, stored
// under llm:response:{request_id} with a TTL.
type LMResponse struct {
	RequestID        string           `json:"request_id"`
	Status           LMResponseStatus `json:"status"`
	Result           json.RawMessage  `json:"result,omitempty"`
	Error            string           `json:"error,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// OK reports whether the request produced a usable result.
func (r *LMResponse) OK() bool {
	return r.Status == LMResponseSuccess
}
