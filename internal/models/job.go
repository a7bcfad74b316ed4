package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType enumerates the schedulable job kinds.
type JobType string

const (
	JobTypeScrape  JobType = "scrape"
	JobTypeCrawl   JobType = "crawl"
	JobTypeExtract JobType = "extract"
	JobTypeReport  JobType = "report"
	JobTypeDedup   JobType = "dedup"
)

// AllJobTypes lists every type the scheduler runs a poll loop for.
var AllJobTypes = []JobType{JobTypeScrape, JobTypeCrawl, JobTypeExtract, JobTypeReport, JobTypeDedup}

// JobStatus is the lifecycle state of a job. Transitions are monotonic
// except running->queued (stale reclaim) and *->cancelled (from running or
// cancelling only).
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCancelling JobStatus = "cancelling"
)

// Job is one unit of schedulable work against the shared queue.
type Job struct {
	ID       string    `json:"id"`
	Type     JobType   `json:"type"`
	Status   JobStatus `json:"status"`
	Priority int       `json:"priority"` // higher first

	Payload map[string]interface{} `json:"payload"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`

	CancellationRequested bool `json:"cancellation_requested"`

	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	// ClaimantID identifies the worker holding the claim, kept for reclaim
	// audit logs.
	ClaimantID string `json:"claimant_id,omitempty"`
}

// NewJob creates a queued job.
func NewJob(jobType JobType, payload map[string]interface{}, priority int) *Job {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobStatusQueued,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// PayloadString retrieves a string payload value.
func (j *Job) PayloadString(key string) (string, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadInt retrieves an int payload value, handling JSON float64 decoding.
func (j *Job) PayloadInt(key string) (int, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// PayloadBool retrieves a bool payload value.
func (j *Job) PayloadBool(key string) (bool, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Validate checks required fields.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	return nil
}
