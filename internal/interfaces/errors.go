package interfaces

import "errors"

// Sentinel errors shared across storage and service implementations so
// callers can branch with errors.Is regardless of backend.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrSourceNotFound   = errors.New("source not found")
	ErrNotClaimable     = errors.New("job is not claimable")
	ErrQueueFull        = errors.New("queue is at capacity")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrResponseTimeout  = errors.New("timed out waiting for response")
	ErrInvalidSchema    = errors.New("invalid extraction schema")
	ErrUnparsableOutput = errors.New("model output could not be parsed")
)
