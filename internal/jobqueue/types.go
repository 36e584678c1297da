// Package jobqueue runs keyed background jobs one at a time in FIFO order.
// Enqueueing a key that is already queued or running returns the existing job,
// so repeated requests for the same model download or batch upload collapse.
package jobqueue

import (
	"context"
	"time"

	"github.com/tphakala/ecosort/internal/errors"
)

// Common errors that can be returned by job queue operations
var (
	ErrNilAction    = errors.NewStd("cannot enqueue nil action")
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
	ErrJobNotFound  = errors.NewStd("job not found in queue")
	ErrDuplicateKey = errors.NewStd("job with this key is already queued")
	ErrJobCancelled = errors.NewStd("job was cancelled")
)

// Action is the work a job performs. Execute must return promptly once ctx
// is canceled.
type Action interface {
	Execute(ctx context.Context) error
	GetDescription() string
}

// ActionFunc adapts a function to Action.
type ActionFunc struct {
	Description string
	Fn          func(ctx context.Context) error
}

// Execute calls Fn.
func (a ActionFunc) Execute(ctx context.Context) error { return a.Fn(ctx) }

// GetDescription returns Description.
func (a ActionFunc) GetDescription() string { return a.Description }

// RetryConfig holds the configuration for retry behavior of an action
type RetryConfig struct {
	Enabled      bool          // Whether retry is enabled for this action
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// JobStatus represents the current status of a job in the queue
type JobStatus int

const (
	// JobStatusPending indicates the job is waiting to be executed
	JobStatusPending JobStatus = iota
	// JobStatusRunning indicates the job is currently being executed
	JobStatusRunning
	// JobStatusCompleted indicates the job has completed successfully
	JobStatusCompleted
	// JobStatusFailed indicates the job has failed and will not be retried
	JobStatusFailed
	// JobStatusCancelled indicates the job was cancelled before completion
	JobStatusCancelled
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}
