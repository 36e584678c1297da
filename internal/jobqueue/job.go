package jobqueue

import (
	"context"
	"sync"
	"time"
)

// Job represents a unit of work in the job queue
type Job struct {
	ID        string    // Unique ID for this job
	Key       string    // Deduplication key, e.g. a model version
	Action    Action    // The action to execute
	CreatedAt time.Time // When the job was created
	Config    RetryConfig

	mu       sync.Mutex
	status   JobStatus
	attempts int
	lastErr  error
	cancel   context.CancelFunc // set while running
	done     chan struct{}
}

func newJob(id, key string, action Action, config RetryConfig) *Job {
	return &Job{
		ID:        id,
		Key:       key,
		Action:    action,
		CreatedAt: time.Now(),
		Config:    config,
		status:    JobStatusPending,
		done:      make(chan struct{}),
	}
}

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Attempts returns the number of executions so far.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Err returns the last error. It is nil for completed jobs.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends and returns the job error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish moves the job to a terminal status exactly once.
func (j *Job) finish(status JobStatus, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.lastErr = err
	j.cancel = nil
	close(j.done)
	return true
}

// JobStatsSnapshot provides a point-in-time snapshot of job statistics
type JobStatsSnapshot struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	CancelledJobs  int
	DuplicateJobs  int // Enqueue calls answered with an existing job
	RetryAttempts  int
	PendingJobs    int
	Active         string // key of the running job, empty when idle
}
