package jobqueue

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
)

// JobQueue executes one job at a time in enqueue order.
type JobQueue struct {
	mu            sync.Mutex
	pending       []*Job
	active        *Job
	byKey         map[string]*Job
	jobCounter    int
	stats         JobStatsSnapshot
	isRunning     bool
	wake          chan struct{}
	processCancel context.CancelFunc
	worker        sync.WaitGroup
	jobTimeout    time.Duration
}

// NewJobQueue creates a stopped queue. jobTimeout bounds a single attempt;
// zero means no limit.
func NewJobQueue(jobTimeout time.Duration) *JobQueue {
	return &JobQueue{
		byKey:      make(map[string]*Job),
		wake:       make(chan struct{}, 1),
		jobTimeout: jobTimeout,
	}
}

// StartWithContext starts the worker. Canceling ctx stops the queue like Stop.
func (q *JobQueue) StartWithContext(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return
	}
	q.isRunning = true

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel

	q.worker.Add(1)
	go func() {
		defer q.worker.Done()
		q.processJobs(processCtx)
	}()
}

// Stop stops the queue, waiting up to ten seconds for the active job.
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout cancels the active job, fails pending ones with
// ErrQueueStopped and waits for the worker to exit.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	if q.processCancel != nil {
		q.processCancel()
		q.processCancel = nil
	}
	q.mu.Unlock()
	q.drain()

	c := make(chan struct{})
	go func() {
		q.worker.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Component("jobqueue").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Enqueue adds a job for key. When a job with the same key is pending or
// running, that job is returned together with ErrDuplicateKey.
func (q *JobQueue) Enqueue(key string, action Action, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}
	if existing, ok := q.byKey[key]; ok {
		q.stats.DuplicateJobs++
		return existing, ErrDuplicateKey
	}

	q.jobCounter++
	job := newJob(fmt.Sprintf("job-%d", q.jobCounter), key, action, config)
	q.pending = append(q.pending, job)
	q.byKey[key] = job
	q.stats.TotalJobs++

	GetLogger().Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("key", key),
		logger.String("action", action.GetDescription()),
		logger.Int("pending", len(q.pending)))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Cancel stops the job for key. A running job has its context canceled and the
// next pending job starts once it returns; a pending job is removed.
func (q *JobQueue) Cancel(key string) error {
	q.mu.Lock()
	job, ok := q.byKey[key]
	if !ok {
		q.mu.Unlock()
		return errors.New(fmt.Errorf("%w: %s", ErrJobNotFound, key)).
			Component("jobqueue").
			Category(errors.CategoryNotFound).
			Context("key", key).
			Build()
	}

	if job == q.active {
		job.mu.Lock()
		cancel := job.cancel
		job.mu.Unlock()
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		GetLogger().Info("cancelling running job", logger.String("job_id", job.ID), logger.String("key", key))
		return nil
	}

	q.pending = slices.DeleteFunc(q.pending, func(j *Job) bool { return j == job })
	delete(q.byKey, key)
	q.stats.CancelledJobs++
	q.mu.Unlock()

	job.finish(JobStatusCancelled, ErrJobCancelled)
	GetLogger().Info("removed pending job", logger.String("job_id", job.ID), logger.String("key", key))
	return nil
}

// Get returns the pending or running job for key.
func (q *JobQueue) Get(key string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byKey[key]
	return job, ok
}

// Pending returns the queued jobs in execution order.
func (q *JobQueue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.pending)
}

// Active returns the running job, or nil.
func (q *JobQueue) Active() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// GetStats returns a snapshot of the current job statistics
func (q *JobQueue) GetStats() JobStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.PendingJobs = len(q.pending)
	if q.active != nil {
		s.Active = q.active.Key
	}
	return s
}

func (q *JobQueue) processJobs(ctx context.Context) {
	defer q.drain()
	for {
		if ctx.Err() != nil {
			return
		}
		job, jobCtx, cancel := q.next(ctx)
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.run(ctx, jobCtx, job)
		cancel()
	}
}

// drain stops accepting jobs and fails everything still pending.
func (q *JobQueue) drain() {
	q.mu.Lock()
	q.isRunning = false
	dropped := q.pending
	q.pending = nil
	for _, job := range dropped {
		delete(q.byKey, job.Key)
	}
	q.stats.CancelledJobs += len(dropped)
	q.mu.Unlock()

	for _, job := range dropped {
		job.finish(JobStatusCancelled, ErrQueueStopped)
	}
}

// next pops the oldest pending job and marks it active. The job context is
// attached before the queue lock is released so Cancel always reaches it.
func (q *JobQueue) next(ctx context.Context) (*Job, context.Context, context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.active = job

	jobCtx, cancel := context.WithCancel(ctx)
	job.mu.Lock()
	job.status = JobStatusRunning
	job.cancel = cancel
	job.mu.Unlock()
	return job, jobCtx, cancel
}

func (q *JobQueue) run(ctx, jobCtx context.Context, job *Job) {
	log := GetLogger().With(logger.String("job_id", job.ID), logger.String("key", job.Key))
	start := time.Now()

	var err error
	maxAttempts := 1
	if job.Config.Enabled {
		maxAttempts += job.Config.MaxRetries
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job.mu.Lock()
		job.attempts = attempt
		job.mu.Unlock()
		if attempt > 1 {
			q.mu.Lock()
			q.stats.RetryAttempts++
			q.mu.Unlock()
			log.Info("retrying job", logger.Int("attempt", attempt), logger.Int("max_attempts", maxAttempts))
		}

		err = q.execute(jobCtx, job.Action)
		if err == nil || jobCtx.Err() != nil || attempt == maxAttempts {
			break
		}

		delay := calculateBackoffDelay(job.Config, attempt)
		log.Warn("job failed, will retry", logger.Duration("delay", delay), logger.Error(err))
		select {
		case <-jobCtx.Done():
		case <-time.After(delay):
		}
		if jobCtx.Err() != nil {
			break
		}
	}

	status := JobStatusCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		status, err = JobStatusCancelled, ErrQueueStopped
	case err != nil && jobCtx.Err() != nil:
		status, err = JobStatusCancelled, ErrJobCancelled
	case err != nil:
		status = JobStatusFailed
	}

	q.mu.Lock()
	q.active = nil
	delete(q.byKey, job.Key)
	switch status {
	case JobStatusCompleted:
		q.stats.SuccessfulJobs++
	case JobStatusFailed:
		q.stats.FailedJobs++
	case JobStatusCancelled:
		q.stats.CancelledJobs++
	}
	q.mu.Unlock()

	job.finish(status, err)
	log.Debug("job finished",
		logger.String("status", status.String()),
		logger.Duration("elapsed", time.Since(start)))
}

// execute runs one attempt, converting panics to errors.
func (q *JobQueue) execute(ctx context.Context, action Action) (err error) {
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job execution panicked: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJobQueue).
				Context("action", action.GetDescription()).
				Build()
		}
	}()
	return action.Execute(ctx)
}

// calculateBackoffDelay calculates the delay before the next retry attempt
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(config.InitialDelay) * math.Pow(multiplier, float64(attemptNum-1))

	// ±10% jitter
	backoff *= 0.9 + 0.2*rand.Float64()

	if config.MaxDelay > 0 && backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

// GetDefaultRetryConfig returns a default retry configuration
func GetDefaultRetryConfig(enabled bool) RetryConfig {
	if !enabled {
		return RetryConfig{Enabled: false}
	}
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}
