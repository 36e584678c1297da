package classifier

import "sync"

// Decision is the verdict of ProgressTracker.Offer.
type Decision int

const (
	// Apply means the snapshot is the newest state and must be reconciled.
	Apply Decision = iota
	// Stale means the snapshot reports less progress than one already applied.
	Stale
	// AfterCompletion means a final snapshot was already applied.
	AfterCompletion
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Stale:
		return "stale"
	case AfterCompletion:
		return "after_completion"
	default:
		return "unknown"
	}
}

// ProgressTracker orders the cumulative snapshots of one job. Snapshots with
// lower progress than the last applied one are dropped, and once a snapshot at
// or past 100% has been applied every later snapshot is ignored.
type ProgressTracker struct {
	mu        sync.Mutex
	last      float64
	applied   bool
	completed bool
}

// NewProgressTracker resumes tracking from persisted state.
func NewProgressTracker(lastProgress float64, completed bool) *ProgressTracker {
	return &ProgressTracker{
		last:      lastProgress,
		applied:   lastProgress > 0 || completed,
		completed: completed,
	}
}

// Offer decides what to do with u and records it when applied.
func (t *ProgressTracker) Offer(u ProgressUpdate) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return AfterCompletion
	}
	if t.applied && u.Progress < t.last {
		return Stale
	}
	t.last = u.Progress
	t.applied = true
	if u.Complete() {
		t.completed = true
	}
	return Apply
}

// Last returns the last applied progress.
func (t *ProgressTracker) Last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Completed reports whether a final snapshot has been applied.
func (t *ProgressTracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
