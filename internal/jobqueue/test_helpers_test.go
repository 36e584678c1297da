package jobqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second
)

// waitForChannel waits for a signal on the channel or fails after timeout.
func waitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// blockingAction runs until released or canceled and reports when it starts.
type blockingAction struct {
	name    string
	started chan struct{}
	release chan struct{}
	runs    atomic.Int32
}

func newBlockingAction(name string) *blockingAction {
	return &blockingAction{
		name:    name,
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (a *blockingAction) Execute(ctx context.Context) error {
	a.runs.Add(1)
	a.started <- struct{}{}
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *blockingAction) GetDescription() string { return a.name }

// startQueue starts a queue bound to the test lifetime.
func startQueue(t *testing.T) *JobQueue {
	t.Helper()
	q := NewJobQueue(0)
	q.StartWithContext(t.Context())
	t.Cleanup(func() { require.NoError(t, q.StopWithTimeout(DefaultTestTimeout)) })
	return q
}
