package classifier

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterpreter returns a fixed output and flags overlapping calls.
type fakeInterpreter struct {
	inputLen   int
	output     []float32
	err        error
	delay      time.Duration
	inFlight   atomic.Int32
	overlapped atomic.Bool
	calls      atomic.Int32
	closed     atomic.Bool
}

func (f *fakeInterpreter) InputLen() int { return f.inputLen }

func (f *fakeInterpreter) Invoke(input []float32) ([]float32, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.output, f.err
}

func (f *fakeInterpreter) Close() { f.closed.Store(true) }

func tensorOf(values ...float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func threeClasses() []Class {
	return []Class{
		{Index: 0, Name: "paper", ReadableName: "Paper"},
		{Index: 1, Name: "glass", ReadableName: "Glass"},
		{Index: 2, Name: "plastic", ReadableName: "Plastic"},
	}
}

func TestLocalClassifierPicksArgmax(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 2, output: []float32{0.2, 0.7, 0.1}}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	got, err := c.Classify(t.Context(), tensorOf(0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "glass", got.Name)
}

func TestLocalClassifierOutputMismatch(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 1, output: []float32{0.2, 0.8}}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	_, err := c.Classify(t.Context(), tensorOf(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidClassification)
}

func TestLocalClassifierWrapsInterpreterErrors(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 1, err: errors.New("tensor invoke failed")}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	_, err := c.Classify(t.Context(), tensorOf(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInference)
}

func TestLocalClassifierRejectsWrongInputSize(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 4, output: []float32{1, 0, 0}}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	_, err := c.Classify(t.Context(), tensorOf(1, 2))
	assert.ErrorIs(t, err, ErrInference)
	assert.Zero(t, interp.calls.Load())
}

func TestLocalClassifierHonorsCancellation(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 1, output: []float32{1, 0, 0}}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := c.Classify(ctx, tensorOf(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalClassifierSerializesCalls(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 1, output: []float32{0, 0, 1}, delay: 2 * time.Millisecond}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_, err := c.Classify(t.Context(), tensorOf(1))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(10), interp.calls.Load())
	assert.False(t, interp.overlapped.Load(), "interpreter was invoked concurrently")
}

func TestLocalClassifierClose(t *testing.T) {
	t.Parallel()
	interp := &fakeInterpreter{inputLen: 1, output: []float32{1, 0, 0}}
	c := NewLocalClassifier(interp, "1.0", threeClasses(), nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, interp.closed.Load())

	_, err := c.Classify(t.Context(), tensorOf(1))
	assert.ErrorIs(t, err, ErrInference)
}

func TestArgmax(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []float32
		want int
	}{
		{"single max", []float32{0.2, 0.7, 0.1}, 1},
		{"tie takes lowest index", []float32{0.4, 0.4, 0.2}, 0},
		{"last", []float32{0.1, 0.2, 0.9}, 2},
		{"negative", []float32{-3, -1, -2}, 1},
		{"empty", nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Argmax(tt.in))
		})
	}
}

func TestProgressTrackerDropsOutOfOrderSnapshots(t *testing.T) {
	t.Parallel()
	tr := NewProgressTracker(0, false)

	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 40}))
	assert.Equal(t, Stale, tr.Offer(ProgressUpdate{Progress: 25}))
	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 100}))
	assert.Equal(t, AfterCompletion, tr.Offer(ProgressUpdate{Progress: 100}))
	assert.Equal(t, AfterCompletion, tr.Offer(ProgressUpdate{Progress: 60}))

	assert.InDelta(t, 100, tr.Last(), 0)
	assert.True(t, tr.Completed())
}

func TestProgressTrackerAcceptsEqualProgress(t *testing.T) {
	t.Parallel()
	tr := NewProgressTracker(0, false)
	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 0}))
	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 0}))
	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 50}))
	assert.Equal(t, Apply, tr.Offer(ProgressUpdate{Progress: 50}))
}

func TestProgressTrackerResumesFromPersistedState(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Stale, NewProgressTracker(70, false).Offer(ProgressUpdate{Progress: 30}))
	assert.Equal(t, AfterCompletion, NewProgressTracker(100, true).Offer(ProgressUpdate{Progress: 100}))
	assert.Equal(t, Apply, NewProgressTracker(70, false).Offer(ProgressUpdate{Progress: 100}))
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "apply", Apply.String())
	assert.Equal(t, "stale", Stale.String())
	assert.Equal(t, "after_completion", AfterCompletion.String())
}
