// Package classifier defines the classification engines used by prediction
// sessions: a synchronous on-device engine and an asynchronous remote batch
// engine whose results stream in as cumulative progress snapshots.
package classifier

import (
	"context"

	"github.com/tphakala/ecosort/internal/errors"
)

// Classification errors. Engines wrap these with errors.New(...).Build so callers
// can match them with errors.Is.
var (
	ErrInvalidClassification = errors.NewStd("invalid classification")
	ErrInference             = errors.NewStd("inference failed")
	ErrDisconnected          = errors.NewStd("progress channel disconnected")
	ErrUploadFailed          = errors.NewStd("batch upload failed")
	ErrDecoding              = errors.NewStd("malformed prediction payload")
)

// Class is one entry of a model's label catalog.
type Class struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	ReadableName string `json:"readable_name"`
	Description  string `json:"description"`
}

// LocalEngine classifies one preprocessed tensor at a time. Implementations
// serialize access to the underlying interpreter.
type LocalEngine interface {
	// Classify returns the winning class for tensor.
	Classify(ctx context.Context, tensor []byte) (Class, error)
	Version() string
	Close() error
}

// JobHandle identifies a remote batch job.
type JobHandle struct {
	ID      string
	Message string
}

// BatchEngine uploads a batch and streams back its progress.
type BatchEngine interface {
	// SubmitBatch uploads items keyed by item name and returns once the server
	// has acknowledged the job.
	SubmitBatch(ctx context.Context, items map[string][]byte) (JobHandle, error)
	// Subscribe opens the progress channel of a job.
	Subscribe(ctx context.Context, jobID string) (Subscription, error)
}

// Subscription delivers progress snapshots of one job. Updates is closed when
// the channel ends; Err then reports why.
type Subscription interface {
	Updates() <-chan ProgressUpdate
	Err() error
	// Send writes a best-effort control action ("pause", "stop", "continue").
	Send(action string) error
	Close() error
}

// Control actions understood by the progress channel.
const (
	ActionPause    = "pause"
	ActionStop     = "stop"
	ActionContinue = "continue"
)

// ItemPrediction is one item result inside a progress snapshot.
type ItemPrediction struct {
	JobID    string
	ItemName string // item id with the upload extension removed
	Class    Class
	Status   string
}

// ProgressUpdate is a cumulative snapshot: every message carries all results
// known so far, so the latest accepted snapshot fully replaces older ones.
type ProgressUpdate struct {
	Status      string
	Progress    float64 // 0..100
	Predictions []ItemPrediction
}

// Complete reports whether the snapshot marks the job as finished.
func (u ProgressUpdate) Complete() bool {
	return u.Progress >= 100
}
