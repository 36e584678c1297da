package session

import (
	"context"
	"fmt"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/jobqueue"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// remoteStrategy uploads the session as one batch and follows the job's
// progress channel. A known job id is re-subscribed instead of re-uploaded.
type remoteStrategy struct {
	engine  classifier.BatchEngine
	store   datastore.Interface
	queue   *jobqueue.JobQueue
	metrics *metrics.ClassifierMetrics
}

func (r *remoteStrategy) mode() string { return metrics.ModeCloud }

func (r *remoteStrategy) classify(ctx context.Context, s *datastore.Session) (*datastore.Session, error) {
	if s.ResultsApplied {
		return s, nil
	}

	current := s
	if current.JobID == "" {
		jobID, err := r.submit(ctx, current)
		if err != nil {
			return current, err
		}
		updated, err := r.store.Update(ctx, current.ID, func(s *datastore.Session) error {
			s.JobID = jobID
			s.LastProgress = 0
			return nil
		})
		if err != nil {
			return current, persistenceError(err, "record_job", current.ID)
		}
		current = updated
	}
	return r.follow(ctx, current)
}

// submit uploads every unclassified item through the shared job queue so only
// one network-bound job runs at a time.
func (r *remoteStrategy) submit(ctx context.Context, s *datastore.Session) (string, error) {
	items := make(map[string][]byte)
	for _, it := range s.Unclassified() {
		items[it.Name] = it.Raw
	}

	var handle classifier.JobHandle
	action := jobqueue.ActionFunc{
		Description: "submit batch for session " + s.ID,
		Fn: func(ctx context.Context) error {
			h, err := r.engine.SubmitBatch(ctx, items)
			handle = h
			return err
		},
	}

	if r.queue == nil {
		if err := action.Execute(ctx); err != nil {
			return "", err
		}
	} else {
		key := "batch:" + s.ID
		job, err := r.queue.Enqueue(key, action, jobqueue.RetryConfig{})
		if err != nil {
			return "", errors.New(err).
				Component("session").
				Category(errors.CategoryJobQueue).
				Context("session_id", s.ID).
				Build()
		}
		if err := job.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				_ = r.queue.Cancel(key)
			}
			return "", err
		}
	}

	GetLogger().Info("batch submitted",
		logger.String("session_id", s.ID),
		logger.String("job_id", handle.ID),
		logger.Int("items", len(items)))
	return handle.ID, nil
}

// follow applies progress snapshots until one reports completion.
func (r *remoteStrategy) follow(ctx context.Context, s *datastore.Session) (*datastore.Session, error) {
	log := GetLogger().With(logger.String("session_id", s.ID), logger.String("job_id", s.JobID))

	// The subscription outlives ctx so a stop request can still be sent.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	sub, err := r.engine.Subscribe(subCtx, s.JobID)
	if err != nil {
		return s, err
	}
	defer func() { _ = sub.Close() }()

	tracker := classifier.NewProgressTracker(s.LastProgress, s.ResultsApplied)
	current := s
	for {
		select {
		case <-ctx.Done():
			if err := sub.Send(classifier.ActionStop); err != nil {
				log.Debug("stop request not delivered", logger.Error(err))
			}
			return current, ctx.Err()

		case u, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					return current, err
				}
				return current, errors.New(fmt.Errorf("%w: channel closed at %.0f%%", classifier.ErrDisconnected, tracker.Last())).
					Component("session").
					Category(errors.CategoryNetwork).
					Context("job_id", s.JobID).
					Build()
			}

			switch tracker.Offer(u) {
			case classifier.Stale:
				r.metrics.RecordStaleSnapshot()
				log.Debug("dropping stale snapshot", logger.Float64("progress", u.Progress), logger.Float64("applied", tracker.Last()))
				continue
			case classifier.AfterCompletion:
				continue
			}

			var unmatched int
			updated, err := r.store.Update(ctx, current.ID, func(s *datastore.Session) error {
				unmatched = applySnapshot(s, u)
				return nil
			})
			if err != nil {
				return current, persistenceError(err, "apply_snapshot", current.ID)
			}
			current = updated
			if unmatched > 0 {
				log.Debug("dropped predictions for unknown items", logger.Int("count", unmatched))
			}
			if u.Complete() {
				r.metrics.ClearJob(s.JobID)
				log.Info("remote classification complete", logger.Int("unclassified", len(current.Unclassified())))
				return current, nil
			}
		}
	}
}

// applySnapshot reconciles a cumulative snapshot onto s and returns the number
// of predictions whose item name matched nothing. A complete snapshot sets the
// apply-once flag and marks items without a result.
func applySnapshot(s *datastore.Session, u classifier.ProgressUpdate) int {
	byName := make(map[string]*datastore.MediaItem, len(s.Items))
	for i := range s.Items {
		byName[s.Items[i].Name] = &s.Items[i]
	}

	unmatched := 0
	for _, p := range u.Predictions {
		it, ok := byName[p.ItemName]
		if !ok {
			unmatched++
			continue
		}
		if p.Class.Name == "" {
			it.FailureReason = ReasonNoResult
			if p.Status != "" {
				it.FailureReason = "server status: " + p.Status
			}
			continue
		}
		label := s.ClassByName(p.Class.Name)
		if label == nil {
			it.FailureReason = fmt.Sprintf("%v: class %q is not in the session taxonomy", classifier.ErrInvalidClassification, p.Class.Name)
			continue
		}
		id := label.ID
		it.PredictedLabelID = &id
		it.FailureReason = ""
	}

	s.LastProgress = u.Progress
	if u.Complete() {
		s.ResultsApplied = true
		remaining := s.Unclassified()
		for _, it := range remaining {
			if it.FailureReason == "" {
				it.FailureReason = ReasonNoResult
			}
		}
		if len(remaining) == 0 {
			s.State = datastore.StateDone
		}
	}
	return unmatched
}
