package session

import (
	"context"
	"fmt"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// strategy classifies the unlabeled items of a persisted session and returns
// the latest stored copy.
type strategy interface {
	classify(ctx context.Context, s *datastore.Session) (*datastore.Session, error)
	mode() string
}

// localStrategy runs the on-device model item by item. Each result is written
// as soon as it is known so a cancelled run keeps what it finished. Tensors
// come from the session handed to classify; stored updates carry no media.
type localStrategy struct {
	engine classifier.LocalEngine
	store  datastore.Interface
}

func (l *localStrategy) mode() string { return metrics.ModeOnDevice }

func (l *localStrategy) classify(ctx context.Context, s *datastore.Session) (*datastore.Session, error) {
	pending := s.Unclassified()
	ids := make([]string, 0, len(pending))
	for _, it := range pending {
		ids = append(ids, it.ID)
	}

	log := GetLogger().With(logger.String("session_id", s.ID), logger.String("model", l.engine.Version()))
	log.Debug("classifying items on device", logger.Int("pending", len(ids)))

	// A prediction that finished while the run was being cancelled is still kept.
	writeCtx := context.WithoutCancel(ctx)
	current := s
	for _, itemID := range ids {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		item := s.Item(itemID)
		if item == nil {
			continue
		}

		cls, classifyErr := l.engine.Classify(ctx, item.Preprocessed)
		if classifyErr != nil && ctx.Err() != nil {
			return current, ctx.Err()
		}
		if classifyErr != nil {
			log.Warn("item classification failed", logger.String("item_id", itemID), logger.Error(classifyErr))
		}

		updated, err := l.store.Update(writeCtx, current.ID, func(s *datastore.Session) error {
			applyLocalResult(s, itemID, cls, classifyErr)
			return nil
		})
		if err != nil {
			return current, persistenceError(err, "apply_prediction", current.ID)
		}
		current = updated
	}
	return current, nil
}

// applyLocalResult records one prediction or failure and completes the session
// once nothing is left unclassified.
func applyLocalResult(s *datastore.Session, itemID string, cls classifier.Class, classifyErr error) {
	it := s.Item(itemID)
	if it == nil {
		return
	}
	switch label := s.ClassByName(cls.Name); {
	case classifyErr != nil:
		it.FailureReason = classifyErr.Error()
	case label == nil:
		it.FailureReason = fmt.Sprintf("%v: class %q is not in the session taxonomy", classifier.ErrInvalidClassification, cls.Name)
	default:
		id := label.ID
		it.PredictedLabelID = &id
		it.FailureReason = ""
	}
	if len(s.Unclassified()) == 0 {
		s.State = datastore.StateDone
	}
}
