// Package review applies human corrections to classified media items and
// keeps the derived session statistics current.
package review

import (
	"context"
	"fmt"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

var (
	ErrItemNotFound        = errors.NewStd("media item not found")
	ErrLabelNotInSession   = errors.NewStd("label does not belong to the session taxonomy")
	ErrNoPrediction        = errors.NewStd("item has no predicted label")
	ErrReplacementRequired = errors.NewStd("rejecting a prediction requires a different replacement label")
)

// Review actions.
const (
	ActionAccept  = "accept"
	ActionReject  = "reject"
	ActionCorrect = "correct"
)

// Reconciler writes review results through the store's per-session update so
// a correction and the recomputed statistics commit together.
type Reconciler struct {
	store   datastore.Interface
	metrics *metrics.SessionMetrics
}

// NewReconciler returns a reconciler on store. m may be nil.
func NewReconciler(store datastore.Interface, m *metrics.SessionMetrics) *Reconciler {
	return &Reconciler{store: store, metrics: m}
}

// RecordCorrection sets the actual label of an item and recomputes the
// session statistics.
func (r *Reconciler) RecordCorrection(ctx context.Context, sessionID, itemID, labelID string) (*datastore.Session, error) {
	return r.apply(ctx, ActionCorrect, sessionID, itemID, func(s *datastore.Session, it *datastore.MediaItem) error {
		if s.ClassByID(labelID) == nil {
			return reviewError(ErrLabelNotInSession, sessionID, itemID, labelID)
		}
		it.ActualLabelID = &labelID
		return nil
	})
}

// Accept commits the predicted label of an item as its actual label.
func (r *Reconciler) Accept(ctx context.Context, sessionID, itemID string) (*datastore.Session, error) {
	return r.apply(ctx, ActionAccept, sessionID, itemID, func(s *datastore.Session, it *datastore.MediaItem) error {
		if it.PredictedLabelID == nil {
			return reviewError(ErrNoPrediction, sessionID, itemID, "")
		}
		label := *it.PredictedLabelID
		it.ActualLabelID = &label
		return nil
	})
}

// Reject replaces the predicted label of an item. The replacement must be a
// different class of the same session.
func (r *Reconciler) Reject(ctx context.Context, sessionID, itemID, replacementID string) (*datastore.Session, error) {
	return r.apply(ctx, ActionReject, sessionID, itemID, func(s *datastore.Session, it *datastore.MediaItem) error {
		if it.PredictedLabelID == nil {
			return reviewError(ErrNoPrediction, sessionID, itemID, "")
		}
		if replacementID == "" || replacementID == *it.PredictedLabelID {
			return reviewError(ErrReplacementRequired, sessionID, itemID, replacementID)
		}
		if s.ClassByID(replacementID) == nil {
			return reviewError(ErrLabelNotInSession, sessionID, itemID, replacementID)
		}
		it.ActualLabelID = &replacementID
		return nil
	})
}

func (r *Reconciler) apply(ctx context.Context, action, sessionID, itemID string, fn func(*datastore.Session, *datastore.MediaItem) error) (*datastore.Session, error) {
	var stats Stats
	s, err := r.store.Update(ctx, sessionID, func(s *datastore.Session) error {
		it := s.Item(itemID)
		if it == nil {
			return reviewError(ErrItemNotFound, sessionID, itemID, "")
		}
		if err := fn(s, it); err != nil {
			return err
		}
		stats = Recompute(s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.RecordReview(action)
	GetLogger().Debug("review recorded",
		logger.String("session_id", sessionID),
		logger.String("item_id", itemID),
		logger.String("action", action),
		logger.Int("reviewed", stats.Reviewed),
		logger.Int("total", stats.Total))
	return s, nil
}

func reviewError(sentinel error, sessionID, itemID, labelID string) error {
	category := errors.CategoryValidation
	if sentinel == ErrItemNotFound {
		category = errors.CategoryNotFound
	}
	b := errors.New(fmt.Errorf("%w: item %s", sentinel, itemID)).
		Component("review").
		Category(category).
		Context("session_id", sessionID).
		Context("item_id", itemID)
	if labelID != "" {
		b = b.Context("label_id", labelID)
	}
	return b.Build()
}
