package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

const (
	updateBuffer = 8
	writeTimeout = 5 * time.Second
)

// subscription reads progress messages of one job until the connection ends.
type subscription struct {
	conn    *websocket.Conn
	jobID   string
	metrics *metrics.ClassifierMetrics

	updates  chan classifier.ProgressUpdate
	done     chan struct{} // closed on shutdown
	finished chan struct{} // closed when readLoop has returned

	writeMu      sync.Mutex
	shutdownOnce sync.Once

	mu        sync.Mutex
	err       error
	completed bool
	closed    bool
}

func newSubscription(ctx context.Context, conn *websocket.Conn, jobID string, m *metrics.ClassifierMetrics) *subscription {
	s := &subscription{
		conn:     conn,
		jobID:    jobID,
		metrics:  m,
		updates:  make(chan classifier.ProgressUpdate, updateBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.readLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.markClosed()
			s.shutdown()
		case <-s.done:
		}
	}()
	return s
}

func (s *subscription) Updates() <-chan classifier.ProgressUpdate { return s.updates }

// Err reports why the channel ended. It is nil when the job completed or the
// subscription was closed locally. A malformed message before completion ends
// the channel with ErrDecoding.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send writes a control action. Delivery is best effort.
func (s *subscription) Send(action string) error {
	payload, err := json.Marshal(controlMessage{Action: action})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.New(fmt.Errorf("%w: subscription closed", classifier.ErrDisconnected)).
			Component("classifier.remote").
			Category(errors.CategoryState).
			Build()
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.New(fmt.Errorf("%w: %w", classifier.ErrDisconnected, err)).
			Component("classifier.remote").
			Category(errors.CategoryNetwork).
			Context("action", action).
			Context("job_id", s.jobID).
			Build()
	}
	return nil
}

// Close ends the subscription and waits for the reader to stop.
func (s *subscription) Close() error {
	s.markClosed()
	s.shutdown()
	<-s.finished
	return nil
}

func (s *subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *subscription) shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *subscription) readLoop(ctx context.Context) {
	defer close(s.finished)
	defer close(s.updates)
	defer s.shutdown()

	log := GetLogger().With(logger.String("job_id", s.jobID))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(ctx, err)
			return
		}

		var msg wsProgress
		if err := json.Unmarshal(data, &msg); err != nil {
			if s.isCompleted() {
				log.Debug("ignoring malformed message after completion", logger.Error(err))
				continue
			}
			s.fail(errors.New(fmt.Errorf("%w: %w", classifier.ErrDecoding, err)).
				Component("classifier.remote").
				Category(errors.CategoryDecoding).
				Context("job_id", s.jobID).
				Build())
			log.Warn("malformed progress message before completion", logger.Error(err))
			return
		}
		update := msg.toUpdate()
		s.metrics.SetJobProgress(s.jobID, update.Progress)
		if update.Complete() {
			s.mu.Lock()
			s.completed = true
			s.mu.Unlock()
		}

		select {
		case s.updates <- update:
		case <-s.done:
			s.finish(ctx, nil)
			return
		}
	}
}

func (s *subscription) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

// finish records the terminal error. Losing the connection after completion
// or after a local close is not an error.
func (s *subscription) finish(ctx context.Context, readErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.completed:
		GetLogger().Debug("progress channel closed after completion", logger.String("job_id", s.jobID))
	case ctx.Err() != nil:
		s.err = ctx.Err()
	case s.closed:
	default:
		s.err = errors.New(fmt.Errorf("%w: %w", classifier.ErrDisconnected, readErr)).
			Component("classifier.remote").
			Category(errors.CategoryNetwork).
			Context("job_id", s.jobID).
			Build()
		GetLogger().Warn("progress channel lost before completion",
			logger.String("job_id", s.jobID),
			logger.Error(readErr))
	}
}
