package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks prediction session lifecycle events.
type SessionMetrics struct {
	SessionsCreated  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	StepFailures     *prometheus.CounterVec
	ItemOutcomes     *prometheus.CounterVec
	Reviews          *prometheus.CounterVec
}

// NewSessionMetrics creates and registers session metrics.
func NewSessionMetrics(registry *prometheus.Registry) (*SessionMetrics, error) {
	m := &SessionMetrics{
		SessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_sessions_created_total",
				Help: "Total number of prediction sessions created",
			},
			[]string{"mode", "media_kind"},
		),
		SessionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_sessions_finished_total",
				Help: "Total number of sessions that left the classifying step",
			},
			[]string{"mode", "status"},
		),
		StepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_session_step_failures_total",
				Help: "Total number of failed pipeline steps",
			},
			[]string{"step"},
		),
		ItemOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_item_classifications_total",
				Help: "Per-item classification outcomes",
			},
			[]string{"mode", "status"},
		),
		Reviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_reviews_total",
				Help: "Review actions applied to media items",
			},
			[]string{"action"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}
	return m, nil
}

// RecordSessionCreated counts a new session.
func (m *SessionMetrics) RecordSessionCreated(mode, mediaKind string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(mode, mediaKind).Inc()
}

// RecordSessionFinished counts a classification run that ended with the given status.
func (m *SessionMetrics) RecordSessionFinished(mode, status string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(mode, status).Inc()
}

// RecordStepFailure counts a failed pipeline step.
func (m *SessionMetrics) RecordStepFailure(step string) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(step).Inc()
}

// RecordItems adds per-item outcomes for one classification run.
func (m *SessionMetrics) RecordItems(mode string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.ItemOutcomes.WithLabelValues(mode, StatusSuccess).Add(float64(succeeded))
	m.ItemOutcomes.WithLabelValues(mode, StatusFailed).Add(float64(failed))
}

// RecordReview counts one review action ("accept", "reject", "correct").
func (m *SessionMetrics) RecordReview(action string) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(action).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SessionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SessionsCreated.Describe(ch)
	m.SessionsFinished.Describe(ch)
	m.StepFailures.Describe(ch)
	m.ItemOutcomes.Describe(ch)
	m.Reviews.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *SessionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SessionsCreated.Collect(ch)
	m.SessionsFinished.Collect(ch)
	m.StepFailures.Collect(ch)
	m.ItemOutcomes.Collect(ch)
	m.Reviews.Collect(ch)
}
