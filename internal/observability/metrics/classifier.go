package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains metrics for local inference and the remote prediction API.
type ClassifierMetrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceTotal    *prometheus.CounterVec
	InferenceErrors   *prometheus.CounterVec
	ModelLoaded       prometheus.Gauge

	RemoteRequests   *prometheus.CounterVec
	RemoteProgress   *prometheus.GaugeVec
	StaleSnapshots   prometheus.Counter
	CatalogCacheHits *prometheus.CounterVec
}

// NewClassifierMetrics creates and registers classifier metrics.
func NewClassifierMetrics(registry *prometheus.Registry) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		InferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecosort_inference_duration_seconds",
				Help:    "Time taken by one local model invocation",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"model"},
		),
		InferenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_inference_total",
				Help: "Total number of local inference calls",
			},
			[]string{"model", "status"},
		),
		InferenceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_inference_errors_total",
				Help: "Total number of local inference errors",
			},
			[]string{"model", "error_type"},
		),
		ModelLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ecosort_model_loaded",
				Help: "Whether the on-device model is currently loaded (1) or not (0)",
			},
		),
		RemoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_remote_requests_total",
				Help: "Prediction API exchanges by operation and HTTP outcome",
			},
			[]string{"operation", "status"},
		),
		RemoteProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecosort_remote_job_progress_percent",
				Help: "Last applied progress of an active remote job",
			},
			[]string{"job_id"},
		),
		StaleSnapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ecosort_remote_stale_snapshots_total",
				Help: "Progress snapshots dropped because an equal or newer one was already applied",
			},
		),
		CatalogCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecosort_catalog_cache_total",
				Help: "Prediction config lookups by source",
			},
			[]string{"source"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// RecordInference records one local inference call.
func (m *ClassifierMetrics) RecordInference(model string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InferenceTotal.WithLabelValues(model, StatusError).Inc()
		m.InferenceErrors.WithLabelValues(model, categorizeError(err)).Inc()
		return
	}
	m.InferenceTotal.WithLabelValues(model, StatusSuccess).Inc()
	m.InferenceDuration.WithLabelValues(model).Observe(durationSeconds)
}

// SetModelLoaded flips the model loaded gauge.
func (m *ClassifierMetrics) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// RecordRemoteRequest records one prediction API call.
func (m *ClassifierMetrics) RecordRemoteRequest(operation string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.RemoteRequests.WithLabelValues(operation, status).Inc()
}

// SetJobProgress sets the progress gauge of a remote job.
func (m *ClassifierMetrics) SetJobProgress(jobID string, progress float64) {
	if m == nil {
		return
	}
	m.RemoteProgress.WithLabelValues(jobID).Set(progress)
}

// ClearJob removes the gauge of a finished job.
func (m *ClassifierMetrics) ClearJob(jobID string) {
	if m == nil {
		return
	}
	m.RemoteProgress.DeleteLabelValues(jobID)
}

// RecordStaleSnapshot counts a dropped progress snapshot.
func (m *ClassifierMetrics) RecordStaleSnapshot() {
	if m == nil {
		return
	}
	m.StaleSnapshots.Inc()
}

// RecordCatalogLookup counts where a prediction config came from ("memory", "remote", "file").
func (m *ClassifierMetrics) RecordCatalogLookup(source string) {
	if m == nil {
		return
	}
	m.CatalogCacheHits.WithLabelValues(source).Inc()
}

func categorizeError(err error) string {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "tensor"):
		return "tensor_error"
	case strings.Contains(errStr, "invoke"):
		return "invoke_error"
	case strings.Contains(errStr, "classification"):
		return "invalid_output"
	default:
		return "unknown"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InferenceDuration.Describe(ch)
	m.InferenceTotal.Describe(ch)
	m.InferenceErrors.Describe(ch)
	ch <- m.ModelLoaded.Desc()
	m.RemoteRequests.Describe(ch)
	m.RemoteProgress.Describe(ch)
	ch <- m.StaleSnapshots.Desc()
	m.CatalogCacheHits.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InferenceDuration.Collect(ch)
	m.InferenceTotal.Collect(ch)
	m.InferenceErrors.Collect(ch)
	ch <- m.ModelLoaded
	m.RemoteRequests.Collect(ch)
	m.RemoteProgress.Collect(ch)
	ch <- m.StaleSnapshots
	m.CatalogCacheHits.Collect(ch)
}
