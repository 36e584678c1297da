package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MediaMetrics tracks frame extraction, preprocessing and model downloads.
type MediaMetrics struct {
	FramesDecoded      prometheus.Counter
	FramesDeduplicated prometheus.Counter
	FramesEmitted      prometheus.Counter
	ExtractionFailures prometheus.Counter
	PreprocessDuration prometheus.Histogram
	ModelDownloads     *prometheus.CounterVec
}

// NewMediaMetrics creates and registers media metrics.
func NewMediaMetrics(registry *prometheus.Registry) (*MediaMetrics, error) {
	m := &MediaMetrics{
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecosort_frames_decoded_total",
			Help: "Video frames decoded before deduplication",
		}),
		FramesDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecosort_frames_deduplicated_total",
			Help: "Video frames discarded as duplicates of an earlier frame",
		}),
		FramesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecosort_frames_emitted_total",
			Help: "Unique video frames emitted for classification",
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecosort_frame_extraction_failures_total",
			Help: "Videos that could not be opened or decoded",
		}),
		PreprocessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecosort_preprocess_duration_seconds",
			Help:    "Time taken to turn one image into a model tensor",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		ModelDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecosort_model_downloads_total",
			Help: "Model download attempts",
		}, []string{"status"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register media metrics: %w", err)
	}
	return m, nil
}

// RecordFrame counts one decoded frame and whether it survived deduplication.
func (m *MediaMetrics) RecordFrame(duplicate bool) {
	if m == nil {
		return
	}
	m.FramesDecoded.Inc()
	if duplicate {
		m.FramesDeduplicated.Inc()
	} else {
		m.FramesEmitted.Inc()
	}
}

// RecordExtractionFailure counts a video that yielded no frames due to an error.
func (m *MediaMetrics) RecordExtractionFailure() {
	if m == nil {
		return
	}
	m.ExtractionFailures.Inc()
}

// ObservePreprocess records preprocessing time.
func (m *MediaMetrics) ObservePreprocess(seconds float64) {
	if m == nil {
		return
	}
	m.PreprocessDuration.Observe(seconds)
}

// RecordModelDownload counts a model download attempt.
func (m *MediaMetrics) RecordModelDownload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ModelDownloads.WithLabelValues(StatusError).Inc()
		return
	}
	m.ModelDownloads.WithLabelValues(StatusSuccess).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MediaMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.FramesDecoded.Desc()
	ch <- m.FramesDeduplicated.Desc()
	ch <- m.FramesEmitted.Desc()
	ch <- m.ExtractionFailures.Desc()
	m.PreprocessDuration.Describe(ch)
	m.ModelDownloads.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MediaMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.FramesDecoded
	ch <- m.FramesDeduplicated
	ch <- m.FramesEmitted
	ch <- m.ExtractionFailures
	m.PreprocessDuration.Collect(ch)
	m.ModelDownloads.Collect(ch)
}
