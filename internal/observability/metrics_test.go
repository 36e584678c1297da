package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ecosort/internal/observability/metrics"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Session.RecordSessionCreated(metrics.ModeCloud, "image")
	m.Session.RecordItems(metrics.ModeCloud, 4, 1)
	m.Classifier.RecordInference("v1", 0.01, nil)
	m.Classifier.RecordInference("v1", 0, errors.New("invoke failed"))
	m.Media.RecordFrame(false)
	m.Media.RecordFrame(true)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Session.SessionsCreated.WithLabelValues(metrics.ModeCloud, "image")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.Session.ItemOutcomes.WithLabelValues(metrics.ModeCloud, metrics.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Session.ItemOutcomes.WithLabelValues(metrics.ModeCloud, metrics.StatusFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Classifier.InferenceErrors.WithLabelValues("v1", "invoke_error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Media.FramesDecoded), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Media.FramesDeduplicated), 0)
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Classifier.SetJobProgress("job-1", 40)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ecosort_remote_job_progress_percent{job_id="job-1"} 40`)
}

func TestNilCollectorsAreNoOps(t *testing.T) {
	t.Parallel()
	var s *metrics.SessionMetrics
	var c *metrics.ClassifierMetrics
	var md *metrics.MediaMetrics
	assert.NotPanics(t, func() {
		s.RecordSessionCreated("x", "y")
		s.RecordReview("accept")
		c.RecordStaleSnapshot()
		c.SetModelLoaded(true)
		md.RecordFrame(true)
		md.RecordModelDownload(nil)
	})
}
