package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/modelstore"
	"github.com/tphakala/ecosort/internal/observability"
	"github.com/tphakala/ecosort/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func openStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "api.db")
	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storedSession inserts a session with groups Glass{glass} and Paper{paper}
// and n items. When predicted is true every item is predicted as glass.
func storedSession(t *testing.T, store datastore.Interface, n int, predicted bool) *datastore.Session {
	t.Helper()
	id := uuid.NewString()
	glassID, paperID := uuid.NewString(), uuid.NewString()
	s := &datastore.Session{
		ID:             id,
		CreatedAt:      time.Now(),
		MediaKind:      datastore.MediaKindImage,
		ProcessingMode: datastore.ProcessingOnDevice,
		State:          datastore.StateInProgress,
		NumberOfImages: n,
		Groups: []datastore.LabelGroup{
			{ID: glassID, SessionID: id, Name: "Glass", Classes: []datastore.LabelClass{
				{ID: uuid.NewString(), GroupID: glassID, SessionID: id, Name: "glass", DisplayName: "Glass"},
			}},
			{ID: paperID, SessionID: id, Name: "Paper", Position: 1, Classes: []datastore.LabelClass{
				{ID: uuid.NewString(), GroupID: paperID, SessionID: id, Name: "paper", DisplayName: "Paper", Index: 1, Position: 0},
			}},
		},
	}
	glass := s.Groups[0].Classes[0].ID
	for i := range n {
		it := datastore.MediaItem{
			ID:           uuid.NewString(),
			SessionID:    id,
			Kind:         datastore.MediaKindImage,
			Position:     i,
			Raw:          []byte{0xff, 0xd8, byte(i)},
			Preprocessed: []byte{byte(i)},
		}
		it.Name = it.ID
		if predicted {
			label := glass
			it.PredictedLabelID = &label
		}
		s.Items = append(s.Items, it)
	}
	if predicted {
		s.State = datastore.StateDone
	}
	require.NoError(t, store.Insert(t.Context(), s))
	return s
}

func newServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	settings := &conf.Settings{Version: "test"}
	s, err := New(settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(&conf.Settings{})
	require.Error(t, err)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	done := storedSession(t, store, 2, true)
	storedSession(t, store, 3, false)
	s := newServer(t, WithDataStore(store))

	rec := do(t, s, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SessionSummary](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions?state=done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]SessionSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, done.ID, list[0].ID)
	assert.Equal(t, 2, list[0].Items)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	s := newServer(t, WithDataStore(openStore(t)))

	rec := do(t, s, http.MethodGet, "/api/v1/sessions/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Error, "session not found")
	assert.Len(t, resp.CorrelationID, 8)
}

func TestGetSessionDetail(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 2, true)
	s := newServer(t, WithDataStore(store))

	rec := do(t, s, http.MethodGet, "/api/v1/sessions/"+sess.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[SessionDetail](t, rec)
	assert.Equal(t, "done", d.State)
	require.Len(t, d.Labels, 2)
	assert.Equal(t, "Glass", d.Labels[0].Group)
	require.Len(t, d.Items, 2)
	assert.Equal(t, sess.Groups[0].Classes[0].ID, d.Items[0].Predicted)
	assert.NotContains(t, rec.Body.String(), "Raw", "media bytes stay out of the response")
}

func TestReviewEndpoints(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 2, true)
	s := newServer(t, WithDataStore(store))
	base := "/api/v1/sessions/" + sess.ID + "/items/"
	paper := sess.Groups[1].Classes[0].ID

	rec := do(t, s, http.MethodPost, base+sess.Items[0].ID+"/accept", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReviewResponse](t, rec)
	assert.Equal(t, resp.Item.Predicted, resp.Item.Actual)
	require.NotNil(t, resp.Stats.ReviewCompletion)
	assert.InDelta(t, 0.5, *resp.Stats.ReviewCompletion, 1e-9)
	assert.Equal(t, sess.Items[1].ID, resp.Stats.NextUnreviewed)

	rec = do(t, s, http.MethodPost, base+sess.Items[1].ID+"/reject", `{"label_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, base+"nope/accept", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, base+sess.Items[1].ID+"/reject", `{"label_id":"`+paper+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[ReviewResponse](t, rec)
	assert.Equal(t, paper, resp.Item.Actual)
	require.NotNil(t, resp.Stats.FinalAccuracy)
	assert.InDelta(t, 0.5, *resp.Stats.FinalAccuracy, 1e-9)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/sections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sections := decode[SectionsResponse](t, rec)
	require.Len(t, sections.Sections, 2)
	assert.Equal(t, "Glass", sections.Sections[0].Name)
	assert.Len(t, sections.Sections[0].Items, 1)
	assert.Len(t, sections.Sections[1].Items, 1)
	assert.Empty(t, sections.Unreviewed)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, stats.Reviewed)
	assert.Equal(t, 1, stats.Accurate)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 1, true)
	s := newServer(t, WithDataStore(store))

	rec := do(t, s, http.MethodDelete, "/api/v1/sessions/"+sess.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type glassEngine struct{}

func (glassEngine) Classify(context.Context, []byte) (classifier.Class, error) {
	return classifier.Class{Name: "glass"}, nil
}
func (glassEngine) Version() string { return "1.2" }
func (glassEngine) Close() error    { return nil }

func TestResumeClassifiesInBackground(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 3, false)
	factory := func() *session.Pipeline {
		return session.New(session.Config{Store: store, Local: glassEngine{}})
	}
	s := newServer(t, WithDataStore(store), WithPipelines(factory))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/resume", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		stored, err := store.FetchByID(t.Context(), sess.ID)
		return err == nil && stored.State == datastore.StateDone && !s.isRunning(sess.ID)
	}, 5*time.Second, 20*time.Millisecond)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code, "a finished session is not resumed again")
	assert.Equal(t, "done", decode[SessionSummary](t, rec).State)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeWithoutPipelines(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 1, false)
	s := newServer(t, WithDataStore(store))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/resume", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	store := openStore(t)
	sess := storedSession(t, store, 1, true)
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newServer(t, WithDataStore(store), WithMetrics(m))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/items/"+sess.Items[0].ID+"/accept", "")
	require.Equal(t, http.StatusOK, rec.Code)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.InDelta(t, 1, counterSum(families, "ecosort_reviews_total"), 0)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ecosort_reviews_total{action="accept"} 1`)
}

func counterSum(families []*dto.MetricFamily, name string) float64 {
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
	}
	return sum
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	s := newServer(t, WithDataStore(openStore(t)))

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Zero(t, h.Resumes)
}

type staticCatalog []remote.ModelVersion

func (c staticCatalog) Versions(context.Context) ([]remote.ModelVersion, error) { return c, nil }

func TestListModelsMergesCatalog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.2.tflite"), []byte("model"), 0o600))
	catalog := staticCatalog{
		{Version: "1.2", TFLiteURL: "https://models.example/v1.2.tflite", Accuracy: "91%"},
		{Version: "1.3", TFLiteURL: "https://models.example/v1.3.tflite", TFLiteSize: "2 KB"},
	}
	s := newServer(t, WithDataStore(openStore(t)), WithModels(modelstore.New(dir), nil, catalog))
	s.settings.Model.Version = "1.2"

	rec := do(t, s, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	models := decode[[]ModelResponse](t, rec)
	require.Len(t, models, 2)
	assert.True(t, models[0].Installed)
	assert.True(t, models[0].Active)
	assert.Equal(t, "91%", models[0].Accuracy)
	assert.False(t, models[1].Installed)
	assert.Equal(t, "2 KB", models[1].Size)

	rec = do(t, s, http.MethodPost, "/api/v1/models/1.3/download", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "no downloader configured")
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", datastore.ErrSessionNotFound, http.StatusNotFound},
		{"transition", session.ErrInvalidTransition, http.StatusConflict},
		{"invalid session", datastore.ErrInvalidSession, http.StatusBadRequest},
		{"other", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.name)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newServer(t, WithDataStore(openStore(t)), WithRateLimit(0.01, 2))

	for range 2 {
		rec := do(t, s, http.MethodGet, "/api/v1/sessions", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Outside /api/v1.
	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
