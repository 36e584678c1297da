package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type bins struct{}

func (bins) Group(_ context.Context, name string) (*remote.GroupConfig, error) {
	if name != "Almere bins" {
		return nil, remote.ErrGroupNotFound
	}
	return &remote.GroupConfig{Name: name, Sections: []remote.Section{
		{Name: "Glass", Classes: []classifier.Class{{Index: 0, Name: "glass"}}},
		{Name: "Paper", Classes: []classifier.Class{{Index: 1, Name: "paper"}}},
	}}, nil
}

type paperEngine struct{}

func (paperEngine) Classify(context.Context, []byte) (classifier.Class, error) {
	return classifier.Class{Index: 1, Name: "paper"}, nil
}
func (paperEngine) Version() string { return "2.0" }
func (paperEngine) Close() error    { return nil }

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = filepath.Join(t.TempDir(), "analysis.db")
	s.Model.Dir = t.TempDir()
	s.Model.InputWidth = 4
	s.Model.InputHeight = 4
	s.Prediction.Mode = conf.ModeOnDevice
	s.Prediction.Group = "Almere bins"
	return s
}

func newServices(t *testing.T, settings *conf.Settings) *Services {
	t.Helper()
	svc, err := NewServices(t.Context(), settings, WithLocalEngine(paperEngine{}), WithTaxonomy(bins{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func writeJPEG(t *testing.T, dir, name string, shade uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: shade, G: 128, B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestClassifyPhotosOnDevice(t *testing.T) {
	dir := t.TempDir()
	svc := newServices(t, testSettings(t))
	photos := []string{writeJPEG(t, dir, "a.jpg", 10), writeJPEG(t, dir, "b.jpg", 200)}

	res, err := Classify(t.Context(), svc, Request{Photos: photos})
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, session.StatusDone, res.Outcome.Status())
	assert.Equal(t, 2, res.Outcome.Classified)

	stored, err := svc.Store.FetchByID(t.Context(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StateDone, stored.State)
	assert.Equal(t, "2.0", stored.ModelVersion)
	for _, it := range stored.Items {
		require.NotNil(t, it.PredictedLabelID)
		assert.Equal(t, "paper", stored.ClassByID(*it.PredictedLabelID).Name)
	}

	again, err := Resume(t.Context(), svc, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusDone, again.Outcome.Status())
}

func TestClassifyRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	svc := newServices(t, testSettings(t))

	_, err := Classify(t.Context(), svc, Request{})
	require.ErrorIs(t, err, ErrNoInput)

	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = Classify(t.Context(), svc, Request{Photos: []string{empty}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")

	_, err = Classify(t.Context(), svc, Request{Photos: []string{dir}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestClassifyCloudRequiresService(t *testing.T) {
	dir := t.TempDir()
	svc := newServices(t, testSettings(t))

	_, err := Classify(t.Context(), svc, Request{
		Photos: []string{writeJPEG(t, dir, "a.jpg", 10)},
		Mode:   conf.ModeCloud,
	})
	require.ErrorIs(t, err, ErrRemoteNotConfigured)
}

func TestClassifyUnknownGroupFailsAtTaxonomy(t *testing.T) {
	dir := t.TempDir()
	svc := newServices(t, testSettings(t))

	res, err := Classify(t.Context(), svc, Request{
		Photos: []string{writeJPEG(t, dir, "a.jpg", 10)},
		Group:  "Rotterdam bins",
	})
	require.ErrorIs(t, err, session.ErrConfigurationMissing)
	assert.Equal(t, session.StepAddingTaxonomy, res.FailedStep)
}

// A model that is missing on the first attempt is loaded once it appears.
func TestLocalEngineRetriesFailedLoad(t *testing.T) {
	settings := testSettings(t)
	svc, err := NewServices(t.Context(), settings, WithTaxonomy(bins{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	loads := 0
	svc.loadEngine = func(context.Context) (classifier.LocalEngine, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("model file v2.0.tflite not found")
		}
		return paperEngine{}, nil
	}

	_, err = svc.Pipeline(t.Context(), datastore.ProcessingOnDevice)
	require.Error(t, err)

	engine, err := svc.LocalEngine(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "2.0", engine.Version())

	_, err = svc.Pipeline(t.Context(), datastore.ProcessingOnDevice)
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "a loaded engine is reused")

	dir := t.TempDir()
	res, err := Classify(t.Context(), svc, Request{Photos: []string{writeJPEG(t, dir, "a.jpg", 10)}})
	require.NoError(t, err)
	assert.Equal(t, session.StatusDone, res.Outcome.Status())
}

func TestNewServicesRequiresStore(t *testing.T) {
	_, err := NewServices(t.Context(), &conf.Settings{})
	require.Error(t, err)
}

func TestNewServerRoutes(t *testing.T) {
	svc := newServices(t, testSettings(t))
	server, err := NewServer(t.Context(), svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown() })

	paths := make(map[string]bool)
	for _, r := range server.Echo().Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	assert.True(t, paths["GET /api/v1/sessions"])
	assert.True(t, paths["GET /api/v1/models"])
	assert.True(t, paths["GET /metrics"])
}
