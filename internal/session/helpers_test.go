package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/media"
)

func openStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "sessions.db")

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func almereBins() *remote.GroupConfig {
	return &remote.GroupConfig{
		Name: "Almere bins",
		Sections: []remote.Section{
			{Name: "Glass", Classes: []classifier.Class{
				{Index: 0, Name: "glass", ReadableName: "Glass"},
				{Index: 1, Name: "clear_glass_bottle"},
			}},
			{Name: "Paper", Classes: []classifier.Class{
				{Index: 2, Name: "paper", ReadableName: "Paper", Description: "Clean paper and cardboard"},
			}},
		},
	}
}

type fakeTaxonomy struct {
	mu    sync.Mutex
	group *remote.GroupConfig
	err   error
	calls int
}

func (f *fakeTaxonomy) Group(_ context.Context, name string) (*remote.GroupConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !strings.EqualFold(name, f.group.Name) {
		return nil, remote.ErrGroupNotFound
	}
	return f.group, nil
}

// captureItems builds n items whose raw and tensor bytes carry their index.
func captureItems(n int) []media.Item {
	items := make([]media.Item, n)
	for i := range items {
		items[i] = media.Item{
			Source:       "photo",
			Raw:          []byte{0xff, 0xd8, byte(i)},
			Preprocessed: []byte{byte(i)},
		}
	}
	return items
}

func imageCapture(mode datastore.ProcessingMode, n int) Capture {
	return Capture{
		MediaKind: datastore.MediaKindImage,
		Mode:      mode,
		Group:     "Almere bins",
		Items:     captureItems(n),
	}
}

// fakeLocal classifies by the item index stored in the tensor.
type fakeLocal struct {
	mu    sync.Mutex
	calls []byte
	fn    func(ctx context.Context, index byte) (classifier.Class, error)
}

func (f *fakeLocal) Classify(ctx context.Context, tensor []byte) (classifier.Class, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tensor[0])
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, tensor[0])
}

func (f *fakeLocal) setFn(fn func(ctx context.Context, index byte) (classifier.Class, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeLocal) Calls() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.calls...)
}

func (f *fakeLocal) Version() string { return "1.2" }
func (f *fakeLocal) Close() error    { return nil }

func alwaysGlass(context.Context, byte) (classifier.Class, error) {
	return classifier.Class{Index: 0, Name: "glass"}, nil
}

// fakeSubscription replays a fixed script. When open is false the update
// channel is closed after the script with err as the terminal error.
type fakeSubscription struct {
	updates chan classifier.ProgressUpdate
	err     error

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeSubscription(script []classifier.ProgressUpdate, open bool, err error) *fakeSubscription {
	s := &fakeSubscription{updates: make(chan classifier.ProgressUpdate, len(script)), err: err}
	for _, u := range script {
		s.updates <- u
	}
	if !open {
		close(s.updates)
	}
	return s
}

func (s *fakeSubscription) Updates() <-chan classifier.ProgressUpdate { return s.updates }
func (s *fakeSubscription) Err() error                                { return s.err }

func (s *fakeSubscription) Send(action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return classifier.ErrDisconnected
	}
	s.sent = append(s.sent, action)
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// fakeBatch records uploads and hands out scripted subscriptions. names maps
// the index byte of each uploaded item to its upload name.
type fakeBatch struct {
	mu         sync.Mutex
	submits    int
	names      map[byte]string
	subscribed []string
	submitErr  error
	script     func(n int, names map[byte]string) *fakeSubscription
	subs       []*fakeSubscription
}

func (f *fakeBatch) SubmitBatch(_ context.Context, items map[string][]byte) (classifier.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return classifier.JobHandle{}, f.submitErr
	}
	f.names = make(map[byte]string, len(items))
	for name, raw := range items {
		f.names[raw[2]] = name
	}
	return classifier.JobHandle{ID: "job-42", Message: "accepted"}, nil
}

func (f *fakeBatch) Subscribe(_ context.Context, jobID string) (classifier.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, jobID)
	sub := f.script(len(f.subscribed), f.names)
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeBatch) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeBatch) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func prediction(name, class string) classifier.ItemPrediction {
	return classifier.ItemPrediction{JobID: "job-42", ItemName: name, Class: classifier.Class{Name: class}, Status: "done"}
}

// flakyStore fails the first n inserts.
type flakyStore struct {
	datastore.Interface
	mu          sync.Mutex
	failInserts int
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) Insert(ctx context.Context, s *datastore.Session) error {
	f.mu.Lock()
	fail := f.failInserts > 0
	if fail {
		f.failInserts--
	}
	f.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return f.Interface.Insert(ctx, s)
}

func labelName(s *datastore.Session, id *string) string {
	if id == nil {
		return ""
	}
	if c := s.ClassByID(*id); c != nil {
		return c.Name
	}
	return "?"
}
