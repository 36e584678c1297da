package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/classifier/tflite"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/httpclient"
	"github.com/tphakala/ecosort/internal/jobqueue"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/media"
	"github.com/tphakala/ecosort/internal/modelstore"
	"github.com/tphakala/ecosort/internal/observability"
	"github.com/tphakala/ecosort/internal/review"
	"github.com/tphakala/ecosort/internal/session"
)

const (
	jobTimeout      = 30 * time.Minute
	downloadTimeout = 10 * time.Minute
	queueStopWait   = 5 * time.Second
)

// Services holds the long lived components built from settings.
type Services struct {
	Settings   *conf.Settings
	Store      datastore.Interface
	Metrics    *observability.Metrics
	Queue      *jobqueue.JobQueue
	Catalog    *remote.CatalogCache
	Models     *modelstore.Store
	Downloader *modelstore.Downloader
	Capturer   *media.Capturer
	Reconciler *review.Reconciler

	remote   classifier.BatchEngine
	client   *remote.Client
	taxonomy session.TaxonomySource

	localMu    sync.Mutex
	local      classifier.LocalEngine
	loadEngine func(context.Context) (classifier.LocalEngine, error)

	stopQueue context.CancelFunc
}

// Option overrides a component before the defaults are built.
type Option func(*Services)

// WithStore uses an already opened store. Close leaves it open.
func WithStore(store datastore.Interface) Option {
	return func(s *Services) { s.Store = store }
}

// WithLocalEngine replaces the on-device model.
func WithLocalEngine(engine classifier.LocalEngine) Option {
	return func(s *Services) { s.local = engine }
}

// WithBatchEngine replaces the prediction service client.
func WithBatchEngine(engine classifier.BatchEngine) Option {
	return func(s *Services) { s.remote = engine }
}

// WithTaxonomy replaces the catalog as the taxonomy source.
func WithTaxonomy(source session.TaxonomySource) Option {
	return func(s *Services) { s.taxonomy = source }
}

// NewServices builds and opens every component. The job queue runs until
// Close or until ctx is cancelled.
func NewServices(ctx context.Context, settings *conf.Settings, opts ...Option) (*Services, error) {
	s := &Services{Settings: settings}
	s.loadEngine = s.loadLocal
	for _, opt := range opts {
		opt(s)
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	s.Metrics = m

	ownStore := s.Store == nil
	if ownStore {
		store := datastore.New(settings)
		if store == nil {
			return nil, configError(fmt.Errorf("no session store enabled"), "output")
		}
		if err := store.Open(); err != nil {
			return nil, err
		}
		s.Store = store
	}

	if settings.Remote.BaseURL != "" {
		client, err := remote.NewClient(&settings.Remote, m.Classifier)
		if err != nil {
			s.closeStore(ownStore)
			return nil, err
		}
		s.client = client
		if s.remote == nil {
			s.remote = client
		}
		s.Catalog = remote.NewCatalogCache(client, settings.Remote.ConfigCacheTTL, settings.Remote.ConfigCacheFile, m.Classifier)
	} else {
		// Offline: the catalog only serves the last copy written to disk.
		s.Catalog = remote.NewCatalogCache(nil, settings.Remote.ConfigCacheTTL, settings.Remote.ConfigCacheFile, m.Classifier)
	}
	if s.taxonomy == nil {
		s.taxonomy = s.Catalog
	}

	queueCtx, cancel := context.WithCancel(ctx)
	s.stopQueue = cancel
	s.Queue = jobqueue.NewJobQueue(jobTimeout)
	s.Queue.StartWithContext(queueCtx)

	s.Models = modelstore.New(settings.Model.Dir)
	s.Downloader = modelstore.NewDownloader(
		s.Models,
		httpclient.New(&httpclient.Config{DefaultTimeout: downloadTimeout}),
		settings.Model.DownloadToken,
		s.Queue,
		m.Media,
	)

	pre := media.NewPreprocessor(settings.Model.InputWidth, settings.Model.InputHeight, m.Media)
	extractor := media.NewFrameExtractor(
		media.NewFFmpegDecoder(settings.Video.FfmpegPath, settings.Video.FfprobePath),
		pre,
		media.ExtractorConfig{
			FallbackFPS: settings.Video.FallbackFPS,
			JPEGQuality: settings.Video.JPEGQuality,
			Metrics:     m.Media,
		},
	)
	s.Capturer = media.NewCapturer(pre, extractor)
	s.Reconciler = review.NewReconciler(s.Store, m.Session)

	if !ownStore {
		s.Store = nonClosing{s.Store}
	}
	GetLogger().Debug("services ready",
		logger.Bool("remote", s.remote != nil),
		logger.String("model_dir", settings.Model.Dir))
	return s, nil
}

// LocalEngine loads the configured on-device model on first use. Failed loads
// are not remembered, so a model downloaded later is picked up.
func (s *Services) LocalEngine(ctx context.Context) (classifier.LocalEngine, error) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	if s.local != nil {
		return s.local, nil
	}
	engine, err := s.loadEngine(ctx)
	if err != nil {
		return nil, err
	}
	s.local = engine
	return engine, nil
}

func (s *Services) loadLocal(ctx context.Context) (classifier.LocalEngine, error) {
	version := s.Settings.Model.Version
	if err := modelstore.ValidateVersion(version); err != nil {
		return nil, configError(err, "model.version")
	}
	labels, err := s.Catalog.Labels(ctx)
	if err != nil {
		return nil, errors.New(fmt.Errorf("label catalog unavailable: %w", err)).
			Component("analysis").
			Category(errors.CategoryModelInit).
			Context("version", version).
			Build()
	}
	interp, err := tflite.Load(s.Models.Path(version), s.Settings.Model.Threads)
	if err != nil {
		return nil, err
	}
	GetLogger().Info("on-device model loaded",
		logger.String("version", version),
		logger.Int("classes", len(labels)))
	return classifier.NewLocalClassifier(interp, version, labels, s.Metrics.Classifier), nil
}

// Pipeline builds a pipeline for mode. Engines that are not needed for mode
// are attached when already available so a resumed session of the other mode
// still works.
func (s *Services) Pipeline(ctx context.Context, mode datastore.ProcessingMode) (*session.Pipeline, error) {
	cfg := session.Config{
		Store:             s.Store,
		Taxonomy:          s.taxonomy,
		Queue:             s.Queue,
		Metrics:           s.Metrics.Session,
		ClassifierMetrics: s.Metrics.Classifier,
	}
	if s.remote != nil {
		cfg.Remote = s.remote
	}

	switch mode {
	case datastore.ProcessingOnDevice:
		local, err := s.LocalEngine(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Local = local
	case datastore.ProcessingCloud:
		if cfg.Remote == nil {
			return nil, configError(ErrRemoteNotConfigured, "remote.baseurl")
		}
	default:
		// Mode unknown until the session is loaded; take what is available.
		if local, err := s.LocalEngine(ctx); err == nil {
			cfg.Local = local
		} else {
			GetLogger().Debug("on-device model unavailable", logger.Error(err))
		}
	}
	return session.New(cfg), nil
}

// Close stops the queue and releases the store and model.
func (s *Services) Close() error {
	if s.stopQueue != nil {
		s.stopQueue()
	}
	var errs []error
	if s.Queue != nil {
		if err := s.Queue.StopWithTimeout(queueStopWait); err != nil {
			errs = append(errs, err)
		}
	}
	s.localMu.Lock()
	if s.local != nil {
		if err := s.local.Close(); err != nil {
			errs = append(errs, err)
		}
		s.local = nil
	}
	s.localMu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Services) closeStore(own bool) {
	if own && s.Store != nil {
		_ = s.Store.Close()
	}
}

// nonClosing keeps a caller supplied store open on Close.
type nonClosing struct {
	datastore.Interface
}

func (nonClosing) Close() error { return nil }
