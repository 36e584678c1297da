package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/modelstore"
	"github.com/tphakala/ecosort/internal/observability"
	"github.com/tphakala/ecosort/internal/observability/metrics"
	"github.com/tphakala/ecosort/internal/review"
	"github.com/tphakala/ecosort/internal/session"
)

// PipelineFactory builds a pipeline for resuming one session.
type PipelineFactory func() *session.Pipeline

// ModelCatalog lists downloadable model versions.
type ModelCatalog interface {
	Versions(ctx context.Context) ([]remote.ModelVersion, error)
}

// Server is the HTTP server of ecosort.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings

	store      datastore.Interface
	reconciler *review.Reconciler
	pipelines  PipelineFactory
	metrics    *observability.Metrics
	models     *modelstore.Store
	downloader *modelstore.Downloader
	catalog    ModelCatalog

	// Pipelines resumed through the API, keyed by session id.
	mu      sync.Mutex
	running map[string]*session.Pipeline

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the session store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.store = ds
	}
}

// WithReconciler sets the review reconciler. Without it one is built on the
// data store.
func WithReconciler(r *review.Reconciler) ServerOption {
	return func(s *Server) {
		s.reconciler = r
	}
}

// WithPipelines enables the resume endpoint.
func WithPipelines(f PipelineFactory) ServerOption {
	return func(s *Server) {
		s.pipelines = f
	}
}

// WithMetrics exposes the registry on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithModels enables the model endpoints. catalog and downloader may be nil,
// which leaves only the installed listing.
func WithModels(store *modelstore.Store, downloader *modelstore.Downloader, catalog ModelCatalog) ServerOption {
	return func(s *Server) {
		s.models = store
		s.downloader = downloader
		s.catalog = catalog
	}
}

// WithRateLimit overrides the per-client request rate of the /api/v1 routes.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.config.RateLimit = perSecond
		s.config.RateBurst = burst
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		settings:  settings,
		running:   make(map[string]*session.Pipeline),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		cancel()
		return nil, fmt.Errorf("api server requires a data store")
	}
	if s.reconciler == nil {
		var sm *metrics.SessionMetrics
		if s.metrics != nil {
			sm = s.metrics.Session
		}
		s.reconciler = review.NewReconciler(s.store, sm)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	GetLogger().Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("debug", config.Debug))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(requestLogger(GetLogger(), func(c echo.Context) bool {
		return c.Path() == "/metrics" || c.Path() == "/health"
	}))
	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	if s.config.RateLimit > 0 {
		v1.Use(echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
			Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.config.RateLimit),
				Burst:     s.config.RateBurst,
				ExpiresIn: time.Minute,
			}),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return s.HandleError(c, nil, "too many requests", http.StatusTooManyRequests)
			},
		}))
	}

	sessions := v1.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.POST("/:id/resume", s.resumeSession)
	sessions.POST("/:id/cancel", s.cancelSession)
	sessions.GET("/:id/sections", s.getSections)
	sessions.GET("/:id/stats", s.getStats)
	sessions.POST("/:id/items/:item/accept", s.acceptItem)
	sessions.POST("/:id/items/:item/reject", s.rejectItem)

	if s.models != nil {
		models := v1.Group("/models")
		models.GET("", s.listModels)
		models.POST("/:version/download", s.downloadModel)
		models.GET("/:version/download", s.downloadProgress)
		models.DELETE("/:version/download", s.cancelDownload)
	}
}

// Start begins serving HTTP requests in a background goroutine.
func (s *Server) Start() {
	s.wg.Go(func() {
		if err := s.startBlocking(); err != nil {
			GetLogger().Error("server error", logger.Error(err))
		}
	})
}

func (s *Server) startBlocking() error {
	addr := s.config.Address()
	GetLogger().Info("starting HTTP server", logger.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled and then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.startBlocking() }()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
		GetLogger().Info("shutdown signal received")
		return s.Shutdown()
	}
}

// Shutdown cancels resumed pipelines and stops the server.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	for _, p := range s.running {
		p.Cancel()
	}
	s.mu.Unlock()

	if err := s.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()

	GetLogger().Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
