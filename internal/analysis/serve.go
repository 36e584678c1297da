package analysis

import (
	"context"

	"github.com/tphakala/ecosort/internal/api"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/session"
)

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, svc *Services) error {
	server, err := NewServer(ctx, svc)
	if err != nil {
		return err
	}
	GetLogger().Info("serving API", logger.String("port", svc.Settings.WebServer.Port))
	return server.Run(ctx)
}

// NewServer builds the HTTP API on svc.
func NewServer(ctx context.Context, svc *Services) (*api.Server, error) {
	factory := func() *session.Pipeline {
		// Mode-less pipelines never fail to build.
		p, _ := svc.Pipeline(ctx, "")
		return p
	}
	return api.New(svc.Settings,
		api.WithDataStore(svc.Store),
		api.WithReconciler(svc.Reconciler),
		api.WithMetrics(svc.Metrics),
		api.WithPipelines(factory),
		api.WithModels(svc.Models, svc.Downloader, svc.Catalog),
	)
}
