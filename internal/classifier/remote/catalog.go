package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// ErrGroupNotFound is returned when a taxonomy name is not in the catalog.
var ErrGroupNotFound = errors.NewStd("taxonomy group not found")

const (
	configCacheKey  = "prediction-config"
	defaultCacheTTL = time.Hour
)

// ConfigFetcher retrieves the prediction config from its source of truth.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context) (*PredictionConfig, error)
}

// CatalogCache serves the prediction config from memory, falling back to the
// service and then to the last copy written to disk.
type CatalogCache struct {
	fetcher   ConfigFetcher
	cache     *cache.Cache
	cacheFile string
	flight    singleflight.Group
	metrics   *metrics.ClassifierMetrics
}

// NewCatalogCache creates a catalog. fetcher may be nil for offline use, in
// which case only cacheFile is consulted. ttl <= 0 selects one hour.
func NewCatalogCache(fetcher ConfigFetcher, ttl time.Duration, cacheFile string, m *metrics.ClassifierMetrics) *CatalogCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CatalogCache{
		fetcher:   fetcher,
		cache:     cache.New(ttl, ttl*2),
		cacheFile: cacheFile,
		metrics:   m,
	}
}

// Config returns the current prediction config. Concurrent misses share one
// fetch.
func (c *CatalogCache) Config(ctx context.Context) (*PredictionConfig, error) {
	if cached, found := c.cache.Get(configCacheKey); found {
		if cfg, ok := cached.(*PredictionConfig); ok {
			c.metrics.RecordCatalogLookup("memory")
			return cfg, nil
		}
	}

	v, err, _ := c.flight.Do(configCacheKey, func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PredictionConfig), nil
}

func (c *CatalogCache) load(ctx context.Context) (*PredictionConfig, error) {
	var fetchErr error
	if c.fetcher != nil {
		cfg, err := c.fetcher.FetchConfig(ctx)
		if err == nil {
			normalize(cfg)
			c.cache.Set(configCacheKey, cfg, cache.DefaultExpiration)
			c.metrics.RecordCatalogLookup("remote")
			if err := c.writeFile(cfg); err != nil {
				GetLogger().Warn("failed to persist prediction config", logger.Error(err))
			}
			return cfg, nil
		}
		fetchErr = err
	}

	cfg, err := c.readFile()
	if err != nil {
		if fetchErr != nil {
			return nil, errors.Join(fetchErr, err)
		}
		return nil, err
	}
	normalize(cfg)
	// Disk copies are short lived in memory so the service is retried soon.
	c.cache.Set(configCacheKey, cfg, time.Minute)
	c.metrics.RecordCatalogLookup("disk")
	if fetchErr != nil {
		GetLogger().Warn("prediction service unavailable, using cached config",
			logger.String("file", c.cacheFile),
			logger.Error(fetchErr))
	}
	return cfg, nil
}

// Group returns the taxonomy named name.
func (c *CatalogCache) Group(ctx context.Context, name string) (*GroupConfig, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Groups {
		if strings.EqualFold(cfg.Groups[i].Name, name) {
			g := cfg.Groups[i]
			return &g, nil
		}
	}
	return nil, errors.New(fmt.Errorf("%w: %q", ErrGroupNotFound, name)).
		Component("classifier.remote").
		Category(errors.CategoryNotFound).
		Context("group", name).
		Build()
}

// Labels returns the model's classes ordered by output index.
func (c *CatalogCache) Labels(ctx context.Context) ([]classifier.Class, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	labels := slices.Clone(cfg.Classes)
	slices.SortFunc(labels, func(a, b classifier.Class) int { return a.Index - b.Index })
	return labels, nil
}

// Versions returns the downloadable model versions.
func (c *CatalogCache) Versions(ctx context.Context) ([]ModelVersion, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(cfg.Versions), nil
}

// Invalidate drops the in-memory copy.
func (c *CatalogCache) Invalidate() {
	c.cache.Flush()
}

func (c *CatalogCache) readFile() (*PredictionConfig, error) {
	if c.cacheFile == "" {
		return nil, errors.Newf("no prediction config available").
			Component("classifier.remote").
			Category(errors.CategoryConfiguration).
			Build()
	}
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier.remote").
			Category(errors.CategoryFileIO).
			Context("file", c.cacheFile).
			Build()
	}
	var cfg PredictionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, decodingError(err, "read-config-cache")
	}
	return &cfg, nil
}

// writeFile replaces the on-disk copy atomically.
func (c *CatalogCache) writeFile(cfg *PredictionConfig) error {
	if c.cacheFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cacheFile), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.cacheFile), ".config-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.cacheFile)
}

// normalize fills missing display names from the class identifier, e.g.
// "plastic_bottle" becomes "Plastic Bottle".
func normalize(cfg *PredictionConfig) {
	fill := func(classes []classifier.Class) {
		for i := range classes {
			if classes[i].ReadableName == "" {
				classes[i].ReadableName = DisplayName(classes[i].Name)
			}
		}
	}
	fill(cfg.Classes)
	for g := range cfg.Groups {
		for s := range cfg.Groups[g].Sections {
			fill(cfg.Groups[g].Sections[s].Classes)
		}
	}
}

// DisplayName turns a class identifier into a title-cased label.
func DisplayName(name string) string {
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	// A Caser is stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}
