package modelstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/httpclient"
	"github.com/tphakala/ecosort/internal/jobqueue"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// Request names one model file to fetch.
type Request struct {
	Version string
	URL     string
	Size    int64 // expected byte count, 0 when unknown
}

// Progress is a snapshot of a running download.
type Progress struct {
	Version string
	Written int64
	Total   int64
}

// Downloader fetches model files through a job queue so that at most one
// download runs at a time and repeated requests for a version are merged.
type Downloader struct {
	store   *Store
	client  *httpclient.Client
	token   string
	queue   *jobqueue.JobQueue
	metrics *metrics.MediaMetrics

	mu       sync.Mutex
	progress map[string]*progressCounter
}

type progressCounter struct {
	written atomic.Int64
	total   atomic.Int64
}

// NewDownloader creates a downloader writing into store. token is sent as a
// Bearer credential when set. The queue must be started by the caller.
func NewDownloader(store *Store, client *httpclient.Client, token string, queue *jobqueue.JobQueue, m *metrics.MediaMetrics) *Downloader {
	return &Downloader{
		store:    store,
		client:   client,
		token:    token,
		queue:    queue,
		metrics:  m,
		progress: make(map[string]*progressCounter),
	}
}

// Download queues req. When the version is already being fetched the
// existing job is returned.
func (d *Downloader) Download(req Request) (*jobqueue.Job, error) {
	if err := ValidateVersion(req.Version); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, errors.Newf("model version %s has no download URL", req.Version).
			Component("modelstore").
			Category(errors.CategoryValidation).
			Build()
	}

	action := jobqueue.ActionFunc{
		Description: "download model v" + req.Version,
		Fn:          func(ctx context.Context) error { return d.fetch(ctx, req) },
	}
	job, err := d.queue.Enqueue(req.Version, action, jobqueue.GetDefaultRetryConfig(false))
	if errors.Is(err, jobqueue.ErrDuplicateKey) {
		GetLogger().Debug("download already queued", logger.String("version", req.Version))
		return job, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("modelstore").
			Category(errors.CategoryJobQueue).
			Context("version", req.Version).
			Build()
	}
	return job, nil
}

// Cancel aborts the download of version, whether running or queued.
func (d *Downloader) Cancel(version string) error {
	return d.queue.Cancel(version)
}

// Job returns the queued or running download of version.
func (d *Downloader) Job(version string) (*jobqueue.Job, bool) {
	return d.queue.Get(version)
}

// Progress reports the running download of version.
func (d *Downloader) Progress(version string) (Progress, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.progress[version]
	if !ok {
		return Progress{}, false
	}
	return Progress{Version: version, Written: p.written.Load(), Total: p.total.Load()}, true
}

func (d *Downloader) fetch(ctx context.Context, req Request) (err error) {
	if d.store.Installed(req.Version) {
		GetLogger().Info("model already installed", logger.String("version", req.Version))
		return nil
	}

	start := time.Now()
	counter := &progressCounter{}
	counter.total.Store(req.Size)
	d.mu.Lock()
	d.progress[req.Version] = counter
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.progress, req.Version)
		d.mu.Unlock()
		if ctx.Err() == nil {
			d.metrics.RecordModelDownload(err)
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return downloadError(err, req, "create-request")
	}
	httpReq.Header.Set("Accept", "application/octet-stream")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(ctx, httpReq)
	if err != nil {
		return downloadError(err, req, "request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("model download failed with status %d", resp.StatusCode).
			Component("modelstore").
			Category(errors.CategoryHTTP).
			Context("version", req.Version).
			Context("status_code", resp.StatusCode).
			Build()
	}
	if counter.total.Load() == 0 && resp.ContentLength > 0 {
		counter.total.Store(resp.ContentLength)
	}

	if err := d.writeAtomic(req.Version, resp.Body, counter); err != nil {
		return downloadError(err, req, "write")
	}

	GetLogger().Info("model downloaded",
		logger.String("version", req.Version),
		logger.Int64("bytes", counter.written.Load()),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// writeAtomic streams body into a temporary file next to the destination and
// renames it into place once complete.
func (d *Downloader) writeAtomic(version string, body io.Reader, counter *progressCounter) error {
	if err := os.MkdirAll(d.store.Dir(), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.store.Dir(), "."+filePrefix+version+"-*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, &countingReader{r: body, n: &counter.written})
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if total := counter.total.Load(); total > 0 && n != total {
		_ = tmp.Close()
		return fmt.Errorf("size mismatch: got %d bytes, expected %d", n, total)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Clean(d.store.Path(version)))
}

func downloadError(err error, req Request, operation string) error {
	category := errors.CategoryNetwork
	if operation == "write" {
		category = errors.CategoryFileIO
	}
	if errors.Is(err, context.Canceled) {
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("modelstore").
		Category(category).
		Context("operation", operation).
		Context("version", req.Version).
		Build()
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
