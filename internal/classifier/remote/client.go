// Package remote talks to the cloud prediction service: it fetches the label
// catalog, uploads batches and follows job progress over a websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/gorilla/websocket"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/httpclient"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

const (
	configPath    = "/v1/predict/config"
	batchPath     = "/v1/predict/batch"
	websocketPath = "/v1/predict/websocket"

	apiKeyHeader = "X-API-Key"

	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

// Client is the prediction service client. It implements classifier.BatchEngine.
type Client struct {
	http    *httpclient.Client
	baseURL string
	wsURL   string
	apiKey  string
	dialer  *websocket.Dialer
	metrics *metrics.ClassifierMetrics
}

var _ classifier.BatchEngine = (*Client)(nil)

// NewClient builds a client from the remote settings. m may be nil.
func NewClient(settings *conf.RemoteSettings, m *metrics.ClassifierMetrics) (*Client, error) {
	if settings == nil || settings.BaseURL == "" {
		return nil, errors.Newf("prediction service base URL is not configured").
			Component("classifier.remote").
			Category(errors.CategoryConfiguration).
			Build()
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		wsURL:   strings.TrimRight(settings.WebSocketBaseURL(), "/"),
		apiKey:  settings.APIKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		metrics: m,
	}
	c.http = httpclient.New(&httpclient.Config{
		DefaultTimeout: timeout,
		Headers:        map[string]string{apiKeyHeader: settings.APIKey},
		Observer:       c.observe,
	})
	return c, nil
}

// observe counts REST exchanges by operation and HTTP outcome.
func (c *Client) observe(req *http.Request, resp *http.Response, err error) {
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	c.metrics.RecordRemoteRequest(operationFor(req.URL.Path), err)
}

func operationFor(path string) string {
	switch {
	case strings.HasSuffix(path, configPath):
		return "config"
	case strings.HasSuffix(path, batchPath):
		return "batch"
	default:
		return "other"
	}
}

// HTTPClient exposes the underlying client so tests can attach transports.
func (c *Client) HTTPClient() *http.Client {
	return c.http.HTTPClient()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// FetchConfig downloads the model versions, label catalog and taxonomies.
func (c *Client) FetchConfig(ctx context.Context) (*PredictionConfig, error) {
	endpoint := c.baseURL + configPath
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, networkError(err, "fetch-config", endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp, "fetch-config", endpoint, nil)
		return nil, err
	}

	var cfg PredictionConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		err = decodingError(err, "fetch-config")
		return nil, err
	}

	GetLogger().Debug("prediction config fetched",
		logger.Int("versions", len(cfg.Versions)),
		logger.Int("classes", len(cfg.Classes)),
		logger.Int("groups", len(cfg.Groups)))
	return &cfg, nil
}

// SubmitBatch uploads all items as one multipart request. Each item becomes a
// "files" part named <item>.jpg. It returns once the server has assigned a job.
func (c *Client) SubmitBatch(ctx context.Context, items map[string][]byte) (classifier.JobHandle, error) {
	if len(items) == 0 {
		return classifier.JobHandle{}, errors.New(fmt.Errorf("%w: empty batch", classifier.ErrUploadFailed)).
			Component("classifier.remote").
			Category(errors.CategoryValidation).
			Build()
	}

	body, contentType, err := encodeBatch(items)
	if err != nil {
		return classifier.JobHandle{}, errors.New(fmt.Errorf("%w: %w", classifier.ErrUploadFailed, err)).
			Component("classifier.remote").
			Category(errors.CategoryProcessing).
			Context("operation", "encode-batch").
			Build()
	}

	endpoint := c.baseURL + batchPath
	start := time.Now()
	resp, err := c.http.Post(ctx, endpoint, contentType, body)
	if err != nil {
		return classifier.JobHandle{}, networkError(fmt.Errorf("%w: %w", classifier.ErrUploadFailed, err), "submit-batch", endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusError(resp, "submit-batch", endpoint, classifier.ErrUploadFailed)
		return classifier.JobHandle{}, err
	}

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		err = decodingError(err, "submit-batch")
		return classifier.JobHandle{}, err
	}
	if br.JobID == "" {
		err := decodingError(fmt.Errorf("response has no job id"), "submit-batch")
		return classifier.JobHandle{}, err
	}

	GetLogger().Info("batch submitted",
		logger.String("job_id", br.JobID),
		logger.Int("items", len(items)),
		logger.Duration("elapsed", time.Since(start)))
	return classifier.JobHandle{ID: br.JobID, Message: br.Message}, nil
}

// Subscribe opens the progress channel of jobID. The subscription ends when
// ctx is canceled, the server closes the channel or Close is called.
func (c *Client) Subscribe(ctx context.Context, jobID string) (classifier.Subscription, error) {
	endpoint := c.wsURL + websocketPath + "?jobID=" + url.QueryEscape(jobID)

	header := http.Header{}
	if c.apiKey != "" {
		header.Set(apiKeyHeader, c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.metrics.RecordRemoteRequest("subscribe", err)
		return nil, errors.New(fmt.Errorf("%w: %w", classifier.ErrDisconnected, err)).
			Component("classifier.remote").
			Category(errors.CategoryNetwork).
			Context("operation", "subscribe").
			Context("job_id", jobID).
			Build()
	}
	c.metrics.RecordRemoteRequest("subscribe", nil)

	GetLogger().Debug("progress channel opened", logger.String("job_id", jobID))
	return newSubscription(ctx, conn, jobID, c.metrics), nil
}

// encodeBatch writes items in name order so uploads are reproducible.
func encodeBatch(items map[string][]byte) (*bytes.Buffer, string, error) {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	slices.Sort(names)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, name := range names {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name+uploadExtension))
		h.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(items[name]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func networkError(err error, operation, endpoint string) error {
	return errors.New(err).
		Component("classifier.remote").
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Context("url", endpoint).
		Build()
}

func decodingError(err error, operation string) error {
	return errors.New(fmt.Errorf("%w: %w", classifier.ErrDecoding, err)).
		Component("classifier.remote").
		Category(errors.CategoryDecoding).
		Context("operation", operation).
		Build()
}

// statusError builds an error for a non-2xx response. The server message is
// taken from a JSON "message" or "detail" field when present.
func statusError(resp *http.Response, operation, endpoint string, sentinel error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := serverMessage(raw)

	err := fmt.Errorf("unexpected status %d", resp.StatusCode)
	if msg != "" {
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return errors.New(err).
		Component("classifier.remote").
		Category(errors.CategoryHTTP).
		Context("operation", operation).
		Context("url", endpoint).
		Context("status_code", resp.StatusCode).
		Build()
}

func serverMessage(raw []byte) string {
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		text := strings.TrimSpace(string(raw))
		if len(text) > 256 {
			text = text[:256]
		}
		return text
	}
	for _, key := range []string{"message", "detail", "error"} {
		if s, err := obj.GetString(key); err == nil && s != "" {
			return s
		}
	}
	return ""
}
