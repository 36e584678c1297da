package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		cfg         *Config
		wantTimeout time.Duration
		wantAgent   string
	}{
		{"nil config", nil, DefaultTimeout, defaultUserAgent},
		{"zero config", &Config{}, DefaultTimeout, defaultUserAgent},
		{"model download", &Config{DefaultTimeout: 10 * time.Minute, UserAgent: "ecosort-models/1.0"}, 10 * time.Minute, "ecosort-models/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := New(tt.cfg)
			t.Cleanup(client.Close)
			assert.Equal(t, tt.wantTimeout, client.defaultTimeout)
			assert.Equal(t, tt.wantAgent, client.userAgent)
			assert.NotNil(t, client.HTTPClient())
		})
	}
}

func TestGetSendsAPIKeyAndAgent(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotContains(t, r.Header, "X-Empty", "empty defaults are not sent")
		_, _ = w.Write([]byte(`{"versions":[]}`))
	})

	client := newTestClientWithConfig(t, &Config{
		Headers: map[string]string{"X-API-Key": "secret", "Accept": "application/json", "X-Empty": ""},
	})
	resp, err := client.Get(t.Context(), server.URL+"/v1/predict/config")
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"versions":[]}`, string(body))
}

func TestDoKeepsRequestHeaders(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"), "request header wins over default")
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
	})

	client := newTestClientWithConfig(t, &Config{Headers: map[string]string{"Accept": "application/json"}})
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL+"/v2.0.tflite", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer token")

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	closeResponseBody(t, resp)
}

func TestPostMultipartBody(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "multipart/form-data; boundary=x", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "--x--", string(body))
		w.WriteHeader(http.StatusAccepted)
	})

	client := newTestClient(t)
	resp, err := client.Post(t.Context(), server.URL+"/v1/predict/batch", "multipart/form-data; boundary=x", strings.NewReader("--x--"))
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = client.Post(t.Context(), server.URL, "multipart/form-data; boundary=x", nil)
	require.NoError(t, err, "nil body is sent as an empty body")
	closeResponseBody(t, resp)
}

func TestDoTimeouts(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
	})

	t.Run("default timeout applies without deadline", func(t *testing.T) {
		t.Parallel()
		client := newTestClientWithConfig(t, &Config{DefaultTimeout: 30 * time.Millisecond})
		resp, err := client.Get(t.Context(), server.URL)
		closeResponseBody(t, resp)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller deadline overrides default", func(t *testing.T) {
		t.Parallel()
		client := newTestClientWithConfig(t, &Config{DefaultTimeout: 10 * time.Millisecond})
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		resp, err := client.Get(ctx, server.URL)
		require.NoError(t, err)
		closeResponseBody(t, resp)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		resp, err := client.Get(ctx, server.URL)
		closeResponseBody(t, resp)
		require.ErrorIs(t, err, context.Canceled)
	})
}

// A large model body stays readable after Do returns; the default deadline
// is released only when the body is closed.
func TestBodyOutlivesDo(t *testing.T) {
	t.Parallel()
	payload := strings.Repeat("m", 1<<16)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 5 * time.Second})
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, len(payload))
}

func TestObserverSeesEveryExchange(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	type seen struct {
		path   string
		status int
		err    error
	}
	var mu sync.Mutex
	var got []seen
	client := newTestClientWithConfig(t, &Config{
		Observer: func(req *http.Request, resp *http.Response, err error) {
			s := seen{path: req.URL.Path, err: err}
			if resp != nil {
				s.status = resp.StatusCode
			}
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		},
	})

	resp, err := client.Get(t.Context(), server.URL+"/v1/predict/config")
	require.NoError(t, err)
	closeResponseBody(t, resp)
	resp, err = client.Get(t.Context(), server.URL+"/missing")
	require.NoError(t, err)
	closeResponseBody(t, resp)
	_, err = client.Get(t.Context(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, seen{path: "/v1/predict/config", status: http.StatusOK}, got[0])
	assert.Equal(t, http.StatusNotFound, got[1].status)
	assert.Error(t, got[2].err)
	assert.Zero(t, got[2].status)
}

func TestDoRejectsNilRequest(t *testing.T) {
	t.Parallel()
	client := newTestClient(t)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
	client.Close()
}
