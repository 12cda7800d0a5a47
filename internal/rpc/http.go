package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// ClientConfig configures HTTP and WebSocket clients.
type ClientConfig struct {
	URL     string
	Timeout time.Duration

	// Back-pressure retries. Failed submissions are retried by the engine,
	// not here.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns the configuration used for url unless the
// caller overrides it.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c ClientConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// HTTPClient posts one request per call.
type HTTPClient struct {
	cfg    ClientConfig
	http   *http.Client
	nextID atomic.Uint64
	logger *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for cfg.URL with a pooled transport sized
// for many concurrent submissions.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 128,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: cfg.logger(),
	}
}

func (c *HTTPClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(newRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	data, err := c.postWithRetry(ctx, method, body)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return resp.result()
}

// Close drops idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// postWithRetry sends body, waiting out back-pressure answers. Everything
// else, including 500, is returned on the first attempt.
func (c *HTTPClient) postWithRetry(ctx context.Context, method string, body []byte) ([]byte, error) {
	backoff := c.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		data, err := c.post(ctx, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var status *StatusError
		if !errors.As(err, &status) || !status.Temporary() {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("%s: gave up after %d attempts: %w", method, attempt+1, err)
		}

		wait := backoff
		if status.RetryAfter > 0 {
			wait = status.RetryAfter
		}
		c.logger.Debug("node applied back-pressure",
			slog.String("method", method),
			slog.Int("status", status.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       string(bytes.TrimSpace(snippet)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// parseRetryAfter accepts both forms of the header: delay seconds and an
// HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
