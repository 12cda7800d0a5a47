package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// echoNode answers each request with its method name and params, or with a
// node error for method "fail".
func echoNode(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(echo(req))
}

func echo(req Request) Response {
	resp := Response{JSONRPC: version, ID: req.ID}
	if req.Method == "fail" {
		resp.Error = &ErrorObject{Code: -32000, Message: "boom", Data: json.RawMessage(`{"why":"test"}`)}
		return resp
	}
	resp.Result, _ = json.Marshal(map[string]any{"method": req.Method, "params": req.Params})
	return resp
}

func fastRetries(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func TestHTTPClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoNode))
	defer srv.Close()

	c := NewHTTPClient(DefaultClientConfig(srv.URL))
	defer c.Close()

	got, err := c.Call(context.Background(), "tokens")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `{"method":"tokens","params":[]}` {
		t.Errorf("result = %s", got)
	}

	got, err = c.Call(context.Background(), "tx_info", "0xaa", 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `{"method":"tx_info","params":["0xaa",3]}` {
		t.Errorf("result = %s", got)
	}
}

func TestHTTPClientNodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoNode))
	defer srv.Close()

	c := NewHTTPClient(DefaultClientConfig(srv.URL))
	_, err := c.Call(context.Background(), "fail")

	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected NodeError, got %v", err)
	}
	if nodeErr.Code != -32000 || nodeErr.Message != "boom" || string(nodeErr.Data) != `{"why":"test"}` {
		t.Errorf("unexpected node error %+v", nodeErr)
	}
	if err.Error() != "node error -32000: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestHTTPClientRequestIDsIncrease(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []uint64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(echo(req))
	}))
	defer srv.Close()

	c := NewHTTPClient(DefaultClientConfig(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := c.Call(context.Background(), "ping"); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 || ids[0] >= ids[1] || ids[1] >= ids[2] {
		t.Errorf("ids = %v", ids)
	}
}

func TestHTTPClientRetriesBackPressure(t *testing.T) {
	for _, status := range []int{429, 502, 503, 504} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= 2 {
					w.WriteHeader(status)
					return
				}
				echoNode(w, r)
			}))
			defer srv.Close()

			c := NewHTTPClient(fastRetries(srv.URL))
			if _, err := c.Call(context.Background(), "ping"); err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got := calls.Load(); got != 3 {
				t.Errorf("node saw %d requests, want 3", got)
			}
		})
	}
}

func TestHTTPClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := fastRetries(srv.URL)
	cfg.MaxRetries = 2
	c := NewHTTPClient(cfg)

	_, err := c.Call(context.Background(), "ping")
	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
	if status.Body != "slow down" {
		t.Errorf("body = %q", status.Body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("node saw %d requests, want 3", got)
	}
}

func TestHTTPClientDoesNotRetryServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(fastRetries(srv.URL))
	_, err := c.Call(context.Background(), "ping")

	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != 500 || status.Temporary() {
		t.Errorf("expected permanent HTTP 500, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("node saw %d requests, want 1", calls.Load())
	}
}

func TestHTTPClientStopsRetryingOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(DefaultClientConfig(srv.URL))
	start := time.Now()
	_, err := c.Call(ctx, "ping")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry wait ignored the context")
	}
}

func TestHTTPClientDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(DefaultClientConfig(srv.URL))
	_, err := c.Call(context.Background(), "ping")

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Errorf("expected DecodeError, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		err       StatusError
		want      string
		temporary bool
	}{
		{StatusError{StatusCode: 429, Body: "rate limited"}, "HTTP 429 Too Many Requests: rate limited", true},
		{StatusError{StatusCode: 502}, "HTTP 502 Bad Gateway", true},
		{StatusError{StatusCode: 503}, "HTTP 503 Service Unavailable", true},
		{StatusError{StatusCode: 504}, "HTTP 504 Gateway Timeout", true},
		{StatusError{StatusCode: 400, Body: "invalid request"}, "HTTP 400 Bad Request: invalid request", false},
		{StatusError{StatusCode: 500}, "HTTP 500 Internal Server Error", false},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if got := tt.err.Temporary(); got != tt.temporary {
			t.Errorf("%d: Temporary() = %v, want %v", tt.err.StatusCode, got, tt.temporary)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{"Wed, 01 May 2024 12:00:03 GMT", 3 * time.Second},
		{"Wed, 01 May 2024 11:59:00 GMT", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.header, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig("http://localhost:3030")
	if cfg.URL != "http://localhost:3030" || cfg.Timeout != 5*time.Second || cfg.MaxRetries != 3 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
