// Package mcp exposes rollupsim over the Model Context Protocol: status and
// history tools backed by the rollupsim HTTP API, and an in-process dry run
// against the local node.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the rollupsim API.
type APIError struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls the rollupsim HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API served at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/status", nil)
}

// Ready returns the readiness report. A failing check is an *APIError
// with status 503 whose Body is still the report.
func (c *Client) Ready(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/ready", nil)
}

func (c *Client) History(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/history"+page(limit, offset), nil)
}

func (c *Client) Run(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, runPath(id), nil)
}

func (c *Client) Outcomes(ctx context.Context, id string, limit, offset int) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, runPath(id)+"/outcomes"+page(limit, offset), nil)
}

// UpdateRun patches label and favorite; nil fields are left unchanged.
func (c *Client) UpdateRun(ctx context.Context, id string, label *string, favorite *bool) (json.RawMessage, error) {
	body := struct {
		Label    *string `json:"label,omitempty"`
		Favorite *bool   `json:"favorite,omitempty"`
	}{label, favorite}
	return c.do(ctx, http.MethodPatch, runPath(id), body)
}

func (c *Client) DeleteRun(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, runPath(id), nil)
	return err
}

func runPath(id string) string {
	return "/v1/history/" + url.PathEscape(id)
}

func page(limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// newAPIError prefers the {"error": "..."} message the API writes.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: http.StatusText(status)}
	if !json.Valid(body) {
		if text := strings.TrimSpace(string(body)); text != "" {
			e.Message = text
		}
		return e
	}

	e.Body = body
	var msg struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Error != "" {
		e.Message = msg.Error
	}
	return e
}
