// Package rpc carries JSON-RPC 2.0 calls to a rollup node over HTTP or a
// WebSocket connection.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client sends JSON-RPC calls to a node.
type Client interface {
	// Call invokes method with positional params and returns the raw result.
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	Close() error
}

const version = "2.0"

// Request is a JSON-RPC request object.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func newRequest(id uint64, method string, params []any) Request {
	if params == nil {
		// nodes reject a null params member
		params = []any{}
	}
	return Request{JSONRPC: version, ID: id, Method: method, Params: params}
}

// Response is a JSON-RPC response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// result unwraps r into its result or a *NodeError.
func (r *Response) result() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, &NodeError{Code: r.Error.Code, Message: r.Error.Message, Data: r.Error.Data}
	}
	return r.Result, nil
}

// NodeError is an error the node reported in a response.
type NodeError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node error %d: %s", e.Code, e.Message)
}

// DecodeError reports a response body that is not valid JSON-RPC.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusError is a non-200 HTTP answer to a call.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether the node signalled back-pressure rather than a
// failure: 429 and the gateway statuses 502, 503 and 504.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
