package provider

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/rpc"
)

// classify maps a transport, decoding or node failure into the client error
// taxonomy. op names the provider operation for the error detail.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ce *rollup.ClientError
	if errors.As(err, &ce) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return rollup.NewError(rollup.KindOperationTimeout, op)
	case errors.As(err, &netErr) && netErr.Timeout():
		return rollup.NewError(rollup.KindOperationTimeout, op)
	case errors.Is(err, context.Canceled):
		return rollup.Errorf(rollup.KindOther, "%s: %v", op, err)
	}

	var decErr *rpc.DecodeError
	if errors.As(err, &decErr) {
		return rollup.NewError(rollup.KindMalformedResponse, decErr.Err.Error())
	}

	var nodeErr *rpc.NodeError
	if errors.As(err, &nodeErr) {
		return classifyNodeError(nodeErr)
	}

	// HTTP status errors, refused connections and closed sockets.
	return rollup.Errorf(rollup.KindNetworkError, "%s: %v", op, err)
}

// JSON-RPC 2.0 reserved codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
)

// classifyNodeError maps an error reported by the node itself. Nodes report
// domain failures as free-form messages, so the well-known ones are matched
// by content.
func classifyNodeError(e *rpc.NodeError) error {
	msg := strings.ToLower(e.Message)

	switch {
	case strings.Contains(msg, "network") && strings.Contains(msg, "not supported"):
		return rollup.NewError(rollup.KindNetworkNotSupported, e.Message)
	case strings.Contains(msg, "token") &&
		(strings.Contains(msg, "not supported") || strings.Contains(msg, "unknown") || strings.Contains(msg, "not found")):
		return rollup.NewError(rollup.KindUnknownToken, e.Message)
	case strings.Contains(msg, "address") &&
		(strings.Contains(msg, "incorrect") || strings.Contains(msg, "invalid")):
		return rollup.NewError(rollup.KindIncorrectAddress, e.Message)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return rollup.NewError(rollup.KindOperationTimeout, e.Message)
	case strings.Contains(msg, "not packable"):
		return rollup.NewError(rollup.KindNotPackableValue, e.Message)
	case strings.Contains(msg, "missing") && strings.Contains(msg, "field"):
		return rollup.NewError(rollup.KindMissingRequiredField, e.Message)
	}

	switch e.Code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return rollup.NewError(rollup.KindIncorrectInput, e.Message)
	}
	return rollup.NewError(rollup.KindOther, e.Message)
}
