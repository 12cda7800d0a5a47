// Package provider implements rollup.Provider over a JSON-RPC node and as
// an in-memory local node.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/rpc"
)

// Kinds accepted by Open.
const (
	KindLocal = "local"
	KindHTTP  = "http"
	KindWS    = "ws"
)

// Provider is a rollup.Provider holding resources that must be released.
type Provider interface {
	rollup.Provider
	io.Closer
}

// Config selects and configures a provider.
type Config struct {
	Kind    string
	URL     string
	Timeout time.Duration
	Network rollup.Network
	Logger  *slog.Logger
}

// Open constructs the provider named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := rpc.DefaultClientConfig(cfg.URL)
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	clientCfg.Logger = logger

	switch cfg.Kind {
	case KindLocal, "":
		return NewLocal(LocalConfig{Network: cfg.Network, Logger: logger}), nil
	case KindHTTP:
		return NewRPC(rpc.NewHTTPClient(clientCfg), cfg.Network, logger), nil
	case KindWS:
		client, err := rpc.DialWS(ctx, clientCfg)
		if err != nil {
			return nil, classify("dial", err)
		}
		return NewRPC(client, cfg.Network, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
