package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/transport"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history API without running a simulation",
	Long: `Serve the HTTP API (history, status, health, metrics) over the history
database until interrupted. The MCP server reads run history from here.

The listen address defaults to metrics.listen, then :13001.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address, overriding metrics.listen")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "History database path, overriding storage.path")
}

// idleEngine reports an engine that never runs.
type idleEngine struct {
	metrics *metrics.MemoryCollector
}

func (e idleEngine) State() engine.State        { return engine.StateIdle }
func (e idleEngine) Metrics() metrics.Collector { return e.metrics }

func runServe(cmd *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	addr := serveListen
	if addr == "" {
		if cfg, err := loadConfig(cmd); err == nil {
			addr = cfg.Metrics.Listen
		}
	}
	if addr == "" {
		addr = ":13001"
	}

	srv := transport.NewServer(transport.ServerConfig{
		Engine:  idleEngine{metrics: metrics.NewMemoryCollector(nil)},
		History: store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, addr)
}
