// rollupsim MCP server.
// Exposes simulation and run history tools over MCP stdio transport.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/rollupsim/internal/config"
	mcptools "github.com/gateway-fm/rollupsim/internal/mcp"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	apiURL := os.Getenv("ROLLUPSIM_URL")
	if apiURL == "" {
		apiURL = "http://localhost:13001"
	}

	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	base := config.Default()
	if path := os.Getenv("ROLLUPSIM_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		base = cfg
	}

	var history storage.Storage
	if path := os.Getenv("ROLLUPSIM_DB"); path != "" {
		store, err := storage.NewSQLiteStorage(path)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close()
		history = store
	}

	s := server.NewMCPServer(
		"rollupsim",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(apiURL)
	runner := mcptools.NewRunner(base, history, logger)
	mcptools.RegisterTools(s, client, runner)

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
