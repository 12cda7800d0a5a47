// Command rollupsim generates throttled deposit and transfer load against a
// rollup node and reports how the node handled it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/rollupsim/internal/config"
	"github.com/gateway-fm/rollupsim/internal/report"
	"github.com/gateway-fm/rollupsim/internal/sim"
	"github.com/gateway-fm/rollupsim/internal/storage"
	"github.com/gateway-fm/rollupsim/internal/transport"
)

var (
	configPath   string
	verbose      bool
	noColor      bool
	seedFlag     uint64
	providerFlag string
	rpcFlag      string
	labelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "rollupsim",
	Short: "Load generator for rollup networks",
	Long: `rollupsim synthesizes deposits and transfers within configured value
ranges, throttles their submission to a target rate and sends them to a
rollup node, either a remote JSON-RPC endpoint or an in-memory local node.

Every submission is recorded as accepted or rejected with its error kind.
The summary is printed when the run ends, and runs can be kept in a local
history database.

Example:
  rollupsim -c config.toml
  rollupsim --provider http --rpc http://localhost:3030 --seed 42
  rollupsim history`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSimulation,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")

	rootCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "RNG seed, overriding general.seed (0 derives one from the clock)")
	rootCmd.Flags().StringVar(&providerFlag, "provider", "", "Provider kind, overriding provider.kind (local, http, ws)")
	rootCmd.Flags().StringVar(&rpcFlag, "rpc", "", "Node URL, overriding provider.url")
	rootCmd.Flags().StringVar(&labelFlag, "label", "", "Label stored with the run")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads the configuration file and applies command-line
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.General.Seed = seedFlag
	}
	if flags.Changed("provider") {
		cfg.Provider.Kind = providerFlag
	}
	if flags.Changed("rpc") {
		cfg.Provider.URL = rpcFlag
		// An explicit URL implies a remote node.
		if !flags.Changed("provider") && cfg.Provider.Kind == config.ProviderLocal {
			cfg.Provider.Kind = config.ProviderHTTP
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := sim.Options{Config: cfg, Logger: logger, Label: labelFlag}

	var store *storage.SQLiteStorage
	if cfg.Storage.Path != "" {
		store, err = storage.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer store.Close()
		opts.History = store
		opts.Cache = store
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Listen != "" {
		registry = prometheus.NewRegistry()
		opts.Registerer = registry
	}

	s, err := sim.New(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Metrics.Listen != "" {
		serverCfg := transport.ServerConfig{
			Engine:    s.Engine(),
			Network:   cfg.Provider.Network,
			TargetTPS: cfg.General.TPS,
			Health:    s,
			Gatherer:  registry,
			Logger:    logger,
		}
		if store != nil {
			serverCfg.History = store
		}
		srv := transport.NewServer(serverCfg)

		srvCtx, cancelSrv := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.ListenAndServe(srvCtx, cfg.Metrics.Listen); err != nil {
				logger.Error("HTTP server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			cancelSrv()
			<-done
		}()
	}

	rep, run, runErr := s.Run(ctx)
	if rep == nil {
		return runErr
	}

	printer := &report.Printer{Out: os.Stdout, NoColor: noColor}
	if cfg.General.GenerateReports {
		printer.Outcomes(storage.OutcomeRecords(rep))
	}
	printer.Summary(rep)
	if run != nil {
		fmt.Fprintf(os.Stdout, "  run id: %s\n", run.ID)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("interrupted")
		}
		return runErr
	}
	return nil
}
