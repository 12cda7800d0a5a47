// Package sim assembles a complete simulation from a configuration: the
// provider, account registry, transaction factory, throttler, metrics and
// engine, plus optional run history and nonce cache persistence.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/rollupsim/internal/account"
	"github.com/gateway-fm/rollupsim/internal/config"
	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/provider"
	"github.com/gateway-fm/rollupsim/internal/ratelimit"
	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/storage"
	"github.com/gateway-fm/rollupsim/internal/txgen"
)

// Options configures New. Config is required.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Provider overrides the one described by Config.Provider. The
	// simulation does not close an injected provider.
	Provider provider.Provider

	// History records the run and its outcomes when set.
	History storage.Storage
	// Cache restores nonces before and saves them after runs against a
	// remote node.
	Cache storage.CacheStorage

	// Registerer receives the Prometheus metrics; nil keeps metrics in
	// memory only.
	Registerer prometheus.Registerer

	// Label is attached to the stored run.
	Label string
}

// AccountSeed derives the key seed of the simulated accounts. Accounts are
// stable per network so cached nonces stay valid across runs.
func AccountSeed(network rollup.Network) []byte {
	return []byte("rollupsim/accounts/" + string(network))
}

// Simulation is a wired, single-use run.
type Simulation struct {
	cfg          *config.Config
	logger       *slog.Logger
	provider     provider.Provider
	ownsProvider bool
	registry     *account.Registry
	rng          *account.Rand
	collector    *metrics.MemoryCollector
	engine       *engine.Engine
	history      storage.Storage
	cache        storage.CacheStorage
	label        string
}

// New builds a simulation. The returned Simulation must be closed.
func New(ctx context.Context, opts Options) (*Simulation, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("sim: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	network := rollup.Network(cfg.Provider.Network)

	s := &Simulation{
		cfg:      cfg,
		logger:   logger,
		provider: opts.Provider,
		history:  opts.History,
		cache:    opts.Cache,
		label:    opts.Label,
	}

	if s.provider == nil {
		p, err := provider.Open(ctx, provider.Config{
			Kind:    cfg.Provider.Kind,
			URL:     cfg.Provider.URL,
			Timeout: cfg.Provider.Timeout,
			Network: network,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open provider: %w", err)
		}
		s.provider = p
		s.ownsProvider = true
	}

	registry, err := account.NewRegistry(cfg.General.AccountCount, AccountSeed(network), logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create accounts: %w", err)
	}
	s.registry = registry
	s.rng = account.NewRand(cfg.General.Seed)

	token := rollup.TokenSymbol(cfg.Transaction.Token)
	factory, err := txgen.New(txgen.Config{
		Deposit:       txgen.Bounds{Min: cfg.Transaction.MinDepositValue, Max: cfg.Transaction.MaxDepositValue},
		Transfer:      txgen.Bounds{Min: cfg.Transaction.MinTransferValue, Max: cfg.Transaction.MaxTransferValue},
		Token:         token,
		TransferRatio: cfg.Transaction.TransferRatio,
	}, registry, s.rng)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create factory: %w", err)
	}

	throttler, err := ratelimit.NewThrottler(cfg.General.TPS, cfg.General.EnableThrottling)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create throttler: %w", err)
	}

	var prom *metrics.Prometheus
	if opts.Registerer != nil {
		prom = metrics.NewPrometheus(opts.Registerer)
	}
	s.collector = metrics.NewMemoryCollector(prom)

	s.engine, err = engine.New(engine.Config{
		Provider:     s.provider,
		Networks:     rollup.DefaultNetworks(),
		Factory:      factory,
		Registry:     registry,
		Throttler:    throttler,
		Rand:         s.rng,
		Metrics:      s.collector,
		Logger:       logger,
		Token:        token,
		TargetTPS:    cfg.General.TPS,
		Ticks:        cfg.General.Ticks,
		Workers:      cfg.Workers(),
		MaxRetries:   int(cfg.Engine.MaxRetries),
		RetryBackoff: cfg.Engine.RetryBackoff,
		BatchSize:    int(cfg.Engine.BatchSize),
		QueryFees:    cfg.Transaction.QueryFees,
		SyncAccounts: cfg.Engine.SyncAccounts,
		Confirm:      cfg.Engine.Confirm,
		PollInterval: cfg.Engine.PollInterval,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return s, nil
}

// Engine returns the underlying engine, for status reporting.
func (s *Simulation) Engine() *engine.Engine {
	return s.engine
}

// Seed returns the seed the run draws from.
func (s *Simulation) Seed() uint64 {
	return s.rng.Seed()
}

// CheckProvider reports whether the rollup node answers a token list query.
func (s *Simulation) CheckProvider(ctx context.Context) error {
	_, err := s.provider.Tokens(ctx)
	return err
}

// remote reports whether nonces live on a node that outlives the process.
func (s *Simulation) remote() bool {
	return s.cfg.Provider.Kind != config.ProviderLocal && s.cfg.Provider.Kind != ""
}

// Run executes the simulation. The report is non-nil whenever the engine
// ran; run is the stored history record, or nil without History. Storage
// failures are logged and never fail the simulation. The error is non-nil
// exactly when the run aborted.
func (s *Simulation) Run(ctx context.Context) (*engine.Report, *storage.Run, error) {
	network := s.provider.Network()

	if s.cache != nil && s.remote() {
		restored, err := storage.RestoreNonces(ctx, s.cache, network, s.registry)
		if err != nil {
			s.logger.Warn("failed to restore cached nonces", slog.String("error", err.Error()))
		} else if restored > 0 {
			s.logger.Info("restored cached nonces", slog.Int("accounts", restored))
		}
	}

	run := s.startRun(ctx, network)

	report, runErr := s.engine.Run(ctx)
	if report == nil {
		return nil, run, runErr
	}

	// Persist with a context that survives cancellation of the run.
	saveCtx := context.WithoutCancel(ctx)

	if s.cache != nil && s.remote() {
		if err := storage.SaveNonces(saveCtx, s.cache, network, report.Accounts); err != nil {
			s.logger.Warn("failed to save nonces", slog.String("error", err.Error()))
		}
	}

	if run != nil {
		s.finishRun(saveCtx, run, report)
	}

	return report, run, runErr
}

func (s *Simulation) startRun(ctx context.Context, network rollup.Network) *storage.Run {
	if s.history == nil {
		return nil
	}

	run, err := storage.NewRun(storage.RunMeta{
		Network:      network,
		Provider:     s.cfg.Provider.Kind,
		Seed:         s.rng.Seed(),
		TargetTPS:    s.cfg.General.TPS,
		Ticks:        s.cfg.General.Ticks,
		AccountCount: s.cfg.General.AccountCount,
		Token:        s.cfg.Transaction.Token,
		Label:        s.label,
		Config:       s.cfg,
	})
	if err != nil {
		s.logger.Warn("failed to prepare run record", slog.String("error", err.Error()))
		return nil
	}
	if err := s.history.CreateRun(ctx, run); err != nil {
		s.logger.Warn("failed to store run", slog.String("error", err.Error()))
		return nil
	}
	return run
}

func (s *Simulation) finishRun(ctx context.Context, run *storage.Run, report *engine.Report) {
	storage.CompleteFromReport(run, report)
	if err := s.history.CompleteRun(ctx, run); err != nil {
		s.logger.Warn("failed to complete run record",
			slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
	if err := s.history.BulkInsertOutcomes(ctx, run.ID, storage.OutcomeRecords(report)); err != nil {
		s.logger.Warn("failed to store outcomes",
			slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
	s.logger.Info("run stored", slog.String("run_id", run.ID), slog.String("status", run.Status))
}

// Close releases the provider when the simulation opened it.
func (s *Simulation) Close() error {
	if s.ownsProvider && s.provider != nil {
		return s.provider.Close()
	}
	return nil
}
