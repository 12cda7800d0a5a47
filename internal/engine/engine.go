// Package engine drives a simulation run: it generates transactions, gates
// them through the throttler, submits them concurrently to a provider and
// records every outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/gateway-fm/rollupsim/internal/account"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/ratelimit"
	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/txgen"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("engine already started")

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

var stateNames = [...]string{"idle", "running", "completed", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

const (
	defaultConfirmTimeout = 10 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
)

// Config wires an Engine. Provider, Factory, Registry, Throttler and Rand
// are required.
type Config struct {
	Provider  rollup.Provider
	Networks  *rollup.NetworkRegistry
	Factory   *txgen.Factory
	Registry  *account.Registry
	Throttler ratelimit.Throttler
	Rand      *account.Rand
	Metrics   metrics.Collector
	Logger    *slog.Logger

	// Token every generated transaction moves.
	Token     rollup.TokenLike
	TargetTPS uint32
	Ticks     uint32
	// Workers caps concurrent submissions; 0 or above TargetTPS means TargetTPS.
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// BatchSize > 1 groups transactions into atomic batches.
	BatchSize    int
	QueryFees    bool
	SyncAccounts bool
	Confirm      bool
	PollInterval time.Duration
	// ConfirmTimeout bounds confirmation polling after the last tick.
	ConfirmTimeout time.Duration
}

// Outcome is the recorded result of one transaction.
type Outcome struct {
	Seq       uint64             `json:"seq"`
	Tick      uint32             `json:"tick"`
	Batch     int                `json:"batch,omitempty"`
	Tx        rollup.Transaction `json:"tx"`
	Accepted  bool               `json:"accepted"`
	Hash      rollup.TxHash      `json:"hash,omitempty"`
	ErrorKind rollup.ErrorKind   `json:"-"`
	Message   string             `json:"message,omitempty"`
	Attempts  int                `json:"attempts"`
	Fee       *uint256.Int       `json:"fee,omitempty"`
	Latency   time.Duration      `json:"latency"`
	Timestamp time.Time          `json:"timestamp"`
}

// Report summarizes a finished run.
type Report struct {
	State      State
	Err        error
	Seed       uint64
	Network    rollup.Network
	Token      string
	TargetTPS  uint32
	Ticks      uint32
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	Metrics    metrics.Snapshot
	Accounts   []account.Snapshot
}

// Accepted returns the number of accepted outcomes.
func (r *Report) Accepted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Accepted {
			n++
		}
	}
	return n
}

// Rejected returns the number of rejected outcomes.
func (r *Report) Rejected() int {
	return len(r.Outcomes) - r.Accepted()
}

// Duration is the wall-clock length of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Engine runs one simulation. It is single-use.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Collector

	state atomic.Int32
	seq   atomic.Uint64

	// resolved at startup
	symbol string

	mu       sync.Mutex
	outcomes []Outcome
}

// New validates cfg and creates an idle Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Provider == nil:
		return nil, errors.New("engine: provider is required")
	case cfg.Factory == nil:
		return nil, errors.New("engine: factory is required")
	case cfg.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case cfg.Throttler == nil:
		return nil, errors.New("engine: throttler is required")
	case cfg.Rand == nil:
		return nil, errors.New("engine: rand is required")
	case cfg.TargetTPS == 0:
		return nil, ratelimit.ErrInvalidRate
	}

	if cfg.Networks == nil {
		cfg.Networks = rollup.DefaultNetworks()
	}
	if cfg.Ticks == 0 {
		cfg.Ticks = 1
	}
	if cfg.Workers <= 0 || cfg.Workers > int(cfg.TargetTPS) {
		cfg.Workers = int(cfg.TargetTPS)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.Token.IsZero() {
		cfg.Token = rollup.TokenSymbol("RBTC")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewMemoryCollector(nil)
	}

	return &Engine{cfg: cfg, logger: logger, metrics: collector}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Metrics returns the engine's collector.
func (e *Engine) Metrics() metrics.Collector {
	return e.metrics
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.SetState(s.String())
}

// Run executes the configured ticks and returns the report. The report is
// always non-nil; the error is non-nil exactly when the run aborted, and
// carries the cause.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	e.metrics.SetState(StateRunning.String())
	e.metrics.SetTargetTPS(e.cfg.TargetTPS)

	report := &Report{
		Seed:      e.cfg.Rand.Seed(),
		Network:   e.cfg.Provider.Network(),
		Token:     e.cfg.Token.String(),
		TargetTPS: e.cfg.TargetTPS,
		StartedAt: time.Now(),
	}

	e.logger.Info("simulation starting",
		slog.String("network", string(report.Network)),
		slog.Uint64("seed", report.Seed),
		slog.Uint64("tps", uint64(e.cfg.TargetTPS)),
		slog.Uint64("ticks", uint64(e.cfg.Ticks)),
		slog.Int("workers", e.cfg.Workers),
		slog.Int("batchSize", e.cfg.BatchSize),
	)

	err := e.prepare(ctx)
	if err == nil {
		report.Ticks, err = e.runTicks(ctx)
	}
	if err == nil && e.cfg.Confirm {
		e.confirm(ctx)
	}
	if err == nil {
		err = ctx.Err()
	}

	report.FinishedAt = time.Now()
	report.Outcomes = e.sortedOutcomes()
	report.Metrics = e.metrics.Snapshot()
	report.Accounts = e.cfg.Registry.Snapshot()

	if err != nil {
		report.State, report.Err = StateAborted, err
		e.setState(StateAborted)
		e.logger.Warn("simulation aborted",
			slog.String("error", err.Error()),
			slog.Int("outcomes", len(report.Outcomes)),
		)
		return report, err
	}

	report.State = StateCompleted
	e.setState(StateCompleted)
	e.logger.Info("simulation completed",
		slog.Int("accepted", report.Accepted()),
		slog.Int("rejected", report.Rejected()),
		slog.Uint64("retries", report.Metrics.Retries),
		slog.Duration("duration", report.Duration()),
	)
	return report, nil
}

// prepare validates the network and token and optionally syncs accounts.
func (e *Engine) prepare(ctx context.Context) error {
	network := e.cfg.Provider.Network()
	if err := e.cfg.Networks.Validate(network); err != nil {
		e.logger.Error("unsupported network",
			slog.String("network", string(network)),
			slog.Any("supported", e.cfg.Networks.Names()),
		)
		return err
	}

	if e.cfg.Confirm {
		info := e.cfg.Networks.Get(network)
		minPoll := time.Duration(info.MinPollIntervalMS) * time.Millisecond
		if e.cfg.PollInterval < minPoll {
			return rollup.Errorf(rollup.KindPollingIntervalTooSmall,
				"%v is below the %v minimum of %s", e.cfg.PollInterval, minPoll, network)
		}
	}

	tokens, err := e.cfg.Provider.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("fetch tokens: %w", err)
	}
	token, ok := tokens.Resolve(e.cfg.Token)
	if !ok {
		return rollup.NewError(rollup.KindUnknownToken, e.cfg.Token.String())
	}
	e.symbol = token.Symbol

	if e.cfg.SyncAccounts {
		if err := e.cfg.Registry.SyncAll(ctx, e.cfg.Provider, 0); err != nil {
			return fmt.Errorf("sync accounts: %w", err)
		}
	}

	contracts, err := e.cfg.Provider.ContractAddress(ctx)
	if err != nil {
		e.logger.Warn("failed to fetch contract address", slog.String("error", err.Error()))
	} else {
		e.logger.Info("rollup contracts",
			slog.String("main", contracts.MainContract),
			slog.String("gov", contracts.GovContract),
		)
	}
	return nil
}

func (e *Engine) record(o Outcome) {
	e.mu.Lock()
	e.outcomes = append(e.outcomes, o)
	e.mu.Unlock()
}

func (e *Engine) sortedOutcomes() []Outcome {
	e.mu.Lock()
	out := make([]Outcome, len(e.outcomes))
	copy(out, e.outcomes)
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
