package mcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/rollupsim/internal/config"
	"github.com/gateway-fm/rollupsim/internal/report"
	"github.com/gateway-fm/rollupsim/internal/sim"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

// Limits on tool-driven runs; the local node runs in-process.
const (
	maxRunTPS      = 1000
	maxRunTicks    = 60
	maxRunAccounts = 1000
)

// RunParams overrides the base configuration for one dry run. Zero values
// keep the base setting.
type RunParams struct {
	TPS              uint32
	Ticks            uint32
	Accounts         uint32
	Seed             uint64
	TransferRatio    *float64
	MinDepositValue  uint64
	MaxDepositValue  uint64
	MinTransferValue uint64
	MaxTransferValue uint64
	BatchSize        uint32
	Throttle         *bool
	Label            string
}

// Runner executes simulations against the in-memory local node.
type Runner struct {
	base    *config.Config
	history storage.Storage
	logger  *slog.Logger
}

// NewRunner creates a runner. base may be nil for the defaults; history
// may be nil to skip persistence.
func NewRunner(base *config.Config, history storage.Storage, logger *slog.Logger) *Runner {
	if base == nil {
		base = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: base, history: history, logger: logger}
}

// Config returns the configuration a run with p would use.
func (r *Runner) Config(p RunParams) (*config.Config, error) {
	cfg := *r.base
	cfg.Provider.Kind = config.ProviderLocal
	cfg.Metrics.Listen = ""

	if p.TPS > 0 {
		cfg.General.TPS = p.TPS
	}
	if p.Ticks > 0 {
		cfg.General.Ticks = p.Ticks
	}
	if p.Accounts > 0 {
		cfg.General.AccountCount = p.Accounts
	}
	cfg.General.Seed = p.Seed
	if p.TransferRatio != nil {
		cfg.Transaction.TransferRatio = *p.TransferRatio
	}
	if p.MinDepositValue > 0 {
		cfg.Transaction.MinDepositValue = p.MinDepositValue
	}
	if p.MaxDepositValue > 0 {
		cfg.Transaction.MaxDepositValue = p.MaxDepositValue
	}
	if p.MinTransferValue > 0 {
		cfg.Transaction.MinTransferValue = p.MinTransferValue
	}
	if p.MaxTransferValue > 0 {
		cfg.Transaction.MaxTransferValue = p.MaxTransferValue
	}
	if p.BatchSize > 0 {
		cfg.Engine.BatchSize = p.BatchSize
	}
	if p.Throttle != nil {
		cfg.General.EnableThrottling = *p.Throttle
	}

	switch {
	case cfg.General.TPS > maxRunTPS:
		return nil, fmt.Errorf("tps %d exceeds the limit of %d", cfg.General.TPS, maxRunTPS)
	case cfg.General.Ticks > maxRunTicks:
		return nil, fmt.Errorf("ticks %d exceeds the limit of %d", cfg.General.Ticks, maxRunTicks)
	case cfg.General.AccountCount > maxRunAccounts:
		return nil, fmt.Errorf("accounts %d exceeds the limit of %d", cfg.General.AccountCount, maxRunAccounts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Run executes one simulation and returns the rendered summary.
func (r *Runner) Run(ctx context.Context, p RunParams) (string, error) {
	cfg, err := r.Config(p)
	if err != nil {
		return "", err
	}

	s, err := sim.New(ctx, sim.Options{
		Config:  cfg,
		Logger:  r.logger,
		History: r.history,
		Label:   p.Label,
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	rep, run, runErr := s.Run(ctx)
	if rep == nil {
		return "", runErr
	}

	var buf bytes.Buffer
	(&report.Printer{Out: &buf, NoColor: true}).Summary(rep)
	if run != nil {
		buf.WriteString("\n" + kv("Run ID", run.ID))
	}
	// An aborted run is still a result worth showing.
	return buf.String(), nil
}
