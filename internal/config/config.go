// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the immutable run configuration, loaded from a TOML file.
type Config struct {
	General     GeneralConfig     `toml:"general"`
	Transaction TransactionConfig `toml:"transaction"`
	Engine      EngineConfig      `toml:"engine"`
	Provider    ProviderConfig    `toml:"provider"`
	Storage     StorageConfig     `toml:"storage"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// GeneralConfig holds the run-wide knobs.
type GeneralConfig struct {
	AccountCount     uint32 `toml:"account_count"`
	EnableThrottling bool   `toml:"enable_throttling"`
	GenerateReports  bool   `toml:"generate_reports"`
	TPS              uint32 `toml:"tps"`
	Ticks            uint32 `toml:"ticks"`
	Seed             uint64 `toml:"seed"` // 0 = derived from the clock
}

// TransactionConfig bounds generated values.
type TransactionConfig struct {
	MinDepositValue  uint64  `toml:"min_deposit_value"`
	MaxDepositValue  uint64  `toml:"max_deposit_value"`
	MinTransferValue uint64  `toml:"min_transfer_value"`
	MaxTransferValue uint64  `toml:"max_transfer_value"`
	Token            string  `toml:"token"`
	TransferRatio    float64 `toml:"transfer_ratio"`
	QueryFees        bool    `toml:"query_fees"`
}

// EngineConfig tunes submission.
type EngineConfig struct {
	Workers      uint32        `toml:"workers"` // 0 = tps
	MaxRetries   uint32        `toml:"max_retries"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
	BatchSize    uint32        `toml:"batch_size"` // 0 or 1 = single sends
	SyncAccounts bool          `toml:"sync_accounts"`
	Confirm      bool          `toml:"confirm"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// ProviderConfig selects the rollup node to drive.
type ProviderConfig struct {
	Kind    string        `toml:"kind"`
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
	Network string        `toml:"network"`
}

// StorageConfig locates the run history database. Empty disables persistence.
type StorageConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig configures the status/metrics listener. Empty disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Provider kinds.
const (
	ProviderLocal = "local"
	ProviderHTTP  = "http"
	ProviderWS    = "ws"
)

// Defaults
const (
	DefaultConfigPath    = "config.toml"
	DefaultAccountCount  = 5
	DefaultTPS           = 10
	DefaultTicks         = 1
	DefaultToken         = "RBTC"
	DefaultTransferRatio = 0.5
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 25 * time.Millisecond
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultProviderKind  = ProviderLocal
	DefaultProviderURL   = "http://localhost:3030"
	DefaultTimeout       = 5 * time.Second
	DefaultNetwork       = "localhost"
	MaxAccounts          = 100000
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			AccountCount:     DefaultAccountCount,
			EnableThrottling: true,
			GenerateReports:  true,
			TPS:              DefaultTPS,
			Ticks:            DefaultTicks,
		},
		Transaction: TransactionConfig{
			MinDepositValue:  100,
			MaxDepositValue:  1000,
			MinTransferValue: 1,
			MaxTransferValue: 50,
			Token:            DefaultToken,
			TransferRatio:    DefaultTransferRatio,
		},
		Engine: EngineConfig{
			MaxRetries:   DefaultMaxRetries,
			RetryBackoff: DefaultRetryBackoff,
			PollInterval: DefaultPollInterval,
		},
		Provider: ProviderConfig{
			Kind:    DefaultProviderKind,
			URL:     DefaultProviderURL,
			Timeout: DefaultTimeout,
			Network: DefaultNetwork,
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys: %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	g, tx, e, p := c.General, c.Transaction, c.Engine, c.Provider

	if g.TPS == 0 {
		return fmt.Errorf("%w: tps must be at least 1", ErrInvalidConfig)
	}
	if g.AccountCount == 0 || g.AccountCount > MaxAccounts {
		return fmt.Errorf("%w: account_count must be between 1 and %d", ErrInvalidConfig, MaxAccounts)
	}
	if g.Ticks == 0 {
		return fmt.Errorf("%w: ticks must be at least 1", ErrInvalidConfig)
	}
	if tx.MinDepositValue > tx.MaxDepositValue {
		return fmt.Errorf("%w: min_deposit_value %d exceeds max_deposit_value %d",
			ErrInvalidConfig, tx.MinDepositValue, tx.MaxDepositValue)
	}
	if tx.MinTransferValue > tx.MaxTransferValue {
		return fmt.Errorf("%w: min_transfer_value %d exceeds max_transfer_value %d",
			ErrInvalidConfig, tx.MinTransferValue, tx.MaxTransferValue)
	}
	if tx.TransferRatio < 0 || tx.TransferRatio > 1 {
		return fmt.Errorf("%w: transfer_ratio must be within [0, 1]", ErrInvalidConfig)
	}
	if tx.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if e.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry_backoff cannot be negative", ErrInvalidConfig)
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	switch p.Kind {
	case ProviderLocal:
	case ProviderHTTP, ProviderWS:
		if p.URL == "" {
			return fmt.Errorf("%w: provider url is required for kind %q", ErrInvalidConfig, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown provider kind %q (supported: local, http, ws)", ErrInvalidConfig, p.Kind)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: provider timeout must be positive", ErrInvalidConfig)
	}
	if p.Network == "" {
		return fmt.Errorf("%w: provider network is required", ErrInvalidConfig)
	}
	return nil
}

// Workers returns the worker pool size, capped at the target rate.
func (c *Config) Workers() int {
	w := c.Engine.Workers
	if w == 0 || w > c.General.TPS {
		w = c.General.TPS
	}
	return int(w)
}

// Warnings returns advisory messages for configurations that are valid but
// will not behave as the operator likely expects.
func (c *Config) Warnings() []string {
	var out []string
	if c.General.AccountCount < 2 && c.Transaction.TransferRatio > 0 {
		out = append(out, fmt.Sprintf(
			"transfers need at least 2 accounts: have %d, all transactions will be deposits",
			c.General.AccountCount))
	}
	if c.Engine.BatchSize > c.General.TPS {
		out = append(out, fmt.Sprintf(
			"batch_size %d exceeds tps %d: batches are capped by the per-tick count",
			c.Engine.BatchSize, c.General.TPS))
	}
	if !c.General.EnableThrottling {
		out = append(out, "throttling disabled: submissions run at provider speed")
	}
	return out
}
