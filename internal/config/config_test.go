package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
[general]
account_count = 5
enable_throttling = true
generate_reports = false
tps = 10

[transaction]
min_deposit_value = 100
max_deposit_value = 100
min_transfer_value = 1
max_transfer_value = 50
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.General.AccountCount != 5 || cfg.General.TPS != 10 {
		t.Errorf("general = %+v", cfg.General)
	}
	if cfg.General.GenerateReports {
		t.Error("generate_reports should be false")
	}
	if cfg.General.Ticks != DefaultTicks {
		t.Errorf("ticks = %d, want default %d", cfg.General.Ticks, DefaultTicks)
	}
	if cfg.Transaction.Token != DefaultToken {
		t.Errorf("token = %q, want %q", cfg.Transaction.Token, DefaultToken)
	}
	if cfg.Engine.RetryBackoff != DefaultRetryBackoff {
		t.Errorf("retry_backoff = %v, want %v", cfg.Engine.RetryBackoff, DefaultRetryBackoff)
	}
	if cfg.Provider.Kind != ProviderLocal {
		t.Errorf("provider kind = %q, want local", cfg.Provider.Kind)
	}
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse(sampleConfig + `
[engine]
retry_backoff = "40ms"

[provider]
kind = "http"
url = "http://node:3030"
timeout = "2s"
network = "testnet"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.RetryBackoff != 40*time.Millisecond {
		t.Errorf("retry_backoff = %v", cfg.Engine.RetryBackoff)
	}
	if cfg.Provider.Timeout != 2*time.Second {
		t.Errorf("timeout = %v", cfg.Provider.Timeout)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(sampleConfig + "\n[extra]\nfoo = 1\n")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("error should name unknown keys: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero tps", func(c *Config) { c.General.TPS = 0 }, "tps"},
		{"zero accounts", func(c *Config) { c.General.AccountCount = 0 }, "account_count"},
		{"zero ticks", func(c *Config) { c.General.Ticks = 0 }, "ticks"},
		{"inverted deposit", func(c *Config) { c.Transaction.MinDepositValue = 2000 }, "min_deposit_value"},
		{"inverted transfer", func(c *Config) { c.Transaction.MinTransferValue = 51 }, "min_transfer_value"},
		{"equal bounds", func(c *Config) { c.Transaction.MinTransferValue = 50 }, ""},
		{"ratio above one", func(c *Config) { c.Transaction.TransferRatio = 1.1 }, "transfer_ratio"},
		{"empty token", func(c *Config) { c.Transaction.Token = "" }, "token"},
		{"bad provider", func(c *Config) { c.Provider.Kind = "grpc" }, "unknown provider kind"},
		{"http without url", func(c *Config) {
			c.Provider.Kind = ProviderHTTP
			c.Provider.URL = ""
		}, "url is required"},
		{"zero timeout", func(c *Config) { c.Provider.Timeout = 0 }, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error not wrapped in ErrInvalidConfig: %v", err)
			}
		})
	}
}

func TestWorkersCappedAtTPS(t *testing.T) {
	cfg := Default()
	cfg.General.TPS = 4

	if got := cfg.Workers(); got != 4 {
		t.Errorf("Workers() = %d, want 4 for unset workers", got)
	}
	cfg.Engine.Workers = 2
	if got := cfg.Workers(); got != 2 {
		t.Errorf("Workers() = %d, want 2", got)
	}
	cfg.Engine.Workers = 64
	if got := cfg.Workers(); got != 4 {
		t.Errorf("Workers() = %d, want cap 4", got)
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("default config has warnings: %v", w)
	}

	cfg.General.AccountCount = 1
	w := cfg.Warnings()
	if len(w) != 1 || !strings.Contains(w[0], "at least 2 accounts") {
		t.Errorf("Warnings() = %v", w)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transaction.MaxDepositValue != 100 {
		t.Errorf("max_deposit_value = %d", cfg.Transaction.MaxDepositValue)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
