// Package txgen synthesizes random deposits and transfers within configured
// value bounds.
package txgen

import (
	"errors"
	"fmt"

	"github.com/gateway-fm/rollupsim/internal/account"
	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// ErrInvalidBounds is returned when a min/max pair is inverted.
var ErrInvalidBounds = errors.New("min value exceeds max value")

// Bounds is an inclusive value range.
type Bounds struct {
	Min uint64
	Max uint64
}

// Validate checks Min <= Max.
func (b Bounds) Validate() error {
	if b.Min > b.Max {
		return fmt.Errorf("%w: %d > %d", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// Config holds the factory parameters.
type Config struct {
	Deposit  Bounds
	Transfer Bounds
	Token    rollup.TokenLike
	// TransferRatio is the probability Generate yields a transfer.
	TransferRatio float64
}

// Factory generates unsigned transactions against an account registry.
// Randomness comes only from the injected Rand, so a fixed seed reproduces
// the same sequence for a sequential caller.
type Factory struct {
	cfg      Config
	registry *account.Registry
	rng      *account.Rand
}

// New creates a Factory.
func New(cfg Config, registry *account.Registry, rng *account.Rand) (*Factory, error) {
	if err := cfg.Deposit.Validate(); err != nil {
		return nil, fmt.Errorf("deposit bounds: %w", err)
	}
	if err := cfg.Transfer.Validate(); err != nil {
		return nil, fmt.Errorf("transfer bounds: %w", err)
	}
	if cfg.TransferRatio < 0 || cfg.TransferRatio > 1 {
		return nil, fmt.Errorf("transfer ratio %v outside [0, 1]", cfg.TransferRatio)
	}
	if registry == nil || rng == nil {
		return nil, errors.New("registry and rng are required")
	}
	return &Factory{cfg: cfg, registry: registry, rng: rng}, nil
}

// GenerateDeposit credits a uniformly chosen account with an amount drawn
// from the deposit bounds. Deposits consume no nonce.
func (f *Factory) GenerateDeposit() (rollup.Deposit, error) {
	to, err := f.registry.RandomAccount(f.rng, nil)
	if err != nil {
		return rollup.Deposit{}, err
	}
	addr, err := f.registry.Address(to)
	if err != nil {
		return rollup.Deposit{}, err
	}

	return rollup.Deposit{
		To:        to,
		ToAddress: addr,
		Token:     f.cfg.Token,
		Amount:    f.rng.Uint64Range(f.cfg.Deposit.Min, f.cfg.Deposit.Max),
	}, nil
}

// GenerateTransfer moves an amount drawn from the transfer bounds between two
// distinct accounts, reserving the source's next nonce.
func (f *Factory) GenerateTransfer() (rollup.Transfer, error) {
	from, err := f.registry.RandomAccount(f.rng, nil)
	if err != nil {
		return rollup.Transfer{}, err
	}
	to, err := f.registry.RandomAccount(f.rng, &from)
	if err != nil {
		return rollup.Transfer{}, err
	}
	fromAddr, err := f.registry.Address(from)
	if err != nil {
		return rollup.Transfer{}, err
	}
	toAddr, err := f.registry.Address(to)
	if err != nil {
		return rollup.Transfer{}, err
	}

	amount := f.rng.Uint64Range(f.cfg.Transfer.Min, f.cfg.Transfer.Max)
	nonce, err := f.registry.NextNonce(from)
	if err != nil {
		return rollup.Transfer{}, err
	}

	return rollup.Transfer{
		From:        from,
		FromAddress: fromAddr,
		To:          to,
		ToAddress:   toAddr,
		Token:       f.cfg.Token,
		Amount:      amount,
		Nonce:       nonce,
	}, nil
}

// Generate picks a transfer with probability TransferRatio, otherwise a
// deposit. A registry too small for a transfer falls back to a deposit.
func (f *Factory) Generate() (rollup.Transaction, error) {
	if f.registry.Len() >= 2 && f.rng.Float64() < f.cfg.TransferRatio {
		return f.GenerateTransfer()
	}
	return f.GenerateDeposit()
}
