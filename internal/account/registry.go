package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

var (
	// ErrUnknownAccount is returned for ids outside the registry.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrInsufficientAccounts is returned when a distinct destination is
	// requested from a registry of fewer than two accounts.
	ErrInsufficientAccounts = errors.New("at least two accounts are required to pick a distinct account")
)

// defaultSyncConcurrency limits concurrent provider calls during SyncAll.
const defaultSyncConcurrency = 16

// Registry owns the simulated accounts of a run. Ids are dense in
// [0, Len()). The account slice is fixed at construction, so lookups are
// lock-free and each account's state is guarded by its own mutex.
type Registry struct {
	accounts []*Account
	logger   *slog.Logger
}

// NewRegistry creates count accounts with keys derived from seed.
func NewRegistry(count uint32, seed []byte, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	accounts := make([]*Account, count)
	for i := range accounts {
		acc, err := NewAccount(rollup.AccountID(i), seed)
		if err != nil {
			return nil, fmt.Errorf("derive account %d: %w", i, err)
		}
		accounts[i] = acc
	}

	return &Registry{accounts: accounts, logger: logger}, nil
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// Get returns the account with the given id.
func (r *Registry) Get(id rollup.AccountID) (*Account, error) {
	if int(id) >= len(r.accounts) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	return r.accounts[id], nil
}

// Address returns the account's address.
func (r *Registry) Address(id rollup.AccountID) (common.Address, error) {
	acc, err := r.Get(id)
	if err != nil {
		return common.Address{}, err
	}
	return acc.Address, nil
}

// NextNonce reserves the account's next nonce. Concurrent callers for the
// same account each receive a distinct value.
func (r *Registry) NextNonce(id rollup.AccountID) (rollup.Nonce, error) {
	acc, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return acc.NextNonce(), nil
}

// UpdateBalance applies delta to the account's token balance and returns the
// new value. Balances saturate at zero.
func (r *Registry) UpdateBalance(id rollup.AccountID, token string, delta *big.Int) (*big.Int, error) {
	acc, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return acc.addBalance(token, delta), nil
}

// BalanceOf returns the last known balance, zero for tokens never seen.
func (r *Registry) BalanceOf(id rollup.AccountID, token string) (*big.Int, error) {
	acc, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return acc.balance(token), nil
}

// RandomAccount returns a uniformly chosen id. When excluding is set the
// result differs from it, drawn uniformly from the remaining ids.
func (r *Registry) RandomAccount(rng *Rand, excluding *rollup.AccountID) (rollup.AccountID, error) {
	n := len(r.accounts)
	if excluding == nil {
		if n == 0 {
			return 0, ErrInsufficientAccounts
		}
		return rollup.AccountID(rng.IntN(n)), nil
	}
	if n < 2 {
		return 0, ErrInsufficientAccounts
	}
	if int(*excluding) >= n {
		return 0, fmt.Errorf("%w: excluded %d", ErrUnknownAccount, *excluding)
	}

	// Draw from n-1 slots and shift past the excluded id.
	pick := rollup.AccountID(rng.IntN(n - 1))
	if pick >= *excluding {
		pick++
	}
	return pick, nil
}

// Sync refreshes an account from the provider's committed view. The nonce
// only ever moves forward so reservations already handed out stay valid.
func (r *Registry) Sync(id rollup.AccountID, info *rollup.AccountInfo) error {
	acc, err := r.Get(id)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	acc.syncNonce(info.Committed.Nonce)
	for token, bal := range info.Committed.Balances {
		if bal == nil {
			continue
		}
		acc.setBalance(token, bal.ToBig())
	}
	return nil
}

// SyncAll fetches every account's state from the provider in parallel.
// concurrency <= 0 uses a default limit.
func (r *Registry) SyncAll(ctx context.Context, p rollup.Provider, concurrency int) error {
	if concurrency <= 0 {
		concurrency = defaultSyncConcurrency
	}
	count := len(r.accounts)
	r.logger.Info("syncing accounts", slog.Int("count", count))

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	sem := make(chan struct{}, concurrency)
	var synced atomic.Int32

	for _, acc := range r.accounts {
		wg.Add(1)
		go func(acc *Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			info, err := p.AccountInfo(ctx, acc.Address)
			if err == nil {
				err = r.Sync(acc.ID, info)
			}
			if err != nil {
				select {
				case errChan <- fmt.Errorf("account %d: %w", acc.ID, err):
				default:
				}
				return
			}

			n := synced.Add(1)
			if n <= 5 || n%100 == 0 {
				r.logger.Debug("account synced",
					slog.Uint64("account_id", uint64(acc.ID)),
					slog.String("address", acc.Address.Hex()[:10]),
					slog.Uint64("nonce", uint64(acc.PeekNonce())),
				)
			}
		}(acc)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}

	r.logger.Info("accounts synced", slog.Int("count", count))
	return nil
}

// Snapshot is a point-in-time copy of an account's bookkeeping.
type Snapshot struct {
	ID       rollup.AccountID
	Address  common.Address
	Nonce    rollup.Nonce
	Balances map[string]*big.Int
}

// Snapshot returns copies of every account's state, ordered by id.
func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, len(r.accounts))
	for i, acc := range r.accounts {
		acc.mu.Lock()
		balances := make(map[string]*big.Int, len(acc.balances))
		for token, bal := range acc.balances {
			balances[token] = new(big.Int).Set(bal)
		}
		out[i] = Snapshot{
			ID:       acc.ID,
			Address:  acc.Address,
			Nonce:    acc.nonce,
			Balances: balances,
		}
		acc.mu.Unlock()
	}
	return out
}
