package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/gateway-fm/rollupsim/internal/account"
	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// SaveCachedAccounts upserts account nonces. A stored nonce never moves
// backwards.
func (s *SQLiteStorage) SaveCachedAccounts(ctx context.Context, accounts []CachedAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_accounts (network, address, nonce, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (network, address) DO UPDATE SET
			nonce = MAX(cached_accounts.nonce, excluded.nonce),
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range accounts {
		updatedAt := a.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, a.Network, a.Address, a.Nonce, updatedAt); err != nil {
			return fmt.Errorf("cache account %s: %w", a.Address, err)
		}
	}

	return tx.Commit()
}

// LoadCachedAccounts returns the cached accounts of a network ordered by address.
func (s *SQLiteStorage) LoadCachedAccounts(ctx context.Context, network string) ([]CachedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT network, address, nonce, updated_at
		FROM cached_accounts
		WHERE network = ?
		ORDER BY address
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []CachedAccount
	for rows.Next() {
		var a CachedAccount
		if err := rows.Scan(&a.Network, &a.Address, &a.Nonce, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteCachedAccounts forgets every cached account of a network.
func (s *SQLiteStorage) DeleteCachedAccounts(ctx context.Context, network string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cached_accounts WHERE network = ?", network)
	return err
}

// SaveNonces caches the nonces of every account that has submitted at least
// one transaction.
func SaveNonces(ctx context.Context, c CacheStorage, network rollup.Network, snapshots []account.Snapshot) error {
	now := time.Now()
	accounts := make([]CachedAccount, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Nonce == 0 {
			continue
		}
		accounts = append(accounts, CachedAccount{
			Network:   string(network),
			Address:   snap.Address.Hex(),
			Nonce:     uint32(snap.Nonce),
			UpdatedAt: now,
		})
	}
	return c.SaveCachedAccounts(ctx, accounts)
}

// RestoreNonces raises registry nonces to the cached values for network and
// returns how many accounts were restored. Addresses not in the registry are
// ignored.
func RestoreNonces(ctx context.Context, c CacheStorage, network rollup.Network, reg *account.Registry) (int, error) {
	cached, err := c.LoadCachedAccounts(ctx, string(network))
	if err != nil {
		return 0, fmt.Errorf("load cached accounts: %w", err)
	}
	if len(cached) == 0 {
		return 0, nil
	}

	byAddress := make(map[string]uint32, len(cached))
	for _, a := range cached {
		byAddress[a.Address] = a.Nonce
	}

	restored := 0
	for _, snap := range reg.Snapshot() {
		nonce, ok := byAddress[snap.Address.Hex()]
		if !ok {
			continue
		}
		info := &rollup.AccountInfo{
			Address:   snap.Address,
			Committed: rollup.AccountState{Nonce: rollup.Nonce(nonce)},
		}
		if err := reg.Sync(snap.ID, info); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}
