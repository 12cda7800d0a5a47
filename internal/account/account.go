// Package account tracks simulated rollup accounts: nonces, balances and
// the random selection used to build transactions.
package account

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// Account holds a simulated account's identity and bookkeeping state.
// All state is guarded by the account's own mutex so unrelated accounts never
// contend with each other.
type Account struct {
	ID         rollup.AccountID
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	mu       sync.Mutex
	nonce    rollup.Nonce
	balances map[string]*big.Int
}

// NewAccount creates an account with a key derived deterministically from
// seed and id, so the same run configuration always targets the same addresses.
func NewAccount(id rollup.AccountID, seed []byte) (*Account, error) {
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], uint32(id))

	// keccak256 output is a valid secp256k1 scalar with overwhelming probability
	keyBytes := crypto.Keccak256(seed, idBytes[:])
	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:         id,
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		balances:   make(map[string]*big.Int),
	}, nil
}

// NextNonce returns the current nonce and increments it atomically.
func (a *Account) NextNonce() rollup.Nonce {
	a.mu.Lock()
	nonce := a.nonce
	a.nonce++
	a.mu.Unlock()
	return nonce
}

// PeekNonce returns the current nonce without incrementing.
func (a *Account) PeekNonce() rollup.Nonce {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// syncNonce raises the local nonce to the provider's view.
// Set-if-higher so concurrent reservations are never rewound.
func (a *Account) syncNonce(nonce rollup.Nonce) {
	a.mu.Lock()
	if nonce > a.nonce {
		a.nonce = nonce
	}
	a.mu.Unlock()
}

// addBalance applies delta to the token balance, saturating at zero.
func (a *Account) addBalance(token string, delta *big.Int) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()

	bal, ok := a.balances[token]
	if !ok {
		bal = new(big.Int)
		a.balances[token] = bal
	}
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		bal.SetInt64(0)
	}
	return new(big.Int).Set(bal)
}

// setBalance overwrites the token balance.
func (a *Account) setBalance(token string, value *big.Int) {
	a.mu.Lock()
	a.balances[token] = new(big.Int).Set(value)
	a.mu.Unlock()
}

// balance returns a copy of the token balance, zero if never seen.
func (a *Account) balance(token string) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bal, ok := a.balances[token]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}
