package account

import (
	"math/big"
	"sync"
	"testing"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

var testSeed = []byte("rollupsim-test-seed")

func TestNewAccountDeterministic(t *testing.T) {
	a, err := NewAccount(3, testSeed)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	b, err := NewAccount(3, testSeed)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if a.Address != b.Address {
		t.Errorf("same seed and id gave %s and %s", a.Address.Hex(), b.Address.Hex())
	}

	c, _ := NewAccount(4, testSeed)
	if a.Address == c.Address {
		t.Error("different ids produced the same address")
	}
}

func TestNextNonce(t *testing.T) {
	acc, _ := NewAccount(0, testSeed)

	// NextNonce returns current and increments
	for want := rollup.Nonce(0); want < 3; want++ {
		if got := acc.NextNonce(); got != want {
			t.Errorf("NextNonce() = %d, want %d", got, want)
		}
	}
	if got := acc.PeekNonce(); got != 3 {
		t.Errorf("PeekNonce() = %d, want 3", got)
	}
}

func TestSyncNonceNeverRewinds(t *testing.T) {
	acc, _ := NewAccount(0, testSeed)
	acc.syncNonce(10)
	if got := acc.PeekNonce(); got != 10 {
		t.Errorf("after sync to 10, PeekNonce() = %d", got)
	}

	acc.syncNonce(4)
	if got := acc.PeekNonce(); got != 10 {
		t.Errorf("sync to a lower nonce rewound to %d", got)
	}
}

func TestConcurrentNextNonce(t *testing.T) {
	acc, _ := NewAccount(0, testSeed)

	const goroutines = 100
	const perGoroutine = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[rollup.Nonce]bool)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				n := acc.NextNonce()
				mu.Lock()
				if seen[n] {
					t.Errorf("duplicate nonce %d", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := goroutines * perGoroutine
	if len(seen) != total {
		t.Fatalf("expected %d distinct nonces, got %d", total, len(seen))
	}
	for n := rollup.Nonce(0); n < rollup.Nonce(total); n++ {
		if !seen[n] {
			t.Errorf("nonce %d was never issued", n)
		}
	}
}

func TestBalanceSaturatesAtZero(t *testing.T) {
	acc, _ := NewAccount(0, testSeed)

	if got := acc.balance("RBTC"); got.Sign() != 0 {
		t.Errorf("unseen token balance = %s, want 0", got)
	}

	acc.addBalance("RBTC", big.NewInt(100))
	if got := acc.addBalance("RBTC", big.NewInt(-30)); got.Int64() != 70 {
		t.Errorf("balance = %s, want 70", got)
	}
	if got := acc.addBalance("RBTC", big.NewInt(-500)); got.Sign() != 0 {
		t.Errorf("balance = %s, want saturation at 0", got)
	}

	// Returned values are copies
	got := acc.balance("RBTC")
	got.SetInt64(999)
	if acc.balance("RBTC").Sign() != 0 {
		t.Error("mutating a returned balance changed account state")
	}
}
