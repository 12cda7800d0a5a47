package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func deposit(to common.Address, amount uint64) rollup.Deposit {
	return rollup.Deposit{ToAddress: to, Amount: amount, Token: rollup.TokenSymbol("RBTC")}
}

func transfer(from, to common.Address, amount uint64, nonce rollup.Nonce) rollup.Transfer {
	return rollup.Transfer{FromAddress: from, ToAddress: to, Amount: amount, Nonce: nonce, Token: rollup.TokenSymbol("RBTC")}
}

func TestLocalDepositAndTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{EnforceBalances: true})

	h1, err := l.SendTx(ctx, deposit(alice, 100), nil)
	require.NoError(t, err)
	h2, err := l.SendTx(ctx, transfer(alice, bob, 30, 0), nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	info, err := l.AccountInfo(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, info.ID)
	assert.Equal(t, uint64(70), info.Committed.Balances["RBTC"].Uint64())
	assert.Equal(t, rollup.Nonce(1), info.Committed.Nonce)

	info, err = l.AccountInfo(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), info.Committed.Balances["RBTC"].Uint64())

	txInfo, err := l.TxInfo(ctx, h1)
	require.NoError(t, err)
	assert.True(t, txInfo.Executed)
	require.NotNil(t, txInfo.Success)
	assert.True(t, *txInfo.Success)
	assert.True(t, txInfo.IsVerified(), "first block is verified once a second exists")

	txInfo, err = l.TxInfo(ctx, h2)
	require.NoError(t, err)
	assert.False(t, txInfo.IsVerified())
}

func TestLocalIdenticalDepositsHashDistinct(t *testing.T) {
	l := NewLocal(LocalConfig{})
	h1, err := l.SendTx(context.Background(), deposit(alice, 100), nil)
	require.NoError(t, err)
	h2, err := l.SendTx(context.Background(), deposit(alice, 100), nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestLocalRejections(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{EnforceBalances: true})
	_, err := l.SendTx(ctx, deposit(alice, 10), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		tx   rollup.Transaction
		want rollup.ErrorKind
	}{
		{"unknown token", rollup.Deposit{ToAddress: alice, Amount: 1, Token: rollup.TokenSymbol("DOGE")}, rollup.KindUnknownToken},
		{"zero address", deposit(common.Address{}, 1), rollup.KindIncorrectAddress},
		{"self transfer", transfer(alice, alice, 1, 0), rollup.KindIncorrectInput},
		{"overdraft", transfer(alice, bob, 11, 0), rollup.KindIncorrectInput},
		{"missing sender", transfer(carol, bob, 1, 0), rollup.KindIncorrectInput},
		{"nil transaction", nil, rollup.KindMissingRequiredField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SendTx(ctx, tt.tx, nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, rollup.KindOf(err))
			assert.False(t, rollup.IsRetryable(err))
		})
	}

	// Stale nonce after a successful transfer
	_, err = l.SendTx(ctx, transfer(alice, bob, 1, 0), nil)
	require.NoError(t, err)
	_, err = l.SendTx(ctx, transfer(alice, bob, 1, 0), nil)
	assert.Equal(t, rollup.KindIncorrectInput, rollup.KindOf(err))
}

func TestLocalAcceptsOutOfOrderNonces(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{})

	for _, n := range []rollup.Nonce{2, 0, 1} {
		_, err := l.SendTx(ctx, transfer(alice, bob, 1, n), nil)
		require.NoError(t, err, "nonce %d", n)
	}

	_, err := l.SendTx(ctx, transfer(alice, bob, 1, 1), nil)
	assert.Equal(t, rollup.KindIncorrectInput, rollup.KindOf(err))
	assert.Contains(t, err.Error(), "already used")

	info, err := l.AccountInfo(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, rollup.Nonce(3), info.Committed.Nonce)
}

func TestLocalBatchRollbackRestoresNonces(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{EnforceBalances: true})
	_, err := l.SendTx(ctx, deposit(alice, 10), nil)
	require.NoError(t, err)

	_, err = l.SendTxsBatch(ctx, []rollup.SignedTx{
		{Tx: transfer(alice, bob, 1, 0)},
		{Tx: transfer(alice, bob, 100, 1)}, // overdraft
	}, nil)
	require.Error(t, err)

	_, err = l.SendTx(ctx, transfer(alice, bob, 1, 0), nil)
	assert.NoError(t, err, "nonce spent by a rolled-back batch is free again")
}

func TestLocalRejectsUnencodableBatch(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{})

	_, err := l.SendTxsBatch(ctx, []rollup.SignedTx{{Tx: deposit(alice, 5)}, {Tx: nil}}, nil)
	assert.Equal(t, rollup.KindMissingRequiredField, rollup.KindOf(err))

	txs, block := l.Stats()
	assert.Zero(t, txs)
	assert.Zero(t, block)
}

func TestLocalBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{EnforceBalances: true})

	batch := []rollup.SignedTx{
		{Tx: deposit(alice, 50)},
		{Tx: transfer(alice, bob, 20, 0)},
		{Tx: transfer(bob, carol, 100, 0)}, // overdraft
	}
	_, err := l.SendTxsBatch(ctx, batch, nil)
	require.Error(t, err)

	info, err := l.AccountInfo(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, info.ID, "rolled-back batch must not create accounts")
	txs, _ := l.Stats()
	assert.Zero(t, txs)

	batch[2] = rollup.SignedTx{Tx: transfer(bob, carol, 5, 0)}
	hashes, err := l.SendTxsBatch(ctx, batch, nil)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	info, err = l.AccountInfo(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Committed.Balances["RBTC"].Uint64())

	op, err := l.EthOpInfo(ctx, 0)
	require.NoError(t, err)
	assert.True(t, op.Executed)
}

func TestLocalFees(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{})

	fee, err := l.GetTxFee(ctx, rollup.FeeType{Kind: rollup.FeeTransfer}, alice, rollup.TokenByID(0))
	require.NoError(t, err)
	sum := fee.GasFee()
	sum.Add(sum, fee.ZkpFee())
	assert.True(t, sum.Eq(fee.TotalFee()))

	total, err := l.GetTxsBatchFee(ctx,
		[]rollup.FeeType{{Kind: rollup.FeeTransfer}, {Kind: rollup.FeeTransfer}},
		[]common.Address{alice, bob}, rollup.TokenSymbol("RBTC"))
	require.NoError(t, err)
	double := fee.TotalFee()
	double.Add(double, fee.TotalFee())
	assert.True(t, total.Eq(double))

	_, err = l.GetTxFee(ctx, rollup.FeeType{Kind: rollup.FeeTransfer}, alice, rollup.TokenSymbol("DOGE"))
	assert.True(t, errors.Is(err, rollup.ErrUnknownToken))

	_, err = l.GetTxsBatchFee(ctx, []rollup.FeeType{{Kind: rollup.FeeTransfer}}, nil, rollup.TokenSymbol("RBTC"))
	assert.True(t, errors.Is(err, rollup.ErrIncorrectInput))
}

func TestLocalLatencyHonoursContext(t *testing.T) {
	l := NewLocal(LocalConfig{MaxLatency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	// Either the random delay fits in 5ms or the call times out.
	_, err := l.Tokens(ctx)
	if err != nil {
		assert.Equal(t, rollup.KindOperationTimeout, rollup.KindOf(err))
	}
}

func TestLocalConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.SendTx(ctx, deposit(alice, 2), nil)
		}()
	}
	wg.Wait()

	info, err := l.AccountInfo(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), info.Committed.Balances["RBTC"].Uint64())
	txs, block := l.Stats()
	assert.Equal(t, 50, txs)
	assert.Equal(t, int64(50), block)
}

func TestLocalMisc(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(LocalConfig{Network: rollup.NetworkTestnet})
	assert.Equal(t, rollup.NetworkTestnet, l.Network())

	ca, err := l.ContractAddress(ctx)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(ca.MainContract))
	assert.NotEqual(t, ca.MainContract, ca.GovContract)

	_, ok, err := l.GetEthTxForWithdrawal(ctx, common.Hash{})
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := l.TxInfo(ctx, common.Hash{1})
	require.NoError(t, err)
	assert.False(t, info.Executed)

	_, err = l.AccountInfo(ctx, common.Address{})
	assert.True(t, errors.Is(err, rollup.ErrIncorrectAddress))
}
