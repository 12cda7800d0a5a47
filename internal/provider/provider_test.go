package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/rpc"
)

// fakeNode serves canned JSON-RPC results keyed by method.
type fakeNode struct {
	results map[string]string
	errors  map[string]rpc.ErrorObject
	status  int

	mu   sync.Mutex
	last rpc.Request
}

func (f *fakeNode) lastRequest() rpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	resp := rpc.Response{JSONRPC: "2.0", ID: req.ID}
	if e, ok := f.errors[req.Method]; ok {
		resp.Error = &e
	} else {
		resp.Result = json.RawMessage(f.results[req.Method])
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newRPCProvider(t *testing.T, node *fakeNode) *RPC {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	cfg := rpc.DefaultClientConfig(srv.URL)
	cfg.MaxRetries = 0
	return NewRPC(rpc.NewHTTPClient(cfg), rollup.NetworkTestnet, nil)
}

const hashHex = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestRPCAccountInfo(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodAccountInfo: `{
			"address": "0x00000000000000000000000000000000000000aa",
			"id": 4,
			"depositing": {"balances": {"RBTC": {"amount": "10", "expectedAcceptBlock": 7}}},
			"committed": {"balances": {"RBTC": "1000"}, "nonce": 3, "pubKeyHash": "sync:0000000000000000000000000000000000000001"},
			"verified": {"balances": {}, "nonce": 2, "pubKeyHash": "sync:0000000000000000000000000000000000000000"}
		}`,
	}}
	p := newRPCProvider(t, node)

	info, err := p.AccountInfo(context.Background(), common.HexToAddress("0xaa"))
	require.NoError(t, err)
	require.NotNil(t, info.ID)
	assert.Equal(t, rollup.AccountID(4), *info.ID)
	assert.Equal(t, rollup.Nonce(3), info.Committed.Nonce)
	assert.Equal(t, uint64(1000), info.Committed.Balances["RBTC"].Uint64())
	assert.Equal(t, uint64(10), info.Depositing["RBTC"].Amount.Uint64())
	assert.Equal(t, byte(1), info.Committed.PubKeyHash[19])
	assert.Equal(t, methodAccountInfo, node.lastRequest().Method)
}

func TestRPCGetTxFee(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodGetTxFee: `{"feeType":"Transfer","gasTxAmount":"350","gasPriceWei":"2","gasFee":"700","zkpFee":"300","totalFee":"1000"}`,
	}}
	p := newRPCProvider(t, node)

	fee, err := p.GetTxFee(context.Background(), rollup.FeeType{Kind: rollup.FeeTransfer},
		common.HexToAddress("0xaa"), rollup.TokenSymbol("RBTC"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), fee.TotalFee().Uint64())
	assert.Equal(t, rollup.FeeTransfer, fee.Type().Kind)
}

func TestRPCGetTxFeeInvariantViolation(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodGetTxFee: `{"gasTxAmount":"1","gasPriceWei":"1","gasFee":"700","zkpFee":"300","totalFee":"999"}`,
	}}
	p := newRPCProvider(t, node)

	_, err := p.GetTxFee(context.Background(), rollup.FeeType{Kind: rollup.FeeTransfer},
		common.HexToAddress("0xaa"), rollup.TokenSymbol("RBTC"))
	assert.True(t, errors.Is(err, rollup.ErrMalformedResponse))
}

func TestRPCGetTxFeeMissingField(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodGetTxFee: `{"gasTxAmount":"1","gasPriceWei":"1","gasFee":"700","totalFee":"700"}`,
	}}
	p := newRPCProvider(t, node)

	_, err := p.GetTxFee(context.Background(), rollup.FeeType{Kind: rollup.FeeTransfer},
		common.HexToAddress("0xaa"), rollup.TokenSymbol("RBTC"))
	assert.True(t, errors.Is(err, rollup.ErrMissingRequiredField))
}

func TestRPCSendTx(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodTxSubmit: `"sync-tx:1111111111111111111111111111111111111111111111111111111111111111"`,
	}}
	p := newRPCProvider(t, node)

	hash, err := p.SendTx(context.Background(), rollup.Transfer{
		From: 1, To: 2, Amount: 5, Nonce: 3, Token: rollup.TokenSymbol("RBTC"),
		FromAddress: common.HexToAddress("0x01"), ToAddress: common.HexToAddress("0x02"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hashHex), hash)

	// Params: tx, null signature
	last := node.lastRequest()
	require.Len(t, last.Params, 2)
	assert.Nil(t, last.Params[1])
	tx := last.Params[0].(map[string]interface{})
	assert.Equal(t, "Transfer", tx["type"])
	assert.Equal(t, "5", tx["amount"])
	assert.EqualValues(t, 3, tx["nonce"])
}

func TestRPCSendTxsBatchCountMismatch(t *testing.T) {
	node := &fakeNode{results: map[string]string{
		methodSubmitTxsBatch: `["` + hashHex + `"]`,
	}}
	p := newRPCProvider(t, node)

	txs := []rollup.SignedTx{
		{Tx: rollup.Deposit{To: 1, Amount: 1, Token: rollup.TokenSymbol("RBTC")}},
		{Tx: rollup.Deposit{To: 2, Amount: 1, Token: rollup.TokenSymbol("RBTC")}},
	}
	_, err := p.SendTxsBatch(context.Background(), txs, nil)
	assert.True(t, errors.Is(err, rollup.ErrMalformedResponse))
}

func TestRPCErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		node *fakeNode
		want rollup.ErrorKind
	}{
		{
			name: "unknown token",
			node: &fakeNode{errors: map[string]rpc.ErrorObject{methodTokens: {Code: 101, Message: "Token not supported"}}},
			want: rollup.KindUnknownToken,
		},
		{
			name: "invalid params",
			node: &fakeNode{errors: map[string]rpc.ErrorObject{methodTokens: {Code: -32602, Message: "bad params"}}},
			want: rollup.KindIncorrectInput,
		},
		{
			name: "other node error",
			node: &fakeNode{errors: map[string]rpc.ErrorObject{methodTokens: {Code: 1, Message: "boom"}}},
			want: rollup.KindOther,
		},
		{
			name: "malformed result",
			node: &fakeNode{results: map[string]string{methodTokens: `[1,2,3]`}},
			want: rollup.KindMalformedResponse,
		},
		{
			name: "http failure",
			node: &fakeNode{status: http.StatusInternalServerError},
			want: rollup.KindNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newRPCProvider(t, tt.node)
			_, err := p.Tokens(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, rollup.KindOf(err), err.Error())
		})
	}
}

func TestRPCTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := rpc.DefaultClientConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 0
	p := NewRPC(rpc.NewHTTPClient(cfg), rollup.NetworkTestnet, nil)

	_, err := p.ContractAddress(context.Background())
	require.Error(t, err)
	assert.Equal(t, rollup.KindOperationTimeout, rollup.KindOf(err))
	assert.True(t, rollup.IsRetryable(err))
}

func TestRPCConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := rpc.DefaultClientConfig(url)
	cfg.MaxRetries = 0
	p := NewRPC(rpc.NewHTTPClient(cfg), rollup.NetworkTestnet, nil)

	_, err := p.Tokens(context.Background())
	assert.Equal(t, rollup.KindNetworkError, rollup.KindOf(err))
	assert.Equal(t, rollup.NetworkTestnet, p.Network())
}

func TestWireAmountDecoding(t *testing.T) {
	var a amount
	require.NoError(t, json.Unmarshal([]byte(`"115792089237316195423570985008687907853269984665640564039457584007913129639935"`), &a))
	assert.True(t, a.Eq(new(uint256.Int).SetAllOne()))

	require.NoError(t, json.Unmarshal([]byte(`42`), &a))
	assert.Equal(t, uint64(42), a.Uint64())

	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &a))
}

func TestOpen(t *testing.T) {
	p, err := Open(context.Background(), Config{Kind: KindLocal, Network: rollup.NetworkLocalhost})
	require.NoError(t, err)
	assert.Equal(t, rollup.NetworkLocalhost, p.Network())
	assert.NoError(t, p.Close())

	_, err = Open(context.Background(), Config{Kind: "grpc"})
	assert.Error(t, err)
}
