package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"maps"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// LocalConfig configures the in-memory node.
type LocalConfig struct {
	Network rollup.Network
	// Tokens overrides the default token list.
	Tokens rollup.Tokens
	// EnforceBalances rejects transfers exceeding the sender's balance.
	EnforceBalances bool
	// MaxLatency adds a uniform random delay in [0, MaxLatency] to every call.
	MaxLatency time.Duration
	Logger     *slog.Logger
}

// DefaultTokens is the token list served by the local node.
func DefaultTokens() rollup.Tokens {
	return rollup.Tokens{
		"RBTC": rollup.NewToken(0, common.Address{}, "RBTC", 18, rollup.TokenKindERC20),
		"RDOC": rollup.NewToken(1, common.HexToAddress("0x2d919f19d4892381d58edebeca66d5642cef1a1f"), "RDOC", 18, rollup.TokenKindERC20),
		"RIF":  rollup.NewToken(2, common.HexToAddress("0x2acc95758f8b5f583470ba265eb685a8f45fc9d5"), "RIF", 18, rollup.TokenKindERC20),
	}
}

// Gas schedule used to price operations.
var gasByFeeKind = map[rollup.FeeKind]uint64{
	rollup.FeeTransfer:        350,
	rollup.FeeTransferToNew:   1500,
	rollup.FeeWithdraw:        10000,
	rollup.FeeFastWithdraw:    45000,
	rollup.FeeChangePubKey:    8000,
	rollup.FeeMintNFT:         2000,
	rollup.FeeWithdrawNFT:     12000,
	rollup.FeeFastWithdrawNFT: 50000,
}

const (
	localGasPriceWei = 1_000_000_000
	localZkpFee      = 1_000_000
)

// localAccount tracks every nonce it has spent. Concurrent senders may land
// nonce n after n+1, so only reuse is rejected; nonce is one past the
// highest spent.
type localAccount struct {
	id       rollup.AccountID
	nonce    rollup.Nonce
	spent    map[rollup.Nonce]struct{}
	balances map[string]*uint256.Int
}

func newLocalAccount(id rollup.AccountID) *localAccount {
	return &localAccount{
		id:       id,
		spent:    make(map[rollup.Nonce]struct{}),
		balances: make(map[string]*uint256.Int),
	}
}

func (a *localAccount) clone() *localAccount {
	c := &localAccount{
		id:       a.id,
		nonce:    a.nonce,
		spent:    maps.Clone(a.spent),
		balances: make(map[string]*uint256.Int, len(a.balances)),
	}
	for k, v := range a.balances {
		c.balances[k] = v.Clone()
	}
	return c
}

func (a *localAccount) spend(n rollup.Nonce) {
	a.spent[n] = struct{}{}
	a.nonce = max(a.nonce, n+1)
}

type localTx struct {
	block   int64
	success bool
	reason  string
}

// Local is an in-memory rollup node. Every accepted submission seals its own
// block; blocks are verified once a later block exists. It is safe for
// concurrent use.
type Local struct {
	cfg    LocalConfig
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[common.Address]*localAccount
	nextID   rollup.AccountID
	txs      map[rollup.TxHash]*localTx
	block    int64
	ethOps   []int64 // block of each priority op, by serial id
	seq      uint64
	rng      *rand.Rand
}

var _ rollup.Provider = (*Local)(nil)

// NewLocal creates an empty node.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.Network == "" {
		cfg.Network = rollup.NetworkLocalhost
	}
	if cfg.Tokens == nil {
		cfg.Tokens = DefaultTokens()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		cfg:      cfg,
		logger:   logger,
		accounts: make(map[common.Address]*localAccount),
		txs:      make(map[rollup.TxHash]*localTx),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// delay simulates network latency.
func (l *Local) delay(ctx context.Context) error {
	if l.cfg.MaxLatency <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	d := time.Duration(l.rng.Int64N(int64(l.cfg.MaxLatency) + 1))
	l.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return rollup.NewError(rollup.KindOperationTimeout, ctx.Err().Error())
	case <-timer.C:
		return nil
	}
}

func (l *Local) AccountInfo(ctx context.Context, address common.Address) (*rollup.AccountInfo, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	if address == (common.Address{}) {
		return nil, rollup.NewError(rollup.KindIncorrectAddress, address.Hex())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	info := &rollup.AccountInfo{
		Address:    address,
		Depositing: map[string]rollup.DepositingFunds{},
		Committed:  rollup.AccountState{Balances: map[string]*uint256.Int{}},
		Verified:   rollup.AccountState{Balances: map[string]*uint256.Int{}},
	}
	acc, ok := l.accounts[address]
	if !ok {
		return info, nil
	}

	id := acc.id
	info.ID = &id
	info.Committed.Nonce = acc.nonce
	for token, bal := range acc.balances {
		info.Committed.Balances[token] = bal.Clone()
	}
	copy(info.Committed.PubKeyHash[:], crypto.Keccak256(address.Bytes())[:20])
	// Verification lags commitment by one block; report the committed view.
	info.Verified = info.Committed
	return info, nil
}

func (l *Local) Tokens(ctx context.Context) (rollup.Tokens, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	out := make(rollup.Tokens, len(l.cfg.Tokens))
	for k, v := range l.cfg.Tokens {
		out[k] = v
	}
	return out, nil
}

func (l *Local) TxInfo(ctx context.Context, hash rollup.TxHash) (*rollup.TransactionInfo, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return &rollup.TransactionInfo{}, nil
	}
	success := tx.success
	return &rollup.TransactionInfo{
		Executed:   true,
		Success:    &success,
		FailReason: tx.reason,
		Block: &rollup.BlockInfo{
			BlockNumber: tx.block,
			Committed:   true,
			Verified:    tx.block < l.block,
		},
	}, nil
}

func (l *Local) fee(feeType rollup.FeeType, token rollup.TokenLike) (*rollup.Fee, error) {
	if _, ok := l.cfg.Tokens.Resolve(token); !ok {
		return nil, rollup.NewError(rollup.KindUnknownToken, token.String())
	}
	gas, ok := gasByFeeKind[feeType.Kind]
	if !ok {
		return nil, rollup.Errorf(rollup.KindIncorrectInput, "unknown fee type %s", feeType)
	}

	gasAmount := uint256.NewInt(gas)
	gasPrice := uint256.NewInt(localGasPriceWei)
	gasFee := new(uint256.Int).Mul(gasAmount, gasPrice)
	zkpFee := uint256.NewInt(localZkpFee)
	total := new(uint256.Int).Add(gasFee, zkpFee)
	return rollup.NewFee(feeType, gasAmount, gasPrice, gasFee, zkpFee, total)
}

func (l *Local) GetTxFee(ctx context.Context, feeType rollup.FeeType, address common.Address, token rollup.TokenLike) (*rollup.Fee, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	if address == (common.Address{}) {
		return nil, rollup.NewError(rollup.KindIncorrectAddress, address.Hex())
	}
	return l.fee(feeType, token)
}

func (l *Local) GetTxsBatchFee(ctx context.Context, feeTypes []rollup.FeeType, addresses []common.Address, token rollup.TokenLike) (*uint256.Int, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	if len(feeTypes) != len(addresses) {
		return nil, rollup.Errorf(rollup.KindIncorrectInput, "%d fee types for %d addresses", len(feeTypes), len(addresses))
	}

	total := new(uint256.Int)
	for _, ft := range feeTypes {
		fee, err := l.fee(ft, token)
		if err != nil {
			return nil, err
		}
		total.Add(total, fee.TotalFee())
	}
	return total, nil
}

func (l *Local) EthOpInfo(ctx context.Context, serialID uint32) (*rollup.EthOpInfo, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if int(serialID) >= len(l.ethOps) {
		return &rollup.EthOpInfo{}, nil
	}
	block := l.ethOps[serialID]
	return &rollup.EthOpInfo{
		Executed: true,
		Block:    &rollup.BlockInfo{BlockNumber: block, Committed: true, Verified: block < l.block},
	}, nil
}

// GetEthTxForWithdrawal always reports no base-chain transaction; the local
// node does not process withdrawals.
func (l *Local) GetEthTxForWithdrawal(ctx context.Context, _ rollup.TxHash) (string, bool, error) {
	if err := l.delay(ctx); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func (l *Local) ContractAddress(ctx context.Context) (*rollup.ContractAddress, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	mainAddr := common.BytesToAddress(crypto.Keccak256([]byte(string(l.cfg.Network) + "/main")))
	gov := common.BytesToAddress(crypto.Keccak256([]byte(string(l.cfg.Network) + "/gov")))
	return &rollup.ContractAddress{MainContract: mainAddr.Hex(), GovContract: gov.Hex()}, nil
}

func (l *Local) SendTx(ctx context.Context, tx rollup.Transaction, _ rollup.Signature) (rollup.TxHash, error) {
	if err := l.delay(ctx); err != nil {
		return rollup.TxHash{}, err
	}

	payload, err := txPayload(tx)
	if err != nil {
		return rollup.TxHash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.apply(tx); err != nil {
		return rollup.TxHash{}, err
	}
	l.block++
	return l.record(payload), nil
}

// SendTxsBatch applies every transaction or none: touched accounts are
// snapshotted and restored if any transaction fails.
func (l *Local) SendTxsBatch(ctx context.Context, txs []rollup.SignedTx, _ rollup.Signature) ([]rollup.TxHash, error) {
	if err := l.delay(ctx); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, rollup.NewError(rollup.KindIncorrectInput, "empty batch")
	}

	payloads := make([][]byte, len(txs))
	for i, st := range txs {
		payload, err := txPayload(st.Tx)
		if err != nil {
			return nil, err
		}
		payloads[i] = payload
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	saved := make(map[common.Address]*localAccount, len(l.accounts))
	for addr, acc := range l.accounts {
		saved[addr] = acc.clone()
	}
	savedNextID, savedOps := l.nextID, len(l.ethOps)

	for i, st := range txs {
		if err := l.apply(st.Tx); err != nil {
			l.accounts, l.nextID, l.ethOps = saved, savedNextID, l.ethOps[:savedOps]
			l.logger.Debug("local batch rejected", slog.Int("index", i), slog.String("error", err.Error()))
			return nil, err
		}
	}

	l.block++
	hashes := make([]rollup.TxHash, len(txs))
	for i, payload := range payloads {
		hashes[i] = l.record(payload)
	}
	return hashes, nil
}

func (l *Local) Network() rollup.Network {
	return l.cfg.Network
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

// account returns the account at addr, creating it on first credit.
func (l *Local) account(addr common.Address, create bool) *localAccount {
	acc, ok := l.accounts[addr]
	if !ok && create {
		acc = newLocalAccount(l.nextID)
		l.nextID++
		l.accounts[addr] = acc
	}
	return acc
}

// apply validates and executes tx. Callers hold l.mu.
func (l *Local) apply(tx rollup.Transaction) error {
	switch t := tx.(type) {
	case rollup.Deposit:
		tok, ok := l.cfg.Tokens.Resolve(t.Token)
		if !ok {
			return rollup.NewError(rollup.KindUnknownToken, t.Token.String())
		}
		if t.ToAddress == (common.Address{}) {
			return rollup.NewError(rollup.KindIncorrectAddress, "deposit recipient")
		}
		acc := l.account(t.ToAddress, true)
		credit(acc, tok.Symbol, t.Amount)
		l.ethOps = append(l.ethOps, l.block+1)
		return nil

	case rollup.Transfer:
		tok, ok := l.cfg.Tokens.Resolve(t.Token)
		if !ok {
			return rollup.NewError(rollup.KindUnknownToken, t.Token.String())
		}
		if t.FromAddress == (common.Address{}) || t.ToAddress == (common.Address{}) {
			return rollup.NewError(rollup.KindIncorrectAddress, "transfer endpoint")
		}
		if t.FromAddress == t.ToAddress {
			return rollup.NewError(rollup.KindIncorrectInput, "transfer to self")
		}
		from := l.account(t.FromAddress, !l.cfg.EnforceBalances)
		if from == nil {
			return rollup.NewError(rollup.KindIncorrectInput, "sender account does not exist")
		}
		if _, used := from.spent[t.Nonce]; used {
			return rollup.Errorf(rollup.KindIncorrectInput, "nonce mismatch: %d already used", t.Nonce)
		}

		amt := uint256.NewInt(t.Amount)
		bal := from.balances[tok.Symbol]
		if bal == nil {
			bal = new(uint256.Int)
		}
		if l.cfg.EnforceBalances && bal.Lt(amt) {
			return rollup.Errorf(rollup.KindIncorrectInput, "not enough balance: %s < %s", bal.Dec(), amt.Dec())
		}
		if bal.Lt(amt) {
			bal = new(uint256.Int)
		} else {
			bal = new(uint256.Int).Sub(bal, amt)
		}
		from.balances[tok.Symbol] = bal
		from.spend(t.Nonce)

		credit(l.account(t.ToAddress, true), tok.Symbol, t.Amount)
		return nil

	case nil:
		return rollup.NewError(rollup.KindMissingRequiredField, "transaction")
	default:
		return rollup.Errorf(rollup.KindIncorrectInput, "unsupported transaction %T", tx)
	}
}

func credit(acc *localAccount, symbol string, amount uint64) {
	bal := acc.balances[symbol]
	if bal == nil {
		bal = new(uint256.Int)
	}
	acc.balances[symbol] = new(uint256.Int).Add(bal, uint256.NewInt(amount))
}

// txPayload is the wire encoding a transaction hash covers.
func txPayload(tx rollup.Transaction) ([]byte, error) {
	wtx, err := encodeTx(tx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(wtx)
	if err != nil {
		return nil, rollup.Errorf(rollup.KindIncorrectInput, "encode transaction: %v", err)
	}
	return payload, nil
}

// record hashes and stores an accepted transaction. Callers hold l.mu.
func (l *Local) record(payload []byte) rollup.TxHash {
	l.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.seq)

	hash := crypto.Keccak256Hash(payload, seq[:])

	l.txs[hash] = &localTx{block: l.block, success: true}
	return hash
}

// Stats reports the node's accepted transaction count and current block.
func (l *Local) Stats() (txs int, block int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs), l.block
}
