package provider

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/rpc"
)

// RPC is a Provider backed by a rollup node's JSON-RPC API.
type RPC struct {
	client  rpc.Client
	network rollup.Network
	logger  *slog.Logger
}

var _ rollup.Provider = (*RPC)(nil)

// NewRPC wraps client. network is reported verbatim by Network.
func NewRPC(client rpc.Client, network rollup.Network, logger *slog.Logger) *RPC {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPC{client: client, network: network, logger: logger}
}

// call invokes method and decodes the result into out.
func (p *RPC) call(ctx context.Context, method string, out any, params ...any) error {
	raw, err := p.client.Call(ctx, method, params...)
	if err != nil {
		return classify(method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rollup.Errorf(rollup.KindMalformedResponse, "%s: %v", method, err)
	}
	return nil
}

func (p *RPC) AccountInfo(ctx context.Context, address common.Address) (*rollup.AccountInfo, error) {
	var w wireAccountInfo
	if err := p.call(ctx, methodAccountInfo, &w, address); err != nil {
		return nil, err
	}
	info, err := w.decode()
	if err != nil {
		return nil, rollup.NewError(rollup.KindMalformedResponse, err.Error())
	}
	return info, nil
}

func (p *RPC) Tokens(ctx context.Context) (rollup.Tokens, error) {
	var w map[string]wireToken
	if err := p.call(ctx, methodTokens, &w); err != nil {
		return nil, err
	}
	tokens := make(rollup.Tokens, len(w))
	for symbol, t := range w {
		tok := rollup.NewToken(t.ID, t.Address, t.Symbol, t.Decimals, t.Kind)
		if tok.Kind == "" {
			tok.Kind = rollup.TokenKindERC20
		}
		tok.IsNFT = tok.IsNFT || t.IsNFT
		tokens[symbol] = tok
	}
	return tokens, nil
}

func (p *RPC) TxInfo(ctx context.Context, hash rollup.TxHash) (*rollup.TransactionInfo, error) {
	var w wireTxInfo
	if err := p.call(ctx, methodTxInfo, &w, formatTxHash(hash)); err != nil {
		return nil, err
	}
	info := &rollup.TransactionInfo{
		Executed: w.Executed,
		Success:  w.Success,
		Block:    w.Block.decode(),
	}
	if w.FailReason != nil {
		info.FailReason = *w.FailReason
	}
	return info, nil
}

func (p *RPC) GetTxFee(ctx context.Context, feeType rollup.FeeType, address common.Address, token rollup.TokenLike) (*rollup.Fee, error) {
	if token.IsZero() {
		return nil, rollup.NewError(rollup.KindMissingRequiredField, "token")
	}
	var w wireFee
	if err := p.call(ctx, methodGetTxFee, &w, feeType.String(), address, token); err != nil {
		return nil, err
	}
	return w.decode(feeType)
}

func (p *RPC) GetTxsBatchFee(ctx context.Context, feeTypes []rollup.FeeType, addresses []common.Address, token rollup.TokenLike) (*uint256.Int, error) {
	if len(feeTypes) != len(addresses) {
		return nil, rollup.Errorf(rollup.KindIncorrectInput, "%d fee types for %d addresses", len(feeTypes), len(addresses))
	}
	types := make([]string, len(feeTypes))
	for i, ft := range feeTypes {
		types[i] = ft.String()
	}

	var w wireBatchFee
	if err := p.call(ctx, methodGetTxsBatchFee, &w, types, addresses, token); err != nil {
		return nil, err
	}
	if w.TotalFee == nil {
		return nil, rollup.NewError(rollup.KindMissingRequiredField, "totalFee")
	}
	return w.TotalFee.value(), nil
}

func (p *RPC) EthOpInfo(ctx context.Context, serialID uint32) (*rollup.EthOpInfo, error) {
	var w wireEthOpInfo
	if err := p.call(ctx, methodEthOpInfo, &w, serialID); err != nil {
		return nil, err
	}
	return &rollup.EthOpInfo{Executed: w.Executed, Block: w.Block.decode()}, nil
}

func (p *RPC) GetEthTxForWithdrawal(ctx context.Context, withdrawalHash rollup.TxHash) (string, bool, error) {
	var w *string
	if err := p.call(ctx, methodEthTxWithdrawal, &w, formatTxHash(withdrawalHash)); err != nil {
		return "", false, err
	}
	if w == nil {
		return "", false, nil
	}
	return *w, true, nil
}

func (p *RPC) ContractAddress(ctx context.Context) (*rollup.ContractAddress, error) {
	var w wireContractAddress
	if err := p.call(ctx, methodContractAddress, &w); err != nil {
		return nil, err
	}
	return &rollup.ContractAddress{MainContract: w.MainContract, GovContract: w.GovContract}, nil
}

func (p *RPC) SendTx(ctx context.Context, tx rollup.Transaction, signature rollup.Signature) (rollup.TxHash, error) {
	wtx, err := encodeTx(tx)
	if err != nil {
		return rollup.TxHash{}, err
	}

	var raw string
	if err := p.call(ctx, methodTxSubmit, &raw, wtx, encodeSignature(signature)); err != nil {
		return rollup.TxHash{}, err
	}
	hash, err := parseTxHash(raw)
	if err != nil {
		return rollup.TxHash{}, rollup.NewError(rollup.KindMalformedResponse, err.Error())
	}
	return hash, nil
}

// SendTxsBatch submits txs in one node call. The node applies batches
// atomically; a response that does not carry exactly one hash per
// transaction is treated as malformed.
func (p *RPC) SendTxsBatch(ctx context.Context, txs []rollup.SignedTx, batchSignature rollup.Signature) ([]rollup.TxHash, error) {
	if len(txs) == 0 {
		return nil, rollup.NewError(rollup.KindIncorrectInput, "empty batch")
	}
	signed := make([]wireSignedTx, len(txs))
	for i, st := range txs {
		wtx, err := encodeTx(st.Tx)
		if err != nil {
			return nil, err
		}
		signed[i] = wireSignedTx{Tx: wtx, Signature: encodeSignature(st.Signature)}
	}

	var raw []string
	if err := p.call(ctx, methodSubmitTxsBatch, &raw, signed, encodeSignature(batchSignature)); err != nil {
		return nil, err
	}
	if len(raw) != len(txs) {
		return nil, rollup.Errorf(rollup.KindMalformedResponse, "batch returned %d hashes for %d transactions", len(raw), len(txs))
	}

	hashes := make([]rollup.TxHash, len(raw))
	for i, s := range raw {
		h, err := parseTxHash(s)
		if err != nil {
			return nil, rollup.NewError(rollup.KindMalformedResponse, err.Error())
		}
		hashes[i] = h
	}
	return hashes, nil
}

func (p *RPC) Network() rollup.Network {
	return p.network
}

// Close closes the underlying client.
func (p *RPC) Close() error {
	return p.client.Close()
}
