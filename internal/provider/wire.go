package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// JSON-RPC method names exposed by the rollup node.
const (
	methodAccountInfo     = "account_info"
	methodTokens          = "tokens"
	methodTxInfo          = "tx_info"
	methodGetTxFee        = "get_tx_fee"
	methodGetTxsBatchFee  = "get_txs_batch_fee_in_wei"
	methodEthOpInfo       = "ethop_info"
	methodEthTxWithdrawal = "get_eth_tx_for_withdrawal"
	methodContractAddress = "contract_address"
	methodTxSubmit        = "tx_submit"
	methodSubmitTxsBatch  = "submit_txs_batch"

	txHashPrefix = "sync-tx:"
)

// amount is a decimal-string encoded unsigned integer.
type amount struct {
	uint256.Int
}

func newAmount(v *uint256.Int) *amount {
	if v == nil {
		return nil
	}
	return &amount{Int: *v}
}

func (a amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Dec())
}

func (a *amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Some nodes send small values as bare numbers.
		s = string(data)
	}
	if err := a.SetFromDecimal(s); err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return nil
}

func (a *amount) value() *uint256.Int {
	if a == nil {
		return nil
	}
	v := a.Int
	return &v
}

type wireAccountState struct {
	Balances   map[string]*amount `json:"balances"`
	Nonce      rollup.Nonce       `json:"nonce"`
	PubKeyHash string             `json:"pubKeyHash"`
}

func (s wireAccountState) decode() (rollup.AccountState, error) {
	st := rollup.AccountState{
		Balances: make(map[string]*uint256.Int, len(s.Balances)),
		Nonce:    s.Nonce,
	}
	for token, bal := range s.Balances {
		if bal == nil {
			return st, fmt.Errorf("balance for %s is null", token)
		}
		st.Balances[token] = bal.value()
	}
	if s.PubKeyHash != "" {
		raw := common.FromHex(strings.TrimPrefix(s.PubKeyHash, "sync:"))
		if len(raw) != len(st.PubKeyHash) {
			return st, fmt.Errorf("pubKeyHash has %d bytes", len(raw))
		}
		copy(st.PubKeyHash[:], raw)
	}
	return st, nil
}

func encodeAccountState(st rollup.AccountState) wireAccountState {
	w := wireAccountState{
		Balances:   make(map[string]*amount, len(st.Balances)),
		Nonce:      st.Nonce,
		PubKeyHash: st.PubKeyHash.String(),
	}
	for token, bal := range st.Balances {
		w.Balances[token] = newAmount(bal)
	}
	return w
}

type wireDepositing struct {
	Amount              *amount `json:"amount"`
	ExpectedAcceptBlock uint64  `json:"expectedAcceptBlock"`
}

type wireAccountInfo struct {
	Address    common.Address    `json:"address"`
	ID         *rollup.AccountID `json:"id"`
	Depositing struct {
		Balances map[string]wireDepositing `json:"balances"`
	} `json:"depositing"`
	Committed wireAccountState `json:"committed"`
	Verified  wireAccountState `json:"verified"`
}

func (w wireAccountInfo) decode() (*rollup.AccountInfo, error) {
	committed, err := w.Committed.decode()
	if err != nil {
		return nil, fmt.Errorf("committed: %w", err)
	}
	verified, err := w.Verified.decode()
	if err != nil {
		return nil, fmt.Errorf("verified: %w", err)
	}
	info := &rollup.AccountInfo{
		Address:    w.Address,
		ID:         w.ID,
		Depositing: make(map[string]rollup.DepositingFunds, len(w.Depositing.Balances)),
		Committed:  committed,
		Verified:   verified,
	}
	for token, d := range w.Depositing.Balances {
		if d.Amount == nil {
			return nil, fmt.Errorf("depositing amount for %s is null", token)
		}
		info.Depositing[token] = rollup.DepositingFunds{
			Amount:              d.Amount.value(),
			ExpectedAcceptBlock: d.ExpectedAcceptBlock,
		}
	}
	return info, nil
}

type wireBlock struct {
	BlockNumber int64 `json:"blockNumber"`
	Committed   bool  `json:"committed"`
	Verified    bool  `json:"verified"`
}

func (b *wireBlock) decode() *rollup.BlockInfo {
	if b == nil {
		return nil
	}
	return &rollup.BlockInfo{BlockNumber: b.BlockNumber, Committed: b.Committed, Verified: b.Verified}
}

type wireTxInfo struct {
	Executed   bool       `json:"executed"`
	Success    *bool      `json:"success"`
	FailReason *string    `json:"failReason"`
	Block      *wireBlock `json:"block"`
}

type wireEthOpInfo struct {
	Executed bool       `json:"executed"`
	Block    *wireBlock `json:"block"`
}

type wireFee struct {
	FeeType     string  `json:"feeType"`
	GasTxAmount *amount `json:"gasTxAmount"`
	GasPriceWei *amount `json:"gasPriceWei"`
	GasFee      *amount `json:"gasFee"`
	ZkpFee      *amount `json:"zkpFee"`
	TotalFee    *amount `json:"totalFee"`
}

// decode builds a Fee, reporting absent quantities as MissingRequiredField.
func (w wireFee) decode(requested rollup.FeeType) (*rollup.Fee, error) {
	ft := requested
	if w.FeeType != "" {
		parsed, err := rollup.ParseFeeType(w.FeeType)
		if err != nil {
			return nil, rollup.NewError(rollup.KindMalformedResponse, err.Error())
		}
		ft = parsed
	}
	return rollup.NewFee(ft,
		w.GasTxAmount.value(), w.GasPriceWei.value(),
		w.GasFee.value(), w.ZkpFee.value(), w.TotalFee.value())
}

type wireBatchFee struct {
	TotalFee *amount `json:"totalFee"`
}

type wireToken struct {
	ID       rollup.TokenID   `json:"id"`
	Address  common.Address   `json:"address"`
	Symbol   string           `json:"symbol"`
	Decimals uint8            `json:"decimals"`
	Kind     rollup.TokenKind `json:"kind"`
	IsNFT    bool             `json:"is_nft"`
}

type wireContractAddress struct {
	MainContract string `json:"mainContract"`
	GovContract  string `json:"govContract"`
}

// wireTx is the submission encoding of a Transaction.
type wireTx struct {
	Type      string           `json:"type"`
	AccountID rollup.AccountID `json:"accountId"`
	From      *common.Address  `json:"from,omitempty"`
	To        common.Address   `json:"to"`
	ToID      rollup.AccountID `json:"toId"`
	Token     rollup.TokenLike `json:"token"`
	Amount    string           `json:"amount"`
	Nonce     *rollup.Nonce    `json:"nonce,omitempty"`
}

func encodeTx(tx rollup.Transaction) (wireTx, error) {
	switch t := tx.(type) {
	case rollup.Deposit:
		return wireTx{
			Type:      "Deposit",
			AccountID: t.To,
			To:        t.ToAddress,
			ToID:      t.To,
			Token:     t.Token,
			Amount:    fmt.Sprint(t.Amount),
		}, nil
	case rollup.Transfer:
		from, nonce := t.FromAddress, t.Nonce
		return wireTx{
			Type:      "Transfer",
			AccountID: t.From,
			From:      &from,
			To:        t.ToAddress,
			ToID:      t.To,
			Token:     t.Token,
			Amount:    fmt.Sprint(t.Amount),
			Nonce:     &nonce,
		}, nil
	case nil:
		return wireTx{}, rollup.NewError(rollup.KindMissingRequiredField, "transaction")
	default:
		return wireTx{}, rollup.Errorf(rollup.KindIncorrectInput, "unsupported transaction %T", tx)
	}
}

type wireSignedTx struct {
	Tx        wireTx  `json:"tx"`
	Signature *string `json:"signature"`
}

func encodeSignature(sig rollup.Signature) *string {
	if sig == nil {
		return nil
	}
	s := "0x" + common.Bytes2Hex(sig)
	return &s
}

// parseTxHash accepts "sync-tx:<hex>" or plain hex.
func parseTxHash(s string) (rollup.TxHash, error) {
	raw := strings.TrimPrefix(s, txHashPrefix)
	raw = strings.TrimPrefix(raw, "0x")
	b := common.FromHex(raw)
	if len(b) != common.HashLength {
		return rollup.TxHash{}, fmt.Errorf("invalid tx hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func formatTxHash(h rollup.TxHash) string {
	return txHashPrefix + common.Bytes2Hex(h[:])
}
