// Package rollup defines the rollup domain model and the Provider contract
// used to query and submit against a rollup node.
package rollup

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountID identifies a simulated account within a run.
type AccountID uint32

// TokenID is the rollup-side identifier of a token.
type TokenID uint32

// Nonce is a per-account replay counter.
type Nonce uint32

// BlockNumber is a rollup block index.
type BlockNumber uint32

// TxHash identifies a submitted transaction.
type TxHash = common.Hash

// PubKeyHash is the hash of an account's rollup signing key.
type PubKeyHash [20]byte

// String returns the rollup textual form of the hash.
func (h PubKeyHash) String() string {
	return "sync:" + common.Bytes2Hex(h[:])
}

// TokenKind classifies tokens.
type TokenKind string

const (
	TokenKindERC20 TokenKind = "ERC20"
	TokenKindNFT   TokenKind = "NFT"
	TokenKindNone  TokenKind = "None"
)

// Token is a token supported by the rollup.
type Token struct {
	ID       TokenID        `json:"id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Kind     TokenKind      `json:"kind"`
	IsNFT    bool           `json:"is_nft"`
}

// NewToken creates a token, deriving IsNFT from kind.
func NewToken(id TokenID, address common.Address, symbol string, decimals uint8, kind TokenKind) Token {
	return Token{
		ID:       id,
		Address:  address,
		Symbol:   symbol,
		Decimals: decimals,
		Kind:     kind,
		IsNFT:    kind == TokenKindNFT,
	}
}

// Tokens maps symbol to token.
type Tokens map[string]Token

// Resolve finds the token referred to by t.
func (ts Tokens) Resolve(t TokenLike) (Token, bool) {
	if sym, ok := t.Symbol(); ok {
		tok, found := ts[sym]
		return tok, found
	}
	id, _ := t.ID()
	for _, tok := range ts {
		if tok.ID == id {
			return tok, true
		}
	}
	return Token{}, false
}

// TokenLike references a token either by symbol or by id.
type TokenLike struct {
	symbol string
	id     TokenID
	byID   bool
}

// TokenSymbol references a token by symbol.
func TokenSymbol(symbol string) TokenLike {
	return TokenLike{symbol: symbol}
}

// TokenByID references a token by its rollup id.
func TokenByID(id TokenID) TokenLike {
	return TokenLike{id: id, byID: true}
}

// Symbol returns the symbol, if this reference is by symbol.
func (t TokenLike) Symbol() (string, bool) {
	return t.symbol, !t.byID
}

// ID returns the token id, if this reference is by id.
func (t TokenLike) ID() (TokenID, bool) {
	return t.id, t.byID
}

// IsZero reports whether the reference is empty.
func (t TokenLike) IsZero() bool {
	return !t.byID && t.symbol == ""
}

func (t TokenLike) String() string {
	if t.byID {
		return strconv.FormatUint(uint64(t.id), 10)
	}
	return t.symbol
}

// MarshalJSON encodes ids as numbers and symbols as strings.
func (t TokenLike) MarshalJSON() ([]byte, error) {
	if t.byID {
		return json.Marshal(t.id)
	}
	return json.Marshal(t.symbol)
}

// UnmarshalJSON accepts either a number or a string.
func (t *TokenLike) UnmarshalJSON(data []byte) error {
	var id TokenID
	if err := json.Unmarshal(data, &id); err == nil {
		*t = TokenByID(id)
		return nil
	}
	var sym string
	if err := json.Unmarshal(data, &sym); err != nil {
		return fmt.Errorf("token must be a symbol or an id: %w", err)
	}
	*t = TokenSymbol(sym)
	return nil
}

// AccountState is a snapshot of an account at a given confirmation level.
type AccountState struct {
	Balances   map[string]*uint256.Int
	Nonce      Nonce
	PubKeyHash PubKeyHash
}

// DepositingFunds is an in-flight deposit.
type DepositingFunds struct {
	Amount              *uint256.Int
	ExpectedAcceptBlock uint64
}

// AccountInfo is the provider's view of an account.
type AccountInfo struct {
	Address    common.Address
	ID         *AccountID // nil until the account exists on the rollup
	Depositing map[string]DepositingFunds
	Committed  AccountState
	Verified   AccountState
}

// BlockInfo describes the block a transaction landed in.
type BlockInfo struct {
	BlockNumber int64
	Committed   bool
	Verified    bool
}

// TransactionInfo is the execution status of a rollup transaction.
type TransactionInfo struct {
	Executed   bool
	Success    *bool
	FailReason string
	Block      *BlockInfo
}

// IsVerified reports whether the transaction is executed in a verified block.
func (t *TransactionInfo) IsVerified() bool {
	return t.Executed && t.Block != nil && t.Block.Verified
}

// EthOpInfo is the status of a priority (base-chain) operation.
type EthOpInfo struct {
	Executed bool
	Block    *BlockInfo
}

// IsVerified reports whether the operation is executed in a verified block.
func (e *EthOpInfo) IsVerified() bool {
	return e.Executed && e.Block != nil && e.Block.Verified
}

// ContractAddress holds the base-chain contracts of the rollup.
type ContractAddress struct {
	MainContract string
	GovContract  string
}
