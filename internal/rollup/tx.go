package rollup

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind tags the Transaction variants.
type TxKind string

const (
	TxKindDeposit  TxKind = "deposit"
	TxKindTransfer TxKind = "transfer"
)

// Transaction is a closed set of unsigned rollup operations: Deposit or Transfer.
type Transaction interface {
	// Kind returns the variant tag.
	Kind() TxKind
	// Account returns the account the transaction is attributed to.
	Account() AccountID
	// Value returns the transferred amount.
	Value() uint64

	isTransaction()
}

// Deposit credits an account from the base chain.
type Deposit struct {
	To        AccountID
	ToAddress common.Address
	Token     TokenLike
	Amount    uint64
}

func (Deposit) Kind() TxKind         { return TxKindDeposit }
func (d Deposit) Account() AccountID { return d.To }
func (d Deposit) Value() uint64      { return d.Amount }
func (Deposit) isTransaction()       {}

func (d Deposit) String() string {
	return fmt.Sprintf("deposit{to=%d amount=%d token=%s}", d.To, d.Amount, d.Token)
}

// Transfer moves balance between two rollup accounts.
type Transfer struct {
	From        AccountID
	FromAddress common.Address
	To          AccountID
	ToAddress   common.Address
	Token       TokenLike
	Amount      uint64
	Nonce       Nonce
}

func (Transfer) Kind() TxKind         { return TxKindTransfer }
func (t Transfer) Account() AccountID { return t.From }
func (t Transfer) Value() uint64      { return t.Amount }
func (Transfer) isTransaction()       {}

func (t Transfer) String() string {
	return fmt.Sprintf("transfer{from=%d to=%d amount=%d token=%s nonce=%d}",
		t.From, t.To, t.Amount, t.Token, t.Nonce)
}

// Signature is an optional auxiliary base-chain signature. Nil means absent.
type Signature []byte

// SignedTx pairs a transaction with its optional auxiliary signature.
type SignedTx struct {
	Tx        Transaction
	Signature Signature
}
