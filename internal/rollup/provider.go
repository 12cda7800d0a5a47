package rollup

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Provider is the capability set of a remote rollup node. Implementations
// choose their own transport; callers depend only on this interface.
// Failures are returned as *ClientError.
type Provider interface {
	// AccountInfo returns balances, nonce and pubkey hash for an address.
	AccountInfo(ctx context.Context, address common.Address) (*AccountInfo, error)

	// Tokens returns the tokens supported by the rollup, keyed by symbol.
	Tokens(ctx context.Context) (Tokens, error)

	// TxInfo returns the execution status of a transaction.
	TxInfo(ctx context.Context, hash TxHash) (*TransactionInfo, error)

	// GetTxFee returns the minimum fee to process one transaction.
	GetTxFee(ctx context.Context, feeType FeeType, address common.Address, token TokenLike) (*Fee, error)

	// GetTxsBatchFee returns the total minimum fee for a batch.
	GetTxsBatchFee(ctx context.Context, feeTypes []FeeType, addresses []common.Address, token TokenLike) (*uint256.Int, error)

	// EthOpInfo returns the status of a base-chain priority operation.
	EthOpInfo(ctx context.Context, serialID uint32) (*EthOpInfo, error)

	// GetEthTxForWithdrawal returns the base-chain tx hash of a withdrawal, if sent.
	GetEthTxForWithdrawal(ctx context.Context, withdrawalHash TxHash) (string, bool, error)

	// ContractAddress returns the rollup's base-chain contracts.
	ContractAddress(ctx context.Context) (*ContractAddress, error)

	// SendTx submits a transaction and returns its hash.
	SendTx(ctx context.Context, tx Transaction, signature Signature) (TxHash, error)

	// SendTxsBatch submits transactions atomically. Either every hash is
	// returned, in input order, or the call fails as a whole.
	SendTxsBatch(ctx context.Context, txs []SignedTx, batchSignature Signature) ([]TxHash, error)

	// Network identifies the network this provider talks to.
	Network() Network
}
