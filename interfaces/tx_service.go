package interfaces

import (
	"norn/transaction"
	"norn/types"
)

// TxService defines the transaction operations exposed at the node boundary
type TxService interface {
	// AddTx validates and admits a transaction to the mempool
	AddTx(tx *transaction.Transaction) (string, error)
	// GetTxMeta returns inclusion metadata for a transaction, nil if unknown
	GetTxMeta(txHash string) (*types.TransactionMeta, error)
	// PendingCount returns the number of pooled transactions
	PendingCount() int
}
