package types

const (
	TxStatusFailed  int32 = 0
	TxStatusSuccess int32 = 1
)

type TransactionMeta struct {
	TxHash    string `json:"tx_hash"`
	Slot      uint64 `json:"slot"`
	BlockHash string `json:"block_hash"`
	Status    int32  `json:"status"`
	Error     string `json:"error"`
}

func NewTxMeta(txHash string, slot uint64, blockHash string, status int32, err string) *TransactionMeta {
	return &TransactionMeta{
		TxHash:    txHash,
		Slot:      slot,
		BlockHash: blockHash,
		Status:    status,
		Error:     err,
	}
}
