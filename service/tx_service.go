package service

import (
	"time"

	"norn/blockstore"
	"norn/ledger"
	"norn/mempool"
	"norn/store"
	"norn/transaction"
	"norn/types"
)

type TxServiceImpl struct {
	ledg        *ledger.Ledger
	pool        *mempool.Mempool
	blockStore  *blockstore.BlockStore
	txMetaStore store.TxMetaStore
}

func NewTxService(ld *ledger.Ledger, mp *mempool.Mempool, bs *blockstore.BlockStore, tms store.TxMetaStore) *TxServiceImpl {
	return &TxServiceImpl{ledg: ld, pool: mp, blockStore: bs, txMetaStore: tms}
}

func (s *TxServiceImpl) AddTx(tx *transaction.Transaction) (string, error) {
	// server-side timestamp
	tx.Timestamp = uint64(time.Now().UnixNano() / int64(time.Millisecond))

	tipHash, _ := s.blockStore.CurrentTip()
	tipState, ok := s.ledg.StateAt(tipHash)
	if !ok {
		tipState = ledger.NewState()
	}
	return s.pool.Add(tx, tipState)
}

func (s *TxServiceImpl) GetTxMeta(txHash string) (*types.TransactionMeta, error) {
	return s.txMetaStore.GetByHash(txHash)
}

func (s *TxServiceImpl) PendingCount() int {
	return s.pool.Len()
}
