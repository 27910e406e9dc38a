package store

import (
	"encoding/json"
	"fmt"

	"norn/db"
	"norn/logx"
	"norn/types"
)

// TxMetaStore persists per-transaction inclusion metadata so clients can ask
// what happened to a submitted transaction.
type TxMetaStore interface {
	Store(txMeta *types.TransactionMeta) error
	StoreBatch(txMetas []*types.TransactionMeta) error
	GetByHash(txHash string) (*types.TransactionMeta, error)
	GetBatch(txHashes []string) (map[string]*types.TransactionMeta, error)
	MustClose()
}

// GenericTxMetaStore provides transaction meta storage operations
type GenericTxMetaStore struct {
	dbProvider db.DatabaseProvider
}

// NewGenericTxMetaStore creates a new transaction meta store
func NewGenericTxMetaStore(dbProvider db.DatabaseProvider) (*GenericTxMetaStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericTxMetaStore{
		dbProvider: dbProvider,
	}, nil
}

// Store stores a transaction meta in the database
func (tms *GenericTxMetaStore) Store(txMeta *types.TransactionMeta) error {
	return tms.StoreBatch([]*types.TransactionMeta{txMeta})
}

// StoreBatch stores a batch of transaction metas in the database
func (tms *GenericTxMetaStore) StoreBatch(txMetas []*types.TransactionMeta) error {
	if len(txMetas) == 0 {
		return nil
	}

	batch := tms.dbProvider.Batch()
	for _, txMeta := range txMetas {
		data, err := json.Marshal(txMeta)
		if err != nil {
			return fmt.Errorf("failed to marshal transaction meta: %w", err)
		}
		batch.Put(tms.getDBKey(txMeta.TxHash), data)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write transaction meta to database: %w", err)
	}
	return nil
}

// GetByHash retrieves a transaction meta by its transaction hash, nil if absent
func (tms *GenericTxMetaStore) GetByHash(txHash string) (*types.TransactionMeta, error) {
	data, err := tms.dbProvider.Get(tms.getDBKey(txHash))
	if err != nil {
		return nil, fmt.Errorf("could not get transaction meta %s from db: %w", txHash, err)
	}
	if data == nil {
		return nil, nil
	}

	var txMeta types.TransactionMeta
	if err := json.Unmarshal(data, &txMeta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction meta %s: %w", txHash, err)
	}
	return &txMeta, nil
}

// GetBatch retrieves multiple transaction metas by their hashes
func (tms *GenericTxMetaStore) GetBatch(txHashes []string) (map[string]*types.TransactionMeta, error) {
	keys := make([][]byte, 0, len(txHashes))
	for _, h := range txHashes {
		keys = append(keys, tms.getDBKey(h))
	}
	raw, err := tms.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("could not get transaction metas from db: %w", err)
	}

	result := make(map[string]*types.TransactionMeta, len(raw))
	for _, h := range txHashes {
		data, ok := raw[string(tms.getDBKey(h))]
		if !ok {
			continue
		}
		var txMeta types.TransactionMeta
		if err := json.Unmarshal(data, &txMeta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction meta %s: %w", h, err)
		}
		result[h] = &txMeta
	}
	return result, nil
}

func (tms *GenericTxMetaStore) MustClose() {
	if err := tms.dbProvider.Close(); err != nil {
		logx.Error("TX_META_STORE", "failed to close provider: ", err)
	}
}

func (tms *GenericTxMetaStore) getDBKey(txHash string) []byte {
	return []byte(PrefixTxMeta + txHash)
}
