package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"norn/db"
	"norn/logx"
	"norn/types"
)

type AccountStore interface {
	Store(account *types.Account) error
	StoreBatch(accounts []*types.Account) error
	GetByAddr(addr string) (*types.Account, error)
	GetBatch(addrs []string) (map[string]*types.Account, error)
	ExistsByAddr(addr string) (bool, error)
	MustClose()
}

type GenericAccountStore struct {
	mu         sync.RWMutex
	dbProvider db.DatabaseProvider
}

func NewGenericAccountStore(dbProvider db.DatabaseProvider) (*GenericAccountStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericAccountStore{
		dbProvider: dbProvider,
	}, nil
}

func (as *GenericAccountStore) Store(account *types.Account) error {
	return as.StoreBatch([]*types.Account{account})
}

func (as *GenericAccountStore) StoreBatch(accounts []*types.Account) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	batch := as.dbProvider.Batch()
	for _, account := range accounts {
		accountData, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		batch.Put(as.getDbKey(account.Address), accountData)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write batch of accounts to database: %w", err)
	}
	return nil
}

// GetByAddr returns account instance from db, return both nil if not exist
func (as *GenericAccountStore) GetByAddr(addr string) (*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	data, err := as.dbProvider.Get(as.getDbKey(addr))
	if err != nil {
		return nil, fmt.Errorf("could not get account %s from db: %w", addr, err)
	}
	if data == nil {
		return nil, nil
	}

	var account types.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", addr, err)
	}
	return &account, nil
}

func (as *GenericAccountStore) GetBatch(addrs []string) (map[string]*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	keys := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		keys = append(keys, as.getDbKey(addr))
	}
	raw, err := as.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("could not get accounts from db: %w", err)
	}

	result := make(map[string]*types.Account, len(raw))
	for _, addr := range addrs {
		data, ok := raw[string(as.getDbKey(addr))]
		if !ok {
			continue
		}
		var account types.Account
		if err := json.Unmarshal(data, &account); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account %s: %w", addr, err)
		}
		result[addr] = &account
	}
	return result, nil
}

func (as *GenericAccountStore) ExistsByAddr(addr string) (bool, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.dbProvider.Has(as.getDbKey(addr))
}

func (as *GenericAccountStore) MustClose() {
	if err := as.dbProvider.Close(); err != nil {
		logx.Error("ACCOUNT_STORE", "failed to close provider: ", err)
	}
}

func (as *GenericAccountStore) getDbKey(addr string) []byte {
	return []byte(PrefixAccount + addr)
}
