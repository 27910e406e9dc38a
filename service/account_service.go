package service

import (
	"norn/blockstore"
	"norn/ledger"
	"norn/types"
)

type AccountServiceImpl struct {
	ledg       *ledger.Ledger
	blockStore *blockstore.BlockStore
}

func NewAccountService(ld *ledger.Ledger, bs *blockstore.BlockStore) *AccountServiceImpl {
	return &AccountServiceImpl{ledg: ld, blockStore: bs}
}

// GetAccount returns the account at the current tip state, nil if unknown
func (s *AccountServiceImpl) GetAccount(addr string) (*types.Account, error) {
	tipHash, _ := s.blockStore.CurrentTip()
	state, ok := s.ledg.StateAt(tipHash)
	if !ok {
		return nil, nil
	}
	return s.ledg.GetAccount(state, addr)
}

func (s *AccountServiceImpl) GetCurrentNonce(addr string) (uint64, error) {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, nil
	}
	return acc.Nonce, nil
}
