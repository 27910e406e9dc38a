package types

import (
	"github.com/holiman/uint256"
)

type Account struct {
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
	Nonce   uint64       `json:"nonce"`
}

// Clone returns an independent copy so per-fork ledger states never share
// mutable account structs.
func (a *Account) Clone() *Account {
	return &Account{
		Address: a.Address,
		Balance: new(uint256.Int).Set(a.Balance),
		Nonce:   a.Nonce,
	}
}
