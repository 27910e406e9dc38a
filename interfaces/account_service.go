package interfaces

import (
	"norn/types"
)

// AccountService defines the account read operations exposed at the node boundary
type AccountService interface {
	// GetAccount returns the account at the current tip state, nil if unknown
	GetAccount(addr string) (*types.Account, error)
	// GetCurrentNonce returns the account nonce at the current tip state
	GetCurrentNonce(addr string) (uint64, error)
}
