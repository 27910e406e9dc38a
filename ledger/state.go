package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"norn/transaction"
	"norn/types"
)

var ErrInvalidTransition = errors.New("invalid ledger transition")

// State is the account state derived from applying one fork's blocks in
// order. A State is owned by exactly one block hash and is never mutated
// after being committed; transitions clone first.
type State struct {
	accounts map[string]*types.Account
}

func NewState() *State {
	return &State{accounts: make(map[string]*types.Account)}
}

// Clone deep-copies the state so a child fork can diverge without touching
// its parent's snapshot.
func (s *State) Clone() *State {
	out := NewState()
	for addr, acc := range s.accounts {
		out.accounts[addr] = acc.Clone()
	}
	return out
}

// Account returns a copy of the account, nil if absent.
func (s *State) Account(addr string) *types.Account {
	acc, ok := s.accounts[addr]
	if !ok {
		return nil
	}
	return acc.Clone()
}

func (s *State) Balance(addr string) *uint256.Int {
	acc, ok := s.accounts[addr]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(acc.Balance)
}

func (s *State) Nonce(addr string) uint64 {
	acc, ok := s.accounts[addr]
	if !ok {
		return 0
	}
	return acc.Nonce
}

func (s *State) Len() int {
	return len(s.accounts)
}

// Accounts returns copies of every account, for persistence at finality.
func (s *State) Accounts() []*types.Account {
	out := make([]*types.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	return out
}

// CreditGenesis seeds an account balance. Only for genesis construction.
func (s *State) CreditGenesis(addr string, balance *uint256.Int) {
	s.accounts[addr] = &types.Account{
		Address: addr,
		Balance: new(uint256.Int).Set(balance),
		Nonce:   0,
	}
}

// applyTx mutates the (already cloned) state with one transfer. Nonces are
// strict so a transaction can never apply twice on the same fork.
func applyTx(s *State, tx *transaction.Transaction) error {
	sender, ok := s.accounts[tx.Sender]
	if !ok {
		return fmt.Errorf("%w: sender %s not found", ErrInvalidTransition, tx.Sender)
	}
	recipient, ok := s.accounts[tx.Recipient]
	if !ok {
		recipient = &types.Account{Address: tx.Recipient, Balance: uint256.NewInt(0), Nonce: 0}
		s.accounts[tx.Recipient] = recipient
	}

	amount := tx.Amount
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance for %s", ErrInvalidTransition, tx.Sender)
	}
	// Strict nonce validation to prevent duplicate transactions
	if tx.Nonce != sender.Nonce+1 {
		return fmt.Errorf("%w: invalid nonce for %s: expected %d, got %d",
			ErrInvalidTransition, tx.Sender, sender.Nonce+1, tx.Nonce)
	}
	sender.Balance.Sub(sender.Balance, amount)
	recipient.Balance.Add(recipient.Balance, amount)
	sender.Nonce = tx.Nonce
	return nil
}
