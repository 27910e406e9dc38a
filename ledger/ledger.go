package ledger

import (
	"fmt"
	"sync"

	"norn/block"
	"norn/events"
	"norn/logx"
	"norn/store"
	"norn/types"
)

// Ledger holds one materialized State per appended block hash. States are
// produced by ApplyBlock and committed by the block pipeline; everyone else
// only reads snapshots.
type Ledger struct {
	mu           sync.RWMutex
	states       map[block.Hash]*State
	accountStore store.AccountStore
	txMetaStore  store.TxMetaStore
	eventRouter  *events.EventRouter
}

func NewLedger(accountStore store.AccountStore, txMetaStore store.TxMetaStore, eventRouter *events.EventRouter) *Ledger {
	return &Ledger{
		states:       make(map[block.Hash]*State),
		accountStore: accountStore,
		txMetaStore:  txMetaStore,
		eventRouter:  eventRouter,
	}
}

// InitGenesis registers the state derived from the genesis block.
func (l *Ledger) InitGenesis(genesisHash block.Hash, state *State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[genesisHash] = state
}

// StateAt returns the materialized state for a block hash.
func (l *Ledger) StateAt(hash block.Hash) (*State, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.states[hash]
	return st, ok
}

// ApplyBlock replays the block's transactions against the parent state and
// returns the resulting state. The parent state is never mutated; any
// invalid transaction fails the whole transition.
func (l *Ledger) ApplyBlock(parentState *State, b *block.Block) (*State, error) {
	next := parentState.Clone()
	for _, tx := range b.Txs {
		if err := applyTx(next, tx); err != nil {
			return nil, fmt.Errorf("tx %s: %w", tx.Hash(), err)
		}
	}
	return next, nil
}

// Commit stores the state for an appended block and records tx metadata.
// Called only from the pipeline committer, after the block is in the DAG.
func (l *Ledger) Commit(b *block.Block, state *State) {
	l.mu.Lock()
	l.states[b.BlockHash] = state
	l.mu.Unlock()

	if len(b.Txs) == 0 {
		return
	}
	txMetas := make([]*types.TransactionMeta, 0, len(b.Txs))
	for _, tx := range b.Txs {
		txHash := tx.Hash()
		txMetas = append(txMetas, types.NewTxMeta(txHash, b.Slot, b.BlockHash.Hex(), types.TxStatusSuccess, ""))
		if l.eventRouter != nil {
			l.eventRouter.PublishTransactionEvent(
				events.NewTransactionIncludedInBlock(txHash, b.Slot, b.BlockHash.Hex()))
		}
	}
	if err := l.txMetaStore.StoreBatch(txMetas); err != nil {
		logx.Error("LEDGER", fmt.Sprintf("Failed to store tx metas for block %s: %v", b.BlockHash.Short(), err))
	}
}

// Drop removes cached states for pruned blocks.
func (l *Ledger) Drop(hashes []block.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range hashes {
		delete(l.states, h)
	}
}

// Finalize flushes the state at a finalized block to the durable account
// store. Rollback below this point is considered impossible.
func (l *Ledger) Finalize(hash block.Hash) error {
	l.mu.RLock()
	state, ok := l.states[hash]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no state for finalized block %s", hash.Short())
	}
	if err := l.accountStore.StoreBatch(state.Accounts()); err != nil {
		return fmt.Errorf("failed to persist finalized accounts: %w", err)
	}
	logx.Info("LEDGER", fmt.Sprintf("Finalized state at block %s (%d accounts)", hash.Short(), state.Len()))
	return nil
}

// GetAccount reads an account from the given snapshot, falling back to the
// durable store for addresses untouched since finality.
func (l *Ledger) GetAccount(state *State, addr string) (*types.Account, error) {
	if acc := state.Account(addr); acc != nil {
		return acc, nil
	}
	return l.accountStore.GetByAddr(addr)
}

// CachedStates reports how many fork states are currently materialized.
func (l *Ledger) CachedStates() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.states)
}
