package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"norn/block"
	"norn/events"
	"norn/ledger"
	"norn/logx"
	"norn/monitoring"
	"norn/store"
	"norn/transaction"
)

var (
	ErrMempoolFull      = errors.New("mempool is full")
	ErrDuplicateTx      = errors.New("transaction already known")
	ErrInvalidSignature = errors.New("invalid transaction signature")
	ErrStaleNonce       = errors.New("transaction nonce already used")
)

// ChainReader is the read-only view of the block store the mempool needs to
// follow tip changes.
type ChainReader interface {
	Block(h block.Hash) (*block.Block, error)
	IsAncestor(anc, desc block.Hash) bool
}

// StateReader resolves the materialized ledger state at a block hash.
type StateReader interface {
	StateAt(h block.Hash) (*ledger.State, bool)
}

// Mempool is the deduplicated set of pending transactions, validated against
// the tip's ledger state. It registers as a tip-change handler so inclusion
// and reorgs keep the pool consistent with the canonical chain.
type Mempool struct {
	mu     sync.Mutex
	maxTxs int
	txs    map[string]*transaction.Transaction
	order  []string

	chain       ChainReader
	states      StateReader
	txMetaStore store.TxMetaStore
	eventRouter *events.EventRouter
}

func NewMempool(maxTxs int, chain ChainReader, states StateReader, txMetaStore store.TxMetaStore, eventRouter *events.EventRouter) *Mempool {
	if maxTxs <= 0 {
		maxTxs = 10000
	}
	return &Mempool{
		maxTxs:      maxTxs,
		txs:         make(map[string]*transaction.Transaction),
		chain:       chain,
		states:      states,
		txMetaStore: txMetaStore,
		eventRouter: eventRouter,
	}
}

// Add admits a transaction after signature, dedup and nonce checks against
// the given tip state. Returns the transaction hash on success.
func (m *Mempool) Add(tx *transaction.Transaction, tipState *ledger.State) (string, error) {
	if !tx.Verify() {
		monitoring.RecordRejectedTx(monitoring.TxInvalidSignature)
		return "", ErrInvalidSignature
	}
	txHash := tx.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[txHash]; ok {
		monitoring.RecordRejectedTx(monitoring.TxDuplicated)
		return "", ErrDuplicateTx
	}
	if m.txMetaStore != nil {
		meta, err := m.txMetaStore.GetByHash(txHash)
		if err == nil && meta != nil {
			monitoring.RecordRejectedTx(monitoring.TxDuplicated)
			return "", ErrDuplicateTx
		}
	}
	if tipState != nil && tx.Nonce <= tipState.Nonce(tx.Sender) {
		monitoring.RecordRejectedTx(monitoring.TxInvalidNonce)
		return "", fmt.Errorf("%w: nonce %d, account at %d", ErrStaleNonce, tx.Nonce, tipState.Nonce(tx.Sender))
	}
	if len(m.txs) >= m.maxTxs {
		monitoring.RecordRejectedTx(monitoring.TxMempoolFull)
		return "", ErrMempoolFull
	}

	m.txs[txHash] = tx
	m.order = append(m.order, txHash)
	monitoring.SetMempoolSize(len(m.txs))

	if m.eventRouter != nil {
		m.eventRouter.PublishTransactionEvent(events.NewTransactionAddedToMempool(txHash, tx))
	}
	return txHash, nil
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// Has reports whether the hash is pending.
func (m *Mempool) Has(txHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.txs[txHash]
	return ok
}

// PullBatch returns up to max transactions valid against the given ledger
// snapshot, in admission order with per-sender nonce sequencing and balance
// tracking. The pool is not modified: removal happens when the containing
// block is appended.
func (m *Mempool) PullBatch(max int, state *ledger.State) []*transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txs) == 0 || max <= 0 {
		return nil
	}

	expectedNonce := make(map[string]uint64)
	remaining := make(map[string]*uint256.Int)
	batch := make([]*transaction.Transaction, 0, max)

	for _, txHash := range m.order {
		if len(batch) >= max {
			break
		}
		tx, ok := m.txs[txHash]
		if !ok {
			continue
		}
		next, seen := expectedNonce[tx.Sender]
		if !seen {
			next = state.Nonce(tx.Sender) + 1
		}
		if tx.Nonce != next {
			continue
		}
		bal, seen := remaining[tx.Sender]
		if !seen {
			bal = state.Balance(tx.Sender)
		}
		amount := tx.Amount
		if amount == nil {
			amount = uint256.NewInt(0)
		}
		if bal.Cmp(amount) < 0 {
			continue
		}
		remaining[tx.Sender] = new(uint256.Int).Sub(bal, amount)
		expectedNonce[tx.Sender] = next + 1
		batch = append(batch, tx)
	}
	return batch
}

// HandleTipChange keeps the pool consistent with the canonical chain. Runs
// synchronously from the pipeline committer, in tip-change order.
func (m *Mempool) HandleTipChange(ev *events.TipChanged) {
	newState, ok := m.states.StateAt(ev.NewTip)
	if !ok {
		return
	}

	if ev.IsReorg {
		m.requeueAbandoned(ev)
	}
	m.removeCanonical(ev)
	m.dropStale(newState)
	monitoring.SetMempoolSize(m.Len())
}

// removeCanonical drops transactions included on the new canonical segment.
func (m *Mempool) removeCanonical(ev *events.TipChanged) {
	included := make(map[string]struct{})
	cur := ev.NewTip
	for cur != ev.PrevTip {
		blk, err := m.chain.Block(cur)
		if err != nil {
			break
		}
		for _, h := range blk.TxHashes() {
			included[h] = struct{}{}
		}
		if ev.IsReorg && m.chain.IsAncestor(cur, ev.PrevTip) {
			break
		}
		if blk.Height == 0 {
			break
		}
		cur = blk.ParentHash
	}
	if len(included) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for h := range included {
		delete(m.txs, h)
	}
	m.compactOrderLocked()
}

// requeueAbandoned walks the abandoned branch and re-admits its transactions,
// since anything derived from that fork is no longer on chain.
func (m *Mempool) requeueAbandoned(ev *events.TipChanged) {
	var abandoned []*transaction.Transaction
	cur := ev.PrevTip
	for !m.chain.IsAncestor(cur, ev.NewTip) {
		blk, err := m.chain.Block(cur)
		if err != nil {
			break
		}
		abandoned = append(abandoned, blk.Txs...)
		if blk.Height == 0 {
			break
		}
		cur = blk.ParentHash
	}
	if len(abandoned) == 0 {
		return
	}
	logx.Info("MEMPOOL", fmt.Sprintf("Requeueing %d txs from abandoned fork", len(abandoned)))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range abandoned {
		txHash := tx.Hash()
		if _, ok := m.txs[txHash]; ok {
			continue
		}
		if len(m.txs) >= m.maxTxs {
			break
		}
		m.txs[txHash] = tx
		m.order = append(m.order, txHash)
	}
}

// dropStale evicts transactions that can no longer apply on top of the new
// tip state (nonce already consumed).
func (m *Mempool) dropStale(state *ledger.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for txHash, tx := range m.txs {
		if tx.Nonce <= state.Nonce(tx.Sender) {
			delete(m.txs, txHash)
		}
	}
	m.compactOrderLocked()
}

func (m *Mempool) compactOrderLocked() {
	kept := m.order[:0]
	for _, h := range m.order {
		if _, ok := m.txs[h]; ok {
			kept = append(kept, h)
		}
	}
	m.order = kept
}
