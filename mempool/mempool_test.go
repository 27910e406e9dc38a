package mempool

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norn/block"
	"norn/blockstore"
	"norn/common"
	"norn/db"
	"norn/events"
	"norn/ledger"
	"norn/store"
	"norn/transaction"
	"norn/types"
)

type poolHarness struct {
	pool     *Mempool
	store    *blockstore.BlockStore
	ledg     *ledger.Ledger
	txMetas  store.TxMetaStore
	genesis  *block.Block
	sender   ed25519.PrivateKey
	senderID string
}

func newPoolHarness(t *testing.T, maxTxs int) *poolHarness {
	t.Helper()

	senderPub, senderPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderID := common.EncodeBytesToBase58(senderPub)

	provider := db.NewMemoryProvider()
	accounts, err := store.NewGenericAccountStore(provider)
	require.NoError(t, err)
	txMetas, err := store.NewGenericTxMetaStore(provider)
	require.NoError(t, err)

	ledg := ledger.NewLedger(accounts, txMetas, nil)
	genesisBlk := block.GenesisBlock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	genesisState := ledger.NewState()
	genesisState.CreditGenesis(senderID, uint256.NewInt(100))
	ledg.InitGenesis(genesisBlk.BlockHash, genesisState)

	bs, err := blockstore.NewBlockStore(provider, blockstore.ChainLengthWeight, genesisBlk)
	require.NoError(t, err)

	pool := NewMempool(maxTxs, bs, ledg, txMetas, nil)
	return &poolHarness{
		pool:     pool,
		store:    bs,
		ledg:     ledg,
		txMetas:  txMetas,
		genesis:  genesisBlk,
		sender:   senderPriv,
		senderID: senderID,
	}
}

func (h *poolHarness) transfer(amount, nonce uint64) *transaction.Transaction {
	tx := &transaction.Transaction{
		Type:      transaction.TxTypeTransfer,
		Sender:    h.senderID,
		Recipient: "bob",
		Amount:    uint256.NewInt(amount),
		Timestamp: uint64(time.Now().UnixNano()),
		Nonce:     nonce,
	}
	tx.Sign(h.sender)
	return tx
}

func (h *poolHarness) tipState(t *testing.T) *ledger.State {
	t.Helper()
	st, ok := h.ledg.StateAt(h.genesis.BlockHash)
	require.True(t, ok)
	return st
}

// appendBlock applies and commits a block extending the given parent.
func (h *poolHarness) appendBlock(t *testing.T, parent *block.Block, absSlot uint64, txs []*transaction.Transaction) *block.Block {
	t.Helper()
	blk := block.AssembleBlock(absSlot/10, absSlot%10, parent.Height+1, parent.BlockHash, "leader", txs)
	parentState, ok := h.ledg.StateAt(parent.BlockHash)
	require.True(t, ok)
	next, err := h.ledg.ApplyBlock(parentState, blk)
	require.NoError(t, err)
	require.NoError(t, h.store.Append(blk))
	h.ledg.Commit(blk, next)
	return blk
}

func TestAddAndHas(t *testing.T) {
	h := newPoolHarness(t, 10)

	tx := h.transfer(10, 1)
	hash, err := h.pool.Add(tx, h.tipState(t))
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	assert.True(t, h.pool.Has(hash))
	assert.Equal(t, 1, h.pool.Len())
}

func TestAddRejectsBadSignature(t *testing.T) {
	h := newPoolHarness(t, 10)

	tx := h.transfer(10, 1)
	tx.Amount = uint256.NewInt(99) // changes the signed payload

	_, err := h.pool.Add(tx, h.tipState(t))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, h.pool.Len())
}

func TestAddRejectsDuplicate(t *testing.T) {
	h := newPoolHarness(t, 10)

	tx := h.transfer(10, 1)
	_, err := h.pool.Add(tx, h.tipState(t))
	require.NoError(t, err)

	_, err = h.pool.Add(tx, h.tipState(t))
	assert.ErrorIs(t, err, ErrDuplicateTx)
}

func TestAddRejectsAlreadyIncluded(t *testing.T) {
	h := newPoolHarness(t, 10)

	tx := h.transfer(10, 1)
	meta := types.NewTxMeta(tx.Hash(), 3, "somehash", types.TxStatusSuccess, "")
	require.NoError(t, h.txMetas.Store(meta))

	_, err := h.pool.Add(tx, h.tipState(t))
	assert.ErrorIs(t, err, ErrDuplicateTx)
}

func TestAddRejectsConsumedNonce(t *testing.T) {
	h := newPoolHarness(t, 10)

	st := ledger.NewState()
	st.CreditGenesis(h.senderID, uint256.NewInt(100))
	used := h.transfer(1, 1)
	blk := block.AssembleBlock(0, 1, 1, h.genesis.BlockHash, "leader", []*transaction.Transaction{used})
	applied, err := h.ledg.ApplyBlock(st, blk)
	require.NoError(t, err)

	replay := h.transfer(2, 1)
	_, err = h.pool.Add(replay, applied)
	assert.ErrorIs(t, err, ErrStaleNonce)
}

func TestAddRejectsWhenFull(t *testing.T) {
	h := newPoolHarness(t, 2)

	_, err := h.pool.Add(h.transfer(1, 1), h.tipState(t))
	require.NoError(t, err)
	_, err = h.pool.Add(h.transfer(1, 2), h.tipState(t))
	require.NoError(t, err)

	_, err = h.pool.Add(h.transfer(1, 3), h.tipState(t))
	assert.ErrorIs(t, err, ErrMempoolFull)
	assert.Equal(t, 2, h.pool.Len())
}

func TestPullBatchSequencesNonces(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	tx1 := h.transfer(5, 1)
	tx2 := h.transfer(5, 2)
	tx4 := h.transfer(5, 4) // gap at 3

	for _, tx := range []*transaction.Transaction{tx2, tx1, tx4} {
		_, err := h.pool.Add(tx, st)
		require.NoError(t, err)
	}

	batch := h.pool.PullBatch(10, st)
	// Admission order is tx2, tx1, tx4: tx2 is skipped while nonce 1 is
	// outstanding, tx1 applies, tx4 can never follow 1 in this pass.
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(1), batch[0].Nonce)

	// The pool itself is untouched.
	assert.Equal(t, 3, h.pool.Len())
}

func TestPullBatchSequentialAdmissionOrder(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	for nonce := uint64(1); nonce <= 4; nonce++ {
		_, err := h.pool.Add(h.transfer(5, nonce), st)
		require.NoError(t, err)
	}

	batch := h.pool.PullBatch(10, st)
	require.Len(t, batch, 4)
	for i, tx := range batch {
		assert.Equal(t, uint64(i+1), tx.Nonce)
	}

	// Cap respected.
	capped := h.pool.PullBatch(2, st)
	assert.Len(t, capped, 2)
}

func TestPullBatchTracksSpendableBalance(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t) // 100 available

	_, err := h.pool.Add(h.transfer(60, 1), st)
	require.NoError(t, err)
	_, err = h.pool.Add(h.transfer(60, 2), st)
	require.NoError(t, err)
	_, err = h.pool.Add(h.transfer(30, 3), st)
	require.NoError(t, err)

	batch := h.pool.PullBatch(10, st)
	// 60 fits, the second 60 would overdraw; and with nonce 2 skipped the
	// nonce-3 transfer cannot follow either.
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(1), batch[0].Nonce)
}

func TestTipChangeRemovesIncludedTxs(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	tx1 := h.transfer(5, 1)
	tx2 := h.transfer(5, 2)
	_, err := h.pool.Add(tx1, st)
	require.NoError(t, err)
	_, err = h.pool.Add(tx2, st)
	require.NoError(t, err)

	blk := h.appendBlock(t, h.genesis, 1, []*transaction.Transaction{tx1, tx2})
	h.pool.HandleTipChange(events.NewTipChanged(blk.BlockHash, h.genesis.BlockHash, 1, false))

	assert.Equal(t, 0, h.pool.Len())
}

func TestTipChangeDropsStaleNonces(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	// Competing copy of the nonce-1 slot: a different transfer with the same
	// nonce stays pending while the first one lands on chain.
	onChain := h.transfer(5, 1)
	rival := h.transfer(7, 1)
	stillGood := h.transfer(5, 2)
	_, err := h.pool.Add(rival, st)
	require.NoError(t, err)
	_, err = h.pool.Add(stillGood, st)
	require.NoError(t, err)

	blk := h.appendBlock(t, h.genesis, 1, []*transaction.Transaction{onChain})
	h.pool.HandleTipChange(events.NewTipChanged(blk.BlockHash, h.genesis.BlockHash, 1, false))

	assert.False(t, h.pool.Has(rival.Hash()), "nonce consumed on chain")
	assert.True(t, h.pool.Has(stillGood.Hash()))
}

func TestReorgRequeuesAbandonedTxs(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	txA := h.transfer(5, 1)
	_, err := h.pool.Add(txA, st)
	require.NoError(t, err)

	// txA lands on fork A and leaves the pool.
	forkA := h.appendBlock(t, h.genesis, 1, []*transaction.Transaction{txA})
	h.pool.HandleTipChange(events.NewTipChanged(forkA.BlockHash, h.genesis.BlockHash, 1, false))
	require.Equal(t, 0, h.pool.Len())

	// Fork B overtakes without txA: the reorg returns it to the pool.
	forkB1 := h.appendBlock(t, h.genesis, 2, nil)
	forkB2 := h.appendBlock(t, forkB1, 3, nil)
	h.pool.HandleTipChange(events.NewTipChanged(forkB2.BlockHash, forkA.BlockHash, 2, true))

	assert.True(t, h.pool.Has(txA.Hash()), "abandoned tx is pending again")
	assert.Equal(t, 1, h.pool.Len())
}

func TestReorgDropsTxsIncludedOnBothForks(t *testing.T) {
	h := newPoolHarness(t, 10)
	st := h.tipState(t)

	shared := h.transfer(5, 1)
	_, err := h.pool.Add(shared, st)
	require.NoError(t, err)

	forkA := h.appendBlock(t, h.genesis, 1, []*transaction.Transaction{shared})
	h.pool.HandleTipChange(events.NewTipChanged(forkA.BlockHash, h.genesis.BlockHash, 1, false))

	// The winning fork also carries the transaction: it must not resurface.
	forkB1 := h.appendBlock(t, h.genesis, 2, []*transaction.Transaction{shared})
	forkB2 := h.appendBlock(t, forkB1, 3, nil)
	h.pool.HandleTipChange(events.NewTipChanged(forkB2.BlockHash, forkA.BlockHash, 2, true))

	assert.False(t, h.pool.Has(shared.Hash()))
	assert.Equal(t, 0, h.pool.Len())
}
