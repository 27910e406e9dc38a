package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norn/block"
	"norn/blockstore"
	"norn/clock"
	"norn/common"
	"norn/db"
	"norn/events"
	"norn/ledger"
	"norn/mempool"
	"norn/pipeline"
	"norn/store"
	"norn/transaction"
	"norn/types"
)

type serviceHarness struct {
	tx       *TxServiceImpl
	acct     *AccountServiceImpl
	chain    *ChainServiceImpl
	pool     *mempool.Mempool
	store    *blockstore.BlockStore
	ledg     *ledger.Ledger
	txMetas  store.TxMetaStore
	clk      *clock.SlotClock
	genesis  *block.Block
	leader   ed25519.PrivateKey
	leaderID string
	sender   ed25519.PrivateKey
	senderID string
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	leaderPub, leaderPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderPub, senderPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	leaderID := common.EncodeBytesToBase58(leaderPub)
	senderID := common.EncodeBytesToBase58(senderPub)

	genesisTime := time.Now().Add(-30 * time.Second)
	clk, err := clock.NewSlotClock(genesisTime, time.Second, 10)
	require.NoError(t, err)

	provider := db.NewMemoryProvider()
	accounts, err := store.NewGenericAccountStore(provider)
	require.NoError(t, err)
	txMetas, err := store.NewGenericTxMetaStore(provider)
	require.NoError(t, err)

	router := events.NewEventRouter(events.NewEventBus())
	ledg := ledger.NewLedger(accounts, txMetas, router)
	genesisBlk := block.GenesisBlock(genesisTime)
	genesisState := ledger.NewState()
	genesisState.CreditGenesis(senderID, uint256.NewInt(1000))
	ledg.InitGenesis(genesisBlk.BlockHash, genesisState)

	bs, err := blockstore.NewBlockStore(provider, blockstore.ChainLengthWeight, genesisBlk)
	require.NoError(t, err)

	pipe := pipeline.NewPipeline(pipeline.DefaultConfig(), clk, bs, ledg, pipeline.Ed25519Verifier{}, router, nil)
	pipe.Start()
	t.Cleanup(pipe.Stop)

	pool := mempool.NewMempool(100, bs, ledg, txMetas, router)
	router.RegisterTipChangeHandler(pool)

	return &serviceHarness{
		tx:       NewTxService(ledg, pool, bs, txMetas),
		acct:     NewAccountService(ledg, bs),
		chain:    NewChainService(bs, pipe, clk, pool),
		pool:     pool,
		store:    bs,
		ledg:     ledg,
		txMetas:  txMetas,
		clk:      clk,
		genesis:  genesisBlk,
		leader:   leaderPriv,
		leaderID: leaderID,
		sender:   senderPriv,
		senderID: senderID,
	}
}

func (h *serviceHarness) signedTransfer(amount, nonce uint64) *transaction.Transaction {
	tx := &transaction.Transaction{
		Type:      transaction.TxTypeTransfer,
		Sender:    h.senderID,
		Recipient: "bob",
		Amount:    uint256.NewInt(amount),
		Nonce:     nonce,
	}
	tx.Sign(h.sender)
	return tx
}

func (h *serviceHarness) signedBlock(parent *block.Block, absSlot uint64, txs []*transaction.Transaction) *block.Block {
	epoch, slot := h.clk.Coords(absSlot)
	blk := block.AssembleBlock(epoch, slot, parent.Height+1, parent.BlockHash, h.leaderID, txs)
	blk.Sign(h.leader)
	return blk
}

func TestTxServiceAddTx(t *testing.T) {
	h := newServiceHarness(t)

	hash, err := h.tx.AddTx(h.signedTransfer(10, 1))
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Equal(t, 1, h.tx.PendingCount())
}

func TestTxServiceAddTxStampsTimestamp(t *testing.T) {
	h := newServiceHarness(t)

	tx := h.signedTransfer(10, 1)
	tx.Timestamp = 0
	before := uint64(time.Now().UnixNano() / int64(time.Millisecond))

	_, err := h.tx.AddTx(tx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tx.Timestamp, before)
}

func TestTxServiceAddTxRejectsBadSignature(t *testing.T) {
	h := newServiceHarness(t)

	tx := h.signedTransfer(10, 1)
	tx.Amount = uint256.NewInt(999)
	_, err := h.tx.AddTx(tx)
	assert.ErrorIs(t, err, mempool.ErrInvalidSignature)
	assert.Equal(t, 0, h.tx.PendingCount())
}

func TestTxServiceGetTxMeta(t *testing.T) {
	h := newServiceHarness(t)

	meta, err := h.tx.GetTxMeta("deadbeef")
	require.NoError(t, err)
	assert.Nil(t, meta)

	stored := types.NewTxMeta("deadbeef", 7, "blockhash", types.TxStatusSuccess, "")
	require.NoError(t, h.txMetas.Store(stored))

	meta, err = h.tx.GetTxMeta("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(7), meta.Slot)
	assert.Equal(t, types.TxStatusSuccess, meta.Status)
}

func TestAccountServiceReadsTipState(t *testing.T) {
	h := newServiceHarness(t)

	acc, err := h.acct.GetAccount(h.senderID)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, uint256.NewInt(1000), acc.Balance)

	nonce, err := h.acct.GetCurrentNonce(h.senderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestAccountServiceUnknownAddress(t *testing.T) {
	h := newServiceHarness(t)

	acc, err := h.acct.GetAccount("nobody")
	require.NoError(t, err)
	assert.Nil(t, acc)

	nonce, err := h.acct.GetCurrentNonce("nobody")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestChainServiceTipAndSubmit(t *testing.T) {
	h := newServiceHarness(t)

	tip := h.chain.GetTip()
	assert.Equal(t, h.genesis.BlockHash.Hex(), tip.Hash)
	assert.Equal(t, uint64(0), tip.Height)

	blk := h.signedBlock(h.genesis, 5, []*transaction.Transaction{h.signedTransfer(10, 1)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.chain.SubmitBlock(ctx, blk))

	tip = h.chain.GetTip()
	assert.Equal(t, blk.BlockHash.Hex(), tip.Hash)
	assert.Equal(t, uint64(1), tip.Height)

	blocks, err := h.chain.GetBlockRange(1, 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, blk.BlockHash, blocks[0].BlockHash)
}

func TestChainServiceHealth(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.tx.AddTx(h.signedTransfer(10, 1))
	require.NoError(t, err)

	info := h.chain.GetHealth()
	assert.Equal(t, uint64(0), info.TipHeight)
	assert.Equal(t, 1, info.MempoolSize)
	assert.Equal(t, 0, info.OrphanCount)
	assert.Greater(t, info.CurrentSlot, uint64(0))
}
