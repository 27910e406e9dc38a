package leadership

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
	"norn/clock"
	"norn/common"
	"norn/db"
	"norn/events"
	"norn/ledger"
	"norn/mempool"
	"norn/pipeline"
	"norn/store"
	"norn/transaction"
)

type schedulerHarness struct {
	sched    *Scheduler
	pipe     *pipeline.Pipeline
	store    *blockstore.BlockStore
	ledg     *ledger.Ledger
	pool     *mempool.Mempool
	clk      *clock.SlotClock
	genesis  *block.Block
	nodeID   string
	sender   ed25519.PrivateKey
	senderID string
}

// newSchedulerHarness builds a node where this scheduler leads every slot.
// Ticks are injected by calling handleTick directly, so tests control time.
func newSchedulerHarness(t *testing.T, slotDuration time.Duration, elapsedSlots uint64) *schedulerHarness {
	t.Helper()

	nodePub, nodePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	senderPub, senderPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	nodeID := common.EncodeBytesToBase58(nodePub)
	senderID := common.EncodeBytesToBase58(senderPub)

	genesisTime := time.Now().Add(-time.Duration(elapsedSlots) * slotDuration)
	clk, err := clock.NewSlotClock(genesisTime, slotDuration, 10)
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

	schedule, err := NewSchedule([]ScheduleEntry{{StartSlot: 0, EndSlot: 99999, Leader: nodeID}})
	require.NoError(t, err)
	elig := NewScheduleEligibility(schedule)

	pipe := pipeline.NewPipeline(pipeline.DefaultConfig(), clk, bs, ledg, pipeline.Ed25519Verifier{}, router, nil)
	pipe.Start()
	t.Cleanup(pipe.Stop)

	pool := mempool.NewMempool(100, bs, ledg, txMetas, router)
	router.RegisterTipChangeHandler(pool)

	sched := NewScheduler(nodeID, nodePriv, clk, clock.NewSlotTicker(clk), bs, ledg, pool, pipe, elig, 50)

	return &schedulerHarness{
		sched:    sched,
		pipe:     pipe,
		store:    bs,
		ledg:     ledg,
		pool:     pool,
		clk:      clk,
		genesis:  genesisBlk,
		nodeID:   nodeID,
		sender:   senderPriv,
		senderID: senderID,
	}
}

func (h *schedulerHarness) tick(abs uint64) clock.SlotTick {
	epoch, slot := h.clk.Coords(abs)
	return clock.SlotTick{Epoch: epoch, Slot: slot, Abs: abs, At: h.clk.TimeOfAbsSlot(abs)}
}

func TestSchedulerProducesBlockWhenEligible(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	h.sched.handleTick(h.tick(5))

	tipBlk := h.store.TipBlock()
	assert.Equal(t, uint64(1), tipBlk.Height)
	assert.Equal(t, h.nodeID, tipBlk.LeaderID)
	assert.Equal(t, uint64(0), tipBlk.Epoch)
	assert.Equal(t, uint64(5), tipBlk.Slot)
	assert.Equal(t, h.genesis.BlockHash, tipBlk.ParentHash)
	assert.NotEmpty(t, tipBlk.Proof, "produced blocks carry the leader signature")
}

func TestSchedulerNeverDoubleClaimsSlot(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	tick := h.tick(5)
	h.sched.handleTick(tick)
	h.sched.handleTick(tick) // duplicate delivery of the same slot

	_, height := h.store.CurrentTip()
	assert.Equal(t, uint64(1), height, "exactly one block for one slot")
}

func TestSchedulerIgnoresOlderTicks(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	h.sched.handleTick(h.tick(5))
	h.sched.handleTick(h.tick(4)) // late tick from the past

	_, height := h.store.CurrentTip()
	assert.Equal(t, uint64(1), height)
	tipBlk := h.store.TipBlock()
	assert.Equal(t, uint64(5), tipBlk.Slot)
}

func TestSchedulerSkipsWhenNotEligible(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	// Rewire eligibility to a schedule naming someone else.
	other, err := NewSchedule([]ScheduleEntry{{StartSlot: 0, EndSlot: 99999, Leader: "someone-else"}})
	require.NoError(t, err)
	h.sched.elig = NewScheduleEligibility(other)

	h.sched.handleTick(h.tick(5))

	_, height := h.store.CurrentTip()
	assert.Equal(t, uint64(0), height)
}

func TestSchedulerBuildsChainAcrossSlots(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	h.sched.handleTick(h.tick(3))
	h.sched.handleTick(h.tick(4))
	h.sched.handleTick(h.tick(7))

	tipBlk := h.store.TipBlock()
	assert.Equal(t, uint64(3), tipBlk.Height)
	assert.Equal(t, uint64(7), tipBlk.Slot)

	blocks, err := h.store.BlocksInRange(1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), blocks[0].Slot)
	assert.Equal(t, uint64(4), blocks[1].Slot)
	assert.Equal(t, uint64(7), blocks[2].Slot)
}

func TestSchedulerCrossesEpochBoundary(t *testing.T) {
	// 20 second slots, 10-slot epochs, 40 slots elapsed: absolute slot 34
	// lands in epoch 3, slot 4.
	h := newSchedulerHarness(t, 20*time.Second, 40)

	h.sched.handleTick(h.tick(34))

	tipBlk := h.store.TipBlock()
	assert.Equal(t, uint64(3), tipBlk.Epoch)
	assert.Equal(t, uint64(4), tipBlk.Slot)
	assert.Equal(t, uint64(1), tipBlk.Height)
	assert.Equal(t, h.genesis.BlockHash, tipBlk.ParentHash)
}

func TestSchedulerIncludesMempoolBatch(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)

	tipState, ok := h.ledg.StateAt(h.genesis.BlockHash)
	require.True(t, ok)
	for nonce := uint64(1); nonce <= 3; nonce++ {
		tx := &transaction.Transaction{
			Type:      transaction.TxTypeTransfer,
			Sender:    h.senderID,
			Recipient: "bob",
			Amount:    uint256.NewInt(10),
			Timestamp: uint64(time.Now().UnixNano()),
			Nonce:     nonce,
		}
		tx.Sign(h.sender)
		_, err := h.pool.Add(tx, tipState)
		require.NoError(t, err)
	}

	h.sched.handleTick(h.tick(5))

	tipBlk := h.store.TipBlock()
	require.Len(t, tipBlk.Txs, 3)
	st, ok := h.ledg.StateAt(tipBlk.BlockHash)
	require.True(t, ok)
	assert.Equal(t, uint256.NewInt(30), st.Balance("bob"))

	// Inclusion removed the batch from the pool via the tip-change handler.
	assert.Equal(t, 0, h.pool.Len())
}

func TestSchedulerSurvivesSubmitFailure(t *testing.T) {
	h := newSchedulerHarness(t, time.Second, 30)
	h.pipe.Stop()

	// Submission fails with shutdown; the slot is missed, nothing panics.
	h.sched.handleTick(h.tick(5))

	_, height := h.store.CurrentTip()
	assert.Equal(t, uint64(0), height)

	// A later slot is attempted normally.
	assert.NotPanics(t, func() { h.sched.handleTick(h.tick(6)) })
}
