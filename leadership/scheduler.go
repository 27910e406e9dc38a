package leadership

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"runtime/debug"

	"norn/block"
	"norn/blockstore"
	"norn/clock"
	"norn/exception"
	"norn/ledger"
	"norn/logx"
	"norn/mempool"
	"norn/monitoring"
	"norn/pipeline"
)

// Scheduler drives this node's block production. On each slot tick it
// snapshots the tip and its ledger state, evaluates the eligibility predicate
// once, and — when entitled — assembles, signs and submits a block through
// the internal pipeline path. A missed slot is never fatal: any failure is
// contained at the slot boundary and the scheduler waits for the next tick.
type Scheduler struct {
	nodeID  string
	privKey ed25519.PrivateKey

	clk    *clock.SlotClock
	ticker *clock.SlotTicker
	store  *blockstore.BlockStore
	ledg   *ledger.Ledger
	pool   *mempool.Mempool
	pipe   *pipeline.Pipeline
	elig   Eligibility

	batchSize int

	// lastHandled guards against double-claiming: the predicate is evaluated
	// at most once per absolute slot and at most one block is produced for it.
	lastHandled uint64
	started     bool
	stopCh      chan struct{}
}

func NewScheduler(
	nodeID string,
	privKey ed25519.PrivateKey,
	clk *clock.SlotClock,
	ticker *clock.SlotTicker,
	store *blockstore.BlockStore,
	ledg *ledger.Ledger,
	pool *mempool.Mempool,
	pipe *pipeline.Pipeline,
	elig Eligibility,
	batchSize int,
) *Scheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{
		nodeID:    nodeID,
		privKey:   privKey,
		clk:       clk,
		ticker:    ticker,
		store:     store,
		ledg:      ledg,
		pool:      pool,
		pipe:      pipe,
		elig:      elig,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	exception.SafeGo("leadershipScheduler", func() {
		s.run()
	})
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	for {
		select {
		case tick := <-s.ticker.C():
			s.handleTick(tick)
		case <-s.stopCh:
			return
		}
	}
}

// handleTick contains one slot's worth of work. Panics are absorbed here so
// a broken assembly can only cost us this slot.
func (s *Scheduler) handleTick(tick clock.SlotTick) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.IncreaseSlotsMissedCount()
			logx.Error("LEADERSHIP", fmt.Sprintf("Slot %d missed after panic: %v\n%s", tick.Abs, r, debug.Stack()))
		}
	}()

	if s.started && tick.Abs <= s.lastHandled {
		return
	}
	s.started = true
	s.lastHandled = tick.Abs

	// Snapshot at the decision instant: if the tip moves mid-evaluation we
	// keep building on this snapshot, never on a partially updated view.
	tipBlk := s.store.TipBlock()
	tipState, ok := s.ledg.StateAt(tipBlk.BlockHash)
	if !ok {
		logx.Error("LEADERSHIP", fmt.Sprintf("No ledger state for tip %s, skipping slot %d", tipBlk.BlockHash.Short(), tick.Abs))
		return
	}

	eligible, _ := s.elig.Evaluate(tick.Epoch, tick.Slot, tick.Abs, s.nodeID, tipState)
	if !eligible {
		return
	}

	if s.clk.Abs(tipBlk.Epoch, tipBlk.Slot) >= tick.Abs && tipBlk.Height > 0 {
		logx.Warn("LEADERSHIP", fmt.Sprintf("Tip already at slot %d, skipping production for slot %d",
			s.clk.Abs(tipBlk.Epoch, tipBlk.Slot), tick.Abs))
		return
	}

	// An empty batch is fine: an empty block still extends the chain.
	txs := s.pool.PullBatch(s.batchSize, tipState)

	blk := block.AssembleBlock(tick.Epoch, tick.Slot, tipBlk.Height+1, tipBlk.BlockHash, s.nodeID, txs)
	blk.Sign(s.privKey)

	ctx, cancel := context.WithTimeout(context.Background(), s.clk.SlotDuration())
	defer cancel()
	if err := s.pipe.SubmitInternalBlock(ctx, blk); err != nil {
		monitoring.IncreaseSlotsMissedCount()
		logx.Error("LEADERSHIP", fmt.Sprintf("Failed to submit block for slot %d: %v", tick.Abs, err))
		return
	}

	monitoring.IncreaseSlotsLedCount()
	logx.Info("LEADERSHIP", fmt.Sprintf("Produced block %s for slot (%d,%d) parent=%s txs=%d",
		blk.BlockHash.Short(), tick.Epoch, tick.Slot, tipBlk.BlockHash.Short(), len(txs)))
}
