package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"norn/block"
	"norn/blockstore"
	"norn/clock"
	"norn/events"
	"norn/exception"
	"norn/ledger"
	"norn/logx"
	"norn/monitoring"
)

var (
	// ErrBadHeader covers malformed or self-inconsistent blocks.
	ErrBadHeader = errors.New("malformed block header")

	// ErrBadSlot means the claimed slot is in the unreachable future or
	// excessively stale relative to the local clock.
	ErrBadSlot = errors.New("implausible slot coordinate")

	// ErrShutdown is returned for submissions after Stop.
	ErrShutdown = errors.New("pipeline stopped")
)

// Origin tags a submission with its validation mode. Internal blocks come
// from this node's leadership scheduler: their leader proof was produced
// locally and is trusted, but parent existence and the ledger transition are
// still re-checked.
type Origin int

const (
	OriginExternal Origin = iota
	OriginInternal
)

func (o Origin) String() string {
	if o == OriginInternal {
		return "internal"
	}
	return "external"
}

type Config struct {
	// MaxFutureSlots is how far ahead of the local clock a claimed slot may be.
	MaxFutureSlots uint64
	// MaxStaleSlots is how far behind the local clock a claimed slot may be.
	MaxStaleSlots uint64
	// OrphanLimit bounds the orphan buffer by count.
	OrphanLimit int
	// OrphanTTL bounds the orphan buffer by age.
	OrphanTTL time.Duration
	// FinalityDepth is the rollback horizon used for pruning.
	FinalityDepth uint64
	// ValidationWorkers is the number of concurrent stateless validators.
	ValidationWorkers int
}

func DefaultConfig() Config {
	return Config{
		MaxFutureSlots:    2,
		MaxStaleSlots:     10000,
		OrphanLimit:       256,
		OrphanTTL:         5 * time.Minute,
		FinalityDepth:     128,
		ValidationWorkers: 4,
	}
}

type submission struct {
	blk      *block.Block
	origin   Origin
	resultCh chan error
}

// Pipeline validates incoming blocks, appends them to the block store, runs
// fork choice and publishes tip changes. Stateless validation of different
// blocks proceeds concurrently; every store mutation goes through the single
// committer goroutine, which is what makes commit order well defined.
type Pipeline struct {
	cfg      Config
	clk      *clock.SlotClock
	store    *blockstore.BlockStore
	ledg     *ledger.Ledger
	verifier ProofVerifier
	router   *events.EventRouter
	orphans  *orphanPool

	// leaderFor, when set, names the expected leader for a slot so externally
	// received blocks from the wrong producer are rejected early.
	leaderFor func(epoch, slot uint64) (string, bool)

	submitCh chan submission
	commitCh chan submission
	stopCh   chan struct{}
}

func NewPipeline(
	cfg Config,
	clk *clock.SlotClock,
	store *blockstore.BlockStore,
	ledg *ledger.Ledger,
	verifier ProofVerifier,
	router *events.EventRouter,
	leaderFor func(epoch, slot uint64) (string, bool),
) *Pipeline {
	if cfg.ValidationWorkers <= 0 {
		cfg.ValidationWorkers = 1
	}
	return &Pipeline{
		cfg:       cfg,
		clk:       clk,
		store:     store,
		ledg:      ledg,
		verifier:  verifier,
		router:    router,
		orphans:   newOrphanPool(cfg.OrphanLimit, cfg.OrphanTTL),
		leaderFor: leaderFor,
		submitCh:  make(chan submission, 64),
		commitCh:  make(chan submission, 64),
		stopCh:    make(chan struct{}),
	}
}

func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.ValidationWorkers; i++ {
		exception.SafeGo(fmt.Sprintf("pipelineValidator-%d", i), func() {
			p.validateLoop()
		})
	}
	// A committer panic means the store can no longer be trusted; halt.
	exception.SafeGoWithPanic("pipelineCommitter", func() {
		p.commitLoop()
	})
}

func (p *Pipeline) Stop() {
	close(p.stopCh)
}

// SubmitExternalBlock runs the full validation path on a block received from
// the network and reports the terminal result. Orphaned and duplicate blocks
// are not errors to the submitter.
func (p *Pipeline) SubmitExternalBlock(ctx context.Context, blk *block.Block) error {
	return p.submit(ctx, blk, OriginExternal)
}

// SubmitInternalBlock accepts a self-produced block from the leadership
// scheduler. The leader proof is trusted; everything else is re-checked.
func (p *Pipeline) SubmitInternalBlock(ctx context.Context, blk *block.Block) error {
	return p.submit(ctx, blk, OriginInternal)
}

// OrphanCount reports the current orphan buffer size.
func (p *Pipeline) OrphanCount() int {
	return p.orphans.size()
}

func (p *Pipeline) submit(ctx context.Context, blk *block.Block, origin Origin) error {
	sub := submission{blk: blk, origin: origin, resultCh: make(chan error, 1)}
	select {
	case p.submitCh <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrShutdown
	}
	select {
	case err := <-sub.resultCh:
		return err
	case <-ctx.Done():
		// Abandoning a block mid-validation has no side effects: nothing is
		// written to the store until the committer's final step.
		return ctx.Err()
	case <-p.stopCh:
		return ErrShutdown
	}
}

// validateLoop performs the stateless part of validation concurrently with
// other blocks. Anything touching the store is left to the committer.
func (p *Pipeline) validateLoop() {
	for {
		select {
		case sub := <-p.submitCh:
			if err := p.validateStateless(sub.blk, sub.origin); err != nil {
				p.reject(sub.blk, err)
				sub.resultCh <- err
				continue
			}
			select {
			case p.commitCh <- sub:
			case <-p.stopCh:
				return
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pipeline) validateStateless(blk *block.Block, origin Origin) error {
	if blk == nil || blk.LeaderID == "" {
		return fmt.Errorf("%w: missing leader id", ErrBadHeader)
	}
	if blk.Slot >= p.clk.SlotsPerEpoch() {
		return fmt.Errorf("%w: slot %d outside epoch of %d slots", ErrBadHeader, blk.Slot, p.clk.SlotsPerEpoch())
	}
	if !blk.VerifyContent() {
		return fmt.Errorf("%w: declared hashes do not match content", ErrBadHeader)
	}

	// Slot plausibility against the local clock.
	claimed := p.clk.Abs(blk.Epoch, blk.Slot)
	now := p.clk.AbsSlotAt(time.Now())
	if claimed > now+p.cfg.MaxFutureSlots {
		return fmt.Errorf("%w: slot %d is %d slots in the future", ErrBadSlot, claimed, claimed-now)
	}
	if p.cfg.MaxStaleSlots > 0 && now > claimed && now-claimed > p.cfg.MaxStaleSlots {
		return fmt.Errorf("%w: slot %d is %d slots stale", ErrBadSlot, claimed, now-claimed)
	}

	if origin == OriginExternal {
		if p.leaderFor != nil {
			expected, ok := p.leaderFor(blk.Epoch, blk.Slot)
			if ok && expected != blk.LeaderID {
				return fmt.Errorf("%w: leader %s not entitled to slot %d", ErrBadProof, blk.LeaderID, claimed)
			}
		}
		if err := p.verifier.VerifyLeaderProof(blk); err != nil {
			return err
		}
		for _, tx := range blk.Txs {
			if !tx.Verify() {
				return fmt.Errorf("%w: invalid signature on tx %s", ErrBadHeader, tx.Hash())
			}
		}
	}
	return nil
}

// commitLoop is the single logical writer: appends, fork choice and tip
// publication all happen here, in arrival order.
func (p *Pipeline) commitLoop() {
	expiry := time.NewTicker(p.orphanExpiryInterval())
	defer expiry.Stop()
	for {
		select {
		case sub := <-p.commitCh:
			err := p.commitOne(sub.blk, sub.origin)
			sub.resultCh <- err
		case now := <-expiry.C:
			for _, expired := range p.orphans.expire(now) {
				logx.Warn("PIPELINE", fmt.Sprintf("Discarding expired orphan %s", expired.BlockHash.Short()))
				monitoring.RecordRejectedBlock(monitoring.BlockOrphanExpired)
				p.router.PublishBlockEvent(events.NewBlockRejected(expired.BlockHash, "orphan_expired"))
			}
			monitoring.SetOrphanPoolSize(p.orphans.size())
		case <-p.stopCh:
			return
		}
	}
}

// commitOne validates the stateful part of a block and admits it. On success
// it re-attempts any orphans that were waiting for this block.
func (p *Pipeline) commitOne(blk *block.Block, origin Origin) error {
	if p.store.HasBlock(blk.BlockHash) {
		logx.Debug("PIPELINE", fmt.Sprintf("Duplicate block %s, no-op", blk.BlockHash.Short()))
		return nil
	}

	if !p.store.HasBlock(blk.ParentHash) {
		for _, evicted := range p.orphans.add(blk, origin) {
			logx.Warn("PIPELINE", fmt.Sprintf("Orphan buffer full, discarding %s", evicted.BlockHash.Short()))
			monitoring.RecordRejectedBlock(monitoring.BlockOrphanExpired)
			p.router.PublishBlockEvent(events.NewBlockRejected(evicted.BlockHash, "orphan_expired"))
		}
		monitoring.SetOrphanPoolSize(p.orphans.size())
		logx.Info("PIPELINE", fmt.Sprintf("Buffered orphan %s waiting for parent %s",
			blk.BlockHash.Short(), blk.ParentHash.Short()))
		return nil
	}

	if err := p.appendAndPublish(blk); err != nil {
		return err
	}

	// Parent arrived: orphans keyed under this block re-enter validation.
	p.resolveOrphans(blk.BlockHash)
	return nil
}

func (p *Pipeline) appendAndPublish(blk *block.Block) error {
	parentState, ok := p.ledg.StateAt(blk.ParentHash)
	if !ok {
		// Parent is in the DAG but its state is gone, which only happens below
		// the finality horizon. The fork is not viable.
		err := fmt.Errorf("%w: no ledger state for parent %s", ErrBadSlot, blk.ParentHash.Short())
		p.reject(blk, err)
		return err
	}

	parentBlk, err := p.store.Block(blk.ParentHash)
	if err != nil {
		return err
	}
	// Genesis sits at slot 0, so its direct children only need a nonzero slot.
	parentAbs := p.clk.Abs(parentBlk.Epoch, parentBlk.Slot)
	if p.clk.Abs(blk.Epoch, blk.Slot) <= parentAbs && !(parentBlk.Height == 0 && parentAbs == 0) {
		err := fmt.Errorf("%w: slot does not advance past parent", ErrBadSlot)
		p.reject(blk, err)
		return err
	}

	newState, err := p.ledg.ApplyBlock(parentState, blk)
	if err != nil {
		p.reject(blk, err)
		return err
	}

	if err := p.store.Append(blk); err != nil {
		if errors.Is(err, blockstore.ErrDuplicateBlock) {
			return nil
		}
		p.reject(blk, err)
		return err
	}
	p.ledg.Commit(blk, newState)

	monitoring.IncreaseAppendedBlockCount()
	monitoring.RecordTxInBlock(len(blk.Txs))
	p.router.PublishBlockEvent(events.NewBlockAppended(blk.BlockHash, blk.Height, blk.Slot))
	logx.Info("PIPELINE", fmt.Sprintf("Appended block %s height=%d slot=(%d,%d) txs=%d",
		blk.BlockHash.Short(), blk.Height, blk.Epoch, blk.Slot, len(blk.Txs)))

	decision, err := p.store.SelectTip()
	if err != nil {
		// Fork choice failing is an invariant violation; escalate.
		panic(err)
	}
	if decision.Changed {
		if decision.Reorg {
			monitoring.IncreaseReorgCount()
			logx.Warn("PIPELINE", fmt.Sprintf("Reorg: tip %s -> %s", decision.Prev.Short(), decision.Tip.Short()))
		}
		monitoring.SetTip(decision.Height, p.clk.Abs(blk.Epoch, blk.Slot))
		p.router.PublishTipChanged(events.NewTipChanged(decision.Tip, decision.Prev, decision.Height, decision.Reorg))
	}

	p.pruneAndFinalize()
	return nil
}

func (p *Pipeline) pruneAndFinalize() {
	prevFinal := p.store.Finalized()
	removed, finalHash, err := p.store.Prune(p.cfg.FinalityDepth)
	if err != nil {
		panic(err)
	}
	if len(removed) > 0 {
		p.ledg.Drop(removed)
	}
	if finalHash != prevFinal {
		if err := p.ledg.Finalize(finalHash); err != nil {
			logx.Error("PIPELINE", fmt.Sprintf("Failed to finalize state at %s: %v", finalHash.Short(), err))
		}
	}
}

func (p *Pipeline) resolveOrphans(parent block.Hash) {
	pending := p.orphans.take(parent)
	for len(pending) > 0 {
		entry := pending[0]
		pending = pending[1:]
		// Stateless validation already passed before the block was buffered.
		if err := p.commitOne(entry.blk, entry.origin); err != nil {
			logx.Warn("PIPELINE", fmt.Sprintf("Orphan %s failed on retry: %v", entry.blk.BlockHash.Short(), err))
			continue
		}
		if p.store.HasBlock(entry.blk.BlockHash) {
			pending = append(pending, p.orphans.take(entry.blk.BlockHash)...)
		}
	}
	monitoring.SetOrphanPoolSize(p.orphans.size())
}

func (p *Pipeline) reject(blk *block.Block, err error) {
	reason := monitoring.BlockRejectedOther
	switch {
	case errors.Is(err, ErrBadHeader):
		reason = monitoring.BlockBadHeader
	case errors.Is(err, ErrBadProof):
		reason = monitoring.BlockBadProof
	case errors.Is(err, ErrBadSlot):
		reason = monitoring.BlockBadSlot
	case errors.Is(err, ledger.ErrInvalidTransition):
		reason = monitoring.BlockBadTransition
	}
	monitoring.RecordRejectedBlock(reason)
	p.router.PublishBlockEvent(events.NewBlockRejected(blk.BlockHash, string(reason)))
	logx.Warn("PIPELINE", fmt.Sprintf("Rejected block %s: %v", blk.BlockHash.Short(), err))
}

func (p *Pipeline) orphanExpiryInterval() time.Duration {
	interval := p.cfg.OrphanTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
