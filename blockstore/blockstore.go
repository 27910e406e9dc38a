package blockstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"norn/block"
	"norn/db"
	"norn/logx"
	"norn/store"
)

var (
	// ErrOrphanParent means the declared parent is not in the DAG yet. Not a
	// terminal failure: the pipeline buffers the block until the parent shows up.
	ErrOrphanParent = errors.New("parent block unknown")

	// ErrDuplicateBlock means the block is already present. Idempotent no-op.
	ErrDuplicateBlock = errors.New("block already exists")

	// ErrUnknownBlock is returned by reads for hashes not in the DAG.
	ErrUnknownBlock = errors.New("block not found")

	// ErrRangeNotFound is returned for range queries beyond the known tip depth.
	ErrRangeNotFound = errors.New("range beyond known tip")

	// ErrStoreCorruption signals an invariant violation (e.g. tip missing from
	// the DAG). The process must halt rather than keep serving an inconsistent
	// view of the chain.
	ErrStoreCorruption = errors.New("block store corruption")

	// ErrBadHeight means the declared height does not follow the parent.
	ErrBadHeight = errors.New("height does not follow parent")
)

// WeightFn is the pluggable fork-choice weight accumulator: given the
// cumulative weight of the parent fork it returns the cumulative weight after
// appending b. It must be deterministic.
type WeightFn func(parentWeight uint64, b *block.Block) uint64

// ChainLengthWeight is the default rule: every block adds one.
func ChainLengthWeight(parentWeight uint64, _ *block.Block) uint64 {
	return parentWeight + 1
}

type blockEntry struct {
	blk      *block.Block
	weight   uint64
	children []block.Hash
}

// TipDecision is the outcome of a fork-choice evaluation.
type TipDecision struct {
	Tip     block.Hash
	Height  uint64
	Changed bool
	Reorg   bool
	Prev    block.Hash
}

// BlockStore owns the multi-fork block DAG, the per-fork weights and the tip
// pointer. It is the only shared mutable chain state in the node: all writes
// are serialized through the block pipeline, readers get consistent snapshots
// under the read lock.
type BlockStore struct {
	mu         sync.RWMutex
	dbProvider db.DatabaseProvider
	weightFn   WeightFn

	entries   map[block.Hash]*blockEntry
	heads     map[block.Hash]struct{}
	tip       block.Hash
	genesis   block.Hash
	finalized block.Hash
}

// NewBlockStore opens the store, installing the genesis block if the backing
// database is empty, or rebuilding the DAG from persisted blocks otherwise.
func NewBlockStore(dbProvider db.DatabaseProvider, weightFn WeightFn, genesis *block.Block) (*BlockStore, error) {
	if weightFn == nil {
		weightFn = ChainLengthWeight
	}
	bs := &BlockStore{
		dbProvider: dbProvider,
		weightFn:   weightFn,
		entries:    make(map[block.Hash]*blockEntry),
		heads:      make(map[block.Hash]struct{}),
		genesis:    genesis.BlockHash,
	}
	if err := bs.load(genesis); err != nil {
		return nil, err
	}
	return bs, nil
}

func (bs *BlockStore) load(genesis *block.Block) error {
	blocks := make(map[block.Hash]*block.Block)
	iter, ok := bs.dbProvider.(db.IterableProvider)
	if ok {
		var decodeErr error
		err := iter.IteratePrefix([]byte(store.PrefixBlock), func(_, value []byte) bool {
			var blk block.Block
			if decodeErr = json.Unmarshal(value, &blk); decodeErr != nil {
				return false
			}
			blocks[blk.BlockHash] = &blk
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to scan persisted blocks: %w", err)
		}
		if decodeErr != nil {
			return fmt.Errorf("%w: undecodable block: %v", ErrStoreCorruption, decodeErr)
		}
	}

	if len(blocks) == 0 {
		// Fresh database: install genesis.
		if err := bs.persistBlock(genesis); err != nil {
			return err
		}
		bs.entries[genesis.BlockHash] = &blockEntry{blk: genesis, weight: 0}
		bs.heads[genesis.BlockHash] = struct{}{}
		bs.tip = genesis.BlockHash
		bs.finalized = genesis.BlockHash
		return bs.persistTip()
	}

	if _, ok := blocks[genesis.BlockHash]; !ok {
		return fmt.Errorf("%w: genesis block missing from database", ErrStoreCorruption)
	}

	// Rebuild the DAG in height order so parents always precede children.
	ordered := make([]*block.Block, 0, len(blocks))
	for _, blk := range blocks {
		ordered = append(ordered, blk)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Height < ordered[j].Height })

	for _, blk := range ordered {
		if blk.BlockHash == genesis.BlockHash {
			bs.entries[blk.BlockHash] = &blockEntry{blk: blk, weight: 0}
			bs.heads[blk.BlockHash] = struct{}{}
			continue
		}
		parent, ok := bs.entries[blk.ParentHash]
		if !ok {
			// A persisted block without its parent cannot be re-attached;
			// drop it rather than refuse to start.
			logx.Warn("BLOCKSTORE", fmt.Sprintf("Dropping persisted block %s with unknown parent", blk.BlockHash.Short()))
			_ = bs.dbProvider.Delete(blockKey(blk.BlockHash))
			continue
		}
		bs.entries[blk.BlockHash] = &blockEntry{blk: blk, weight: bs.weightFn(parent.weight, blk)}
		parent.children = append(parent.children, blk.BlockHash)
		delete(bs.heads, blk.ParentHash)
		bs.heads[blk.BlockHash] = struct{}{}
	}

	tipRaw, err := bs.dbProvider.Get([]byte(store.BlockMetaKeyTip))
	if err != nil {
		return fmt.Errorf("failed to read tip meta: %w", err)
	}
	if tipRaw != nil {
		tip, err := block.HashFromHex(string(tipRaw))
		if err == nil {
			if _, ok := bs.entries[tip]; !ok {
				return fmt.Errorf("%w: tip %s references missing block", ErrStoreCorruption, tip.Short())
			}
			bs.tip = tip
		}
	}
	if bs.tip == block.ZeroHash {
		bs.tip = bs.genesis
	}
	bs.finalized = bs.genesis

	logx.Info("BLOCKSTORE", fmt.Sprintf("Loaded %d blocks, %d fork heads, tip %s",
		len(bs.entries), len(bs.heads), bs.tip.Short()))
	return nil
}

// HasBlock reports whether the hash is present in the DAG.
func (bs *BlockStore) HasBlock(h block.Hash) bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	_, ok := bs.entries[h]
	return ok
}

// Block returns the block for a hash.
func (bs *BlockStore) Block(h block.Hash) (*block.Block, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	e, ok := bs.entries[h]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return e.blk, nil
}

// CurrentTip returns the canonical tip hash and its height as one consistent
// snapshot; no reader can observe a mid-update pair.
func (bs *BlockStore) CurrentTip() (block.Hash, uint64) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.tip, bs.entries[bs.tip].blk.Height
}

// TipBlock returns the block at the canonical tip.
func (bs *BlockStore) TipBlock() *block.Block {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	e, ok := bs.entries[bs.tip]
	if !ok {
		// The tip must always reference a block present in the DAG.
		panic(fmt.Sprintf("%v: tip %s not in DAG", ErrStoreCorruption, bs.tip.Short()))
	}
	return e.blk
}

// Genesis returns the genesis block hash.
func (bs *BlockStore) Genesis() block.Hash {
	return bs.genesis
}

// Finalized returns the last finalized block hash.
func (bs *BlockStore) Finalized() block.Hash {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.finalized
}

// Weight returns the cumulative fork weight at a block.
func (bs *BlockStore) Weight(h block.Hash) (uint64, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	e, ok := bs.entries[h]
	if !ok {
		return 0, ErrUnknownBlock
	}
	return e.weight, nil
}

// Append attaches a block to the DAG under its declared parent and persists
// it. It does not run fork choice; the pipeline calls SelectTip afterwards.
func (bs *BlockStore) Append(b *block.Block) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if _, ok := bs.entries[b.BlockHash]; ok {
		return ErrDuplicateBlock
	}
	parent, ok := bs.entries[b.ParentHash]
	if !ok {
		return ErrOrphanParent
	}
	if b.Height != parent.blk.Height+1 {
		return fmt.Errorf("%w: parent height %d, block height %d", ErrBadHeight, parent.blk.Height, b.Height)
	}

	if err := bs.persistBlock(b); err != nil {
		return err
	}

	bs.entries[b.BlockHash] = &blockEntry{blk: b, weight: bs.weightFn(parent.weight, b)}
	parent.children = append(parent.children, b.BlockHash)
	delete(bs.heads, b.ParentHash)
	bs.heads[b.BlockHash] = struct{}{}
	return nil
}

// SelectTip runs the deterministic fork-choice rule over the current fork
// heads and atomically moves the tip to the winner. The total order is
// cumulative weight descending, then lexicographically smaller block hash, so
// independently running nodes converge given the same forks regardless of
// arrival order.
func (bs *BlockStore) SelectTip() (TipDecision, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var best block.Hash
	first := true
	for h := range bs.heads {
		if first {
			best = h
			first = false
			continue
		}
		if bs.betterHead(h, best) {
			best = h
		}
	}
	if first {
		return TipDecision{}, fmt.Errorf("%w: no fork heads", ErrStoreCorruption)
	}

	prev := bs.tip
	decision := TipDecision{
		Tip:    best,
		Height: bs.entries[best].blk.Height,
		Prev:   prev,
	}
	if best == prev {
		return decision, nil
	}

	// The tip never regresses: the previous tip is either an ancestor of the
	// winner (normal extension) or on a strictly worse fork (reorg).
	decision.Changed = true
	decision.Reorg = !bs.isAncestorLocked(prev, best)
	bs.tip = best
	if err := bs.persistTip(); err != nil {
		return decision, err
	}
	return decision, nil
}

// betterHead reports whether a beats b under the fork-choice total order.
// Callers hold the lock.
func (bs *BlockStore) betterHead(a, b block.Hash) bool {
	ea, eb := bs.entries[a], bs.entries[b]
	if ea.weight != eb.weight {
		return ea.weight > eb.weight
	}
	return bytes.Compare(a[:], b[:]) < 0
}

// IsAncestor reports whether anc is on the parent path of desc (or equal).
func (bs *BlockStore) IsAncestor(anc, desc block.Hash) bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.isAncestorLocked(anc, desc)
}

func (bs *BlockStore) isAncestorLocked(anc, desc block.Hash) bool {
	ancEntry, ok := bs.entries[anc]
	if !ok {
		return false
	}
	cur, ok := bs.entries[desc]
	for ok {
		if cur.blk.BlockHash == anc {
			return true
		}
		if cur.blk.Height <= ancEntry.blk.Height {
			return false
		}
		cur, ok = bs.entries[cur.blk.ParentHash]
	}
	return false
}

// ForkHeads returns the current fork heads in deterministic order.
func (bs *BlockStore) ForkHeads() []block.Hash {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	heads := make([]block.Hash, 0, len(bs.heads))
	for h := range bs.heads {
		heads = append(heads, h)
	}
	sort.Slice(heads, func(i, j int) bool {
		return bytes.Compare(heads[i][:], heads[j][:]) < 0
	})
	return heads
}

// BlocksInRange returns canonical-chain blocks with from <= height <= to in
// ascending height order. Ranges beyond the tip height fail with
// ErrRangeNotFound.
func (bs *BlockStore) BlocksInRange(from, to uint64) ([]*block.Block, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	tipEntry := bs.entries[bs.tip]
	if from > to || to > tipEntry.blk.Height {
		return nil, ErrRangeNotFound
	}

	out := make([]*block.Block, to-from+1)
	cur := tipEntry
	for cur.blk.Height > to {
		next, ok := bs.entries[cur.blk.ParentHash]
		if !ok {
			return nil, fmt.Errorf("%w: broken parent link at %s", ErrStoreCorruption, cur.blk.BlockHash.Short())
		}
		cur = next
	}
	for {
		out[cur.blk.Height-from] = cur.blk
		if cur.blk.Height == from {
			break
		}
		next, ok := bs.entries[cur.blk.ParentHash]
		if !ok {
			return nil, fmt.Errorf("%w: broken parent link at %s", ErrStoreCorruption, cur.blk.BlockHash.Short())
		}
		cur = next
	}
	return out, nil
}

// Prune discards forks that have fallen more than finalityDepth blocks below
// the tip and advances the finalized pointer. Returns the hashes of removed
// blocks (so cached ledger states can be dropped) and the new finalized hash.
// Irreversible.
func (bs *BlockStore) Prune(finalityDepth uint64) ([]block.Hash, block.Hash, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	tipEntry := bs.entries[bs.tip]
	if tipEntry.blk.Height <= finalityDepth {
		return nil, bs.finalized, nil
	}
	finalHeight := tipEntry.blk.Height - finalityDepth

	// Walk the canonical chain down to the finalized block.
	cur := tipEntry
	for cur.blk.Height > finalHeight {
		next, ok := bs.entries[cur.blk.ParentHash]
		if !ok {
			return nil, bs.finalized, fmt.Errorf("%w: broken parent link at %s", ErrStoreCorruption, cur.blk.BlockHash.Short())
		}
		cur = next
	}
	finalHash := cur.blk.BlockHash

	// Keep canonical ancestors and everything descending from the finalized
	// block; stale forks rooted below finality go away.
	keep := make(map[block.Hash]struct{})
	for e := tipEntry; ; {
		keep[e.blk.BlockHash] = struct{}{}
		if e.blk.BlockHash == bs.genesis {
			break
		}
		parent, ok := bs.entries[e.blk.ParentHash]
		if !ok {
			return nil, bs.finalized, fmt.Errorf("%w: broken parent link at %s", ErrStoreCorruption, e.blk.BlockHash.Short())
		}
		e = parent
	}
	var markDescendants func(h block.Hash)
	markDescendants = func(h block.Hash) {
		keep[h] = struct{}{}
		for _, child := range bs.entries[h].children {
			markDescendants(child)
		}
	}
	markDescendants(finalHash)

	removed := make([]block.Hash, 0)
	batch := bs.dbProvider.Batch()
	for h := range bs.entries {
		if _, ok := keep[h]; ok {
			continue
		}
		removed = append(removed, h)
		batch.Delete(blockKey(h))
	}
	if len(removed) > 0 {
		if err := batch.Write(); err != nil {
			return nil, bs.finalized, fmt.Errorf("failed to delete pruned blocks: %w", err)
		}
		for _, h := range removed {
			delete(bs.entries, h)
			delete(bs.heads, h)
		}
		// Drop dangling child links left by removed blocks.
		for _, e := range bs.entries {
			kept := e.children[:0]
			for _, child := range e.children {
				if _, ok := bs.entries[child]; ok {
					kept = append(kept, child)
				}
			}
			e.children = kept
		}
		logx.Info("BLOCKSTORE", fmt.Sprintf("Pruned %d stale fork blocks below height %d", len(removed), finalHeight))
	}

	bs.finalized = finalHash
	if err := bs.dbProvider.Put([]byte(store.BlockMetaKeyFinalized), []byte(finalHash.Hex())); err != nil {
		return removed, finalHash, fmt.Errorf("failed to persist finalized meta: %w", err)
	}
	return removed, finalHash, nil
}

// -------- internals -------------------------------------------------------

func blockKey(h block.Hash) []byte {
	return []byte(store.PrefixBlock + h.Hex())
}

func (bs *BlockStore) persistBlock(b *block.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	if err := bs.dbProvider.Put(blockKey(b.BlockHash), data); err != nil {
		return fmt.Errorf("failed to write block to db: %w", err)
	}
	return nil
}

func (bs *BlockStore) persistTip() error {
	if err := bs.dbProvider.Put([]byte(store.BlockMetaKeyTip), []byte(bs.tip.Hex())); err != nil {
		return fmt.Errorf("failed to persist tip meta: %w", err)
	}
	return nil
}
