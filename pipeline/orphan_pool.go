package pipeline

import (
	"sync"
	"time"

	"norn/block"
)

type orphanEntry struct {
	blk        *block.Block
	origin     Origin
	receivedAt time.Time
}

// orphanPool buffers blocks whose parent is not yet known, keyed by the
// missing parent hash. Bounded by count and age so a flood of unconnectable
// blocks can never grow memory without limit.
type orphanPool struct {
	mu       sync.Mutex
	limit    int
	ttl      time.Duration
	byParent map[block.Hash][]*orphanEntry
	known    map[block.Hash]struct{}
	fifo     []*orphanEntry
}

func newOrphanPool(limit int, ttl time.Duration) *orphanPool {
	return &orphanPool{
		limit:    limit,
		ttl:      ttl,
		byParent: make(map[block.Hash][]*orphanEntry),
		known:    make(map[block.Hash]struct{}),
	}
}

// add buffers an orphan and returns any entries evicted to stay within the
// count bound (oldest first). Duplicate orphans are dropped silently.
func (p *orphanPool) add(blk *block.Block, origin Origin) []*block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.known[blk.BlockHash]; ok {
		return nil
	}
	entry := &orphanEntry{blk: blk, origin: origin, receivedAt: time.Now()}
	p.known[blk.BlockHash] = struct{}{}
	p.byParent[blk.ParentHash] = append(p.byParent[blk.ParentHash], entry)
	p.fifo = append(p.fifo, entry)

	var evicted []*block.Block
	for len(p.known) > p.limit && len(p.fifo) > 0 {
		oldest := p.fifo[0]
		p.fifo = p.fifo[1:]
		if p.removeLocked(oldest) {
			evicted = append(evicted, oldest.blk)
		}
	}
	return evicted
}

// take removes and returns all orphans waiting on the given parent.
func (p *orphanPool) take(parent block.Hash) []*orphanEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.byParent[parent]
	if len(entries) == 0 {
		return nil
	}
	delete(p.byParent, parent)
	for _, e := range entries {
		delete(p.known, e.blk.BlockHash)
	}
	p.compactFifoLocked()
	return entries
}

// expire removes entries older than the retention ttl, returning them for
// reporting as discarded.
func (p *orphanPool) expire(now time.Time) []*block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*block.Block
	for len(p.fifo) > 0 && now.Sub(p.fifo[0].receivedAt) > p.ttl {
		oldest := p.fifo[0]
		p.fifo = p.fifo[1:]
		if p.removeLocked(oldest) {
			expired = append(expired, oldest.blk)
		}
	}
	return expired
}

func (p *orphanPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.known)
}

// removeLocked detaches an entry from the parent index; reports false if the
// entry was already taken.
func (p *orphanPool) removeLocked(entry *orphanEntry) bool {
	if _, ok := p.known[entry.blk.BlockHash]; !ok {
		return false
	}
	delete(p.known, entry.blk.BlockHash)
	siblings := p.byParent[entry.blk.ParentHash]
	for i, e := range siblings {
		if e == entry {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(p.byParent, entry.blk.ParentHash)
	} else {
		p.byParent[entry.blk.ParentHash] = siblings
	}
	return true
}

func (p *orphanPool) compactFifoLocked() {
	kept := p.fifo[:0]
	for _, e := range p.fifo {
		if _, ok := p.known[e.blk.BlockHash]; ok {
			kept = append(kept, e)
		}
	}
	p.fifo = kept
}
