package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norn/block"
)

func orphanBlk(parent block.Hash, leader string) *block.Block {
	return block.AssembleBlock(0, 1, 1, parent, leader, nil)
}

func TestOrphanPoolAddAndTake(t *testing.T) {
	pool := newOrphanPool(10, time.Minute)

	var parent block.Hash
	parent[0] = 1
	a := orphanBlk(parent, "a")
	b := orphanBlk(parent, "b")

	assert.Empty(t, pool.add(a, OriginExternal))
	assert.Empty(t, pool.add(b, OriginInternal))
	assert.Equal(t, 2, pool.size())

	entries := pool.take(parent)
	require.Len(t, entries, 2)
	assert.Equal(t, a.BlockHash, entries[0].blk.BlockHash)
	assert.Equal(t, OriginExternal, entries[0].origin)
	assert.Equal(t, OriginInternal, entries[1].origin)
	assert.Equal(t, 0, pool.size())

	assert.Empty(t, pool.take(parent), "taking twice yields nothing")
}

func TestOrphanPoolDropsDuplicates(t *testing.T) {
	pool := newOrphanPool(10, time.Minute)

	var parent block.Hash
	a := orphanBlk(parent, "a")
	pool.add(a, OriginExternal)
	pool.add(a, OriginExternal)
	assert.Equal(t, 1, pool.size())
}

func TestOrphanPoolEvictsOldestOverLimit(t *testing.T) {
	pool := newOrphanPool(2, time.Minute)

	var p1, p2, p3 block.Hash
	p1[0], p2[0], p3[0] = 1, 2, 3
	a := orphanBlk(p1, "a")
	b := orphanBlk(p2, "b")
	c := orphanBlk(p3, "c")

	assert.Empty(t, pool.add(a, OriginExternal))
	assert.Empty(t, pool.add(b, OriginExternal))

	evicted := pool.add(c, OriginExternal)
	require.Len(t, evicted, 1)
	assert.Equal(t, a.BlockHash, evicted[0].BlockHash)
	assert.Equal(t, 2, pool.size())
	assert.Empty(t, pool.take(p1))
}

func TestOrphanPoolExpire(t *testing.T) {
	pool := newOrphanPool(10, 50*time.Millisecond)

	var parent block.Hash
	a := orphanBlk(parent, "a")
	pool.add(a, OriginExternal)

	assert.Empty(t, pool.expire(time.Now()), "fresh entries survive")

	expired := pool.expire(time.Now().Add(time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, a.BlockHash, expired[0].BlockHash)
	assert.Equal(t, 0, pool.size())
}
