package service

import (
	"context"
	"time"

	"norn/block"
	"norn/blockstore"
	"norn/clock"
	"norn/interfaces"
	"norn/mempool"
	"norn/pipeline"
)

type ChainServiceImpl struct {
	blockStore *blockstore.BlockStore
	pipe       *pipeline.Pipeline
	clk        *clock.SlotClock
	pool       *mempool.Mempool
}

func NewChainService(bs *blockstore.BlockStore, p *pipeline.Pipeline, clk *clock.SlotClock, mp *mempool.Mempool) *ChainServiceImpl {
	return &ChainServiceImpl{blockStore: bs, pipe: p, clk: clk, pool: mp}
}

func (s *ChainServiceImpl) GetTip() interfaces.TipInfo {
	tip := s.blockStore.TipBlock()
	return interfaces.TipInfo{
		Hash:   tip.BlockHash.Hex(),
		Height: tip.Height,
		Epoch:  tip.Epoch,
		Slot:   tip.Slot,
	}
}

func (s *ChainServiceImpl) GetBlockRange(from, to uint64) ([]*block.Block, error) {
	return s.blockStore.BlocksInRange(from, to)
}

func (s *ChainServiceImpl) SubmitBlock(ctx context.Context, blk *block.Block) error {
	return s.pipe.SubmitExternalBlock(ctx, blk)
}

func (s *ChainServiceImpl) GetHealth() interfaces.HealthInfo {
	_, tipHeight := s.blockStore.CurrentTip()
	return interfaces.HealthInfo{
		TipHeight:   tipHeight,
		CurrentSlot: s.clk.AbsSlotAt(time.Now()),
		MempoolSize: s.pool.Len(),
		OrphanCount: s.pipe.OrphanCount(),
	}
}
