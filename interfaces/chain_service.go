package interfaces

import (
	"context"

	"norn/block"
)

// TipInfo describes the canonical tip at a point in time
type TipInfo struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
	Epoch  uint64 `json:"epoch"`
	Slot   uint64 `json:"slot"`
}

// ChainService defines the chain read/submit operations exposed at the node boundary
type ChainService interface {
	// GetTip returns the current canonical tip
	GetTip() TipInfo
	// GetBlockRange returns canonical blocks with from <= height <= to
	GetBlockRange(from, to uint64) ([]*block.Block, error)
	// SubmitBlock routes an externally received block into the pipeline
	SubmitBlock(ctx context.Context, blk *block.Block) error
}

// HealthService reports liveness data for operators
type HealthService interface {
	GetHealth() HealthInfo
}

type HealthInfo struct {
	TipHeight   uint64 `json:"tip_height"`
	CurrentSlot uint64 `json:"current_slot"`
	MempoolSize int    `json:"mempool_size"`
	OrphanCount int    `json:"orphan_count"`
}
