package events

import (
	"time"

	"norn/block"
	"norn/transaction"
)

// EventType is an enum-like string type for blockchain events
type EventType string

const (
	EventTipChanged                 EventType = "TipChanged"
	EventBlockAppended              EventType = "BlockAppended"
	EventBlockRejected              EventType = "BlockRejected"
	EventTransactionAddedToMempool  EventType = "TransactionAddedToMempool"
	EventTransactionIncludedInBlock EventType = "TransactionIncludedInBlock"
)

// BlockchainEvent represents any event that occurs in the blockchain
type BlockchainEvent interface {
	Type() EventType
	Timestamp() time.Time
}

// TipChanged is published every time the canonical tip moves. IsReorg is set
// when the previous tip is not an ancestor of the new tip, so consumers must
// invalidate anything derived from the abandoned fork.
type TipChanged struct {
	NewTip    block.Hash
	PrevTip   block.Hash
	Height    uint64
	IsReorg   bool
	timestamp time.Time
}

func NewTipChanged(newTip, prevTip block.Hash, height uint64, isReorg bool) *TipChanged {
	return &TipChanged{
		NewTip:    newTip,
		PrevTip:   prevTip,
		Height:    height,
		IsReorg:   isReorg,
		timestamp: time.Now(),
	}
}

func (e *TipChanged) Type() EventType      { return EventTipChanged }
func (e *TipChanged) Timestamp() time.Time { return e.timestamp }

// BlockAppended is published when a block is admitted to the DAG, whether or
// not it became the tip.
type BlockAppended struct {
	BlockHash block.Hash
	Height    uint64
	Slot      uint64
	timestamp time.Time
}

func NewBlockAppended(hash block.Hash, height uint64, slot uint64) *BlockAppended {
	return &BlockAppended{
		BlockHash: hash,
		Height:    height,
		Slot:      slot,
		timestamp: time.Now(),
	}
}

func (e *BlockAppended) Type() EventType      { return EventBlockAppended }
func (e *BlockAppended) Timestamp() time.Time { return e.timestamp }

// BlockRejected is published when validation fails terminally for a block.
type BlockRejected struct {
	BlockHash block.Hash
	Reason    string
	timestamp time.Time
}

func NewBlockRejected(hash block.Hash, reason string) *BlockRejected {
	return &BlockRejected{
		BlockHash: hash,
		Reason:    reason,
		timestamp: time.Now(),
	}
}

func (e *BlockRejected) Type() EventType      { return EventBlockRejected }
func (e *BlockRejected) Timestamp() time.Time { return e.timestamp }

// TransactionAddedToMempool event when a transaction is admitted to the pool
type TransactionAddedToMempool struct {
	TxHash    string
	Tx        *transaction.Transaction
	timestamp time.Time
}

func NewTransactionAddedToMempool(txHash string, tx *transaction.Transaction) *TransactionAddedToMempool {
	return &TransactionAddedToMempool{
		TxHash:    txHash,
		Tx:        tx,
		timestamp: time.Now(),
	}
}

func (e *TransactionAddedToMempool) Type() EventType      { return EventTransactionAddedToMempool }
func (e *TransactionAddedToMempool) Timestamp() time.Time { return e.timestamp }

// TransactionIncludedInBlock event when a transaction lands in an appended block
type TransactionIncludedInBlock struct {
	TxHash    string
	BlockSlot uint64
	BlockHash string
	timestamp time.Time
}

func NewTransactionIncludedInBlock(txHash string, blockSlot uint64, blockHash string) *TransactionIncludedInBlock {
	return &TransactionIncludedInBlock{
		TxHash:    txHash,
		BlockSlot: blockSlot,
		BlockHash: blockHash,
		timestamp: time.Now(),
	}
}

func (e *TransactionIncludedInBlock) Type() EventType      { return EventTransactionIncludedInBlock }
func (e *TransactionIncludedInBlock) Timestamp() time.Time { return e.timestamp }
