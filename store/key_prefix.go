package store

// Declare database key prefix for objects
const (
	PrefixAccount = "account:"

	PrefixBlock   = "blk:"
	PrefixTxMeta  = "tx_meta:"

	BlockMetaKeyTip       = "blk_meta:tip"
	BlockMetaKeyFinalized = "blk_meta:finalized"
)
