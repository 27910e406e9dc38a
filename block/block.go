package block

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"norn/transaction"
)

// Hash is a blake2b-256 content hash. It is the identity of blocks and the
// key of all parent links in the DAG.
type Hash [32]byte

var ZeroHash Hash

func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Short returns a truncated hex form for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, hex.InvalidByteError(0)
	}
	copy(h[:], b)
	return h, nil
}

type Block struct {
	ParentHash Hash                       `json:"parent_hash"`
	Epoch      uint64                     `json:"epoch"`
	Slot       uint64                     `json:"slot"` // slot within epoch
	Height     uint64                     `json:"height"`
	LeaderID   string                     `json:"leader_id"` // base58 ed25519 pubkey of the producer
	Timestamp  time.Time                  `json:"timestamp"`
	Txs        []*transaction.Transaction `json:"txs"`
	TxRoot     Hash                       `json:"tx_root"`
	BlockHash  Hash                       `json:"block_hash"`
	Proof      []byte                     `json:"proof"` // leader proof: ed25519 signature over BlockHash
}

// AssembleBlock builds an immutable block. TxRoot and BlockHash are fixed at
// construction; only the proof may be attached afterwards.
func AssembleBlock(
	epoch uint64,
	slot uint64,
	height uint64,
	parentHash Hash,
	leaderID string,
	txs []*transaction.Transaction,
) *Block {
	b := &Block{
		ParentHash: parentHash,
		Epoch:      epoch,
		Slot:       slot,
		Height:     height,
		LeaderID:   leaderID,
		Timestamp:  time.Now().UTC(),
		Txs:        txs,
	}
	b.TxRoot = b.computeTxRoot()
	b.BlockHash = b.computeHash()
	return b
}

// GenesisLeaderID marks the synthetic genesis block, which no validator produced.
const GenesisLeaderID = "genesis"

// GenesisBlock builds the deterministic block at height 0. Every node on the
// same chain derives an identical genesis hash from the configured genesis time.
func GenesisBlock(at time.Time) *Block {
	b := &Block{
		ParentHash: ZeroHash,
		Epoch:      0,
		Slot:       0,
		Height:     0,
		LeaderID:   GenesisLeaderID,
		Timestamp:  at.UTC(),
		Txs:        nil,
	}
	b.TxRoot = b.computeTxRoot()
	b.BlockHash = b.computeHash()
	return b
}

func (b *Block) computeTxRoot() Hash {
	h, _ := blake2b.New256(nil)
	for _, tx := range b.Txs {
		raw, _ := hex.DecodeString(tx.Hash())
		h.Write(raw)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (b *Block) computeHash() Hash {
	h, _ := blake2b.New256(nil)
	buf := make([]byte, 8)
	h.Write(b.ParentHash[:])
	binary.BigEndian.PutUint64(buf, b.Epoch)
	h.Write(buf)
	binary.BigEndian.PutUint64(buf, b.Slot)
	h.Write(buf)
	binary.BigEndian.PutUint64(buf, b.Height)
	h.Write(buf)
	h.Write([]byte(b.LeaderID))
	binary.BigEndian.PutUint64(buf, uint64(b.Timestamp.UnixNano()))
	h.Write(buf)
	h.Write(b.TxRoot[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyContent recomputes TxRoot and BlockHash and checks they match the
// declared values. Used on externally received blocks.
func (b *Block) VerifyContent() bool {
	return b.TxRoot == b.computeTxRoot() && b.BlockHash == b.computeHash()
}

func (b *Block) Sign(privKey ed25519.PrivateKey) {
	b.Proof = ed25519.Sign(privKey, b.BlockHash[:])
}

func (b *Block) VerifyProof(pubKey ed25519.PublicKey) bool {
	return ed25519.Verify(pubKey, b.BlockHash[:], b.Proof)
}

// TxHashes returns the identities of the carried transactions in order.
func (b *Block) TxHashes() []string {
	hashes := make([]string, 0, len(b.Txs))
	for _, tx := range b.Txs {
		hashes = append(hashes, tx.Hash())
	}
	return hashes
}
