package transaction

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"norn/common"
)

const (
	TxTypeTransfer = 0
)

// Limits to prevent DoS via oversized inputs
const (
	maxSignatureBase58Len  = 2048
	maxSignatureDecodedLen = 4096
	maxTextDataLen         = 4096
)

type Transaction struct {
	Type      int32        `json:"type"`
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Amount    *uint256.Int `json:"amount"`
	Timestamp uint64       `json:"timestamp"`
	TextData  string       `json:"text_data"`
	Nonce     uint64       `json:"nonce,omitempty"`
	Signature string       `json:"signature,omitempty"`
}

// Serialize returns the canonical byte form covered by the sender signature.
// The signature field itself is excluded.
func (tx *Transaction) Serialize() []byte {
	amountStr := uint256ToString(tx.Amount)
	metadata := fmt.Sprintf(
		"%d|%s|%s|%s|%s|%d",
		tx.Type, tx.Sender, tx.Recipient, amountStr, tx.TextData, tx.Nonce,
	)
	return []byte(metadata)
}

// Verify checks the ed25519 sender signature over Serialize().
func (tx *Transaction) Verify() bool {
	if tx.Signature == "" || len(tx.Signature) > maxSignatureBase58Len {
		return false
	}
	if len(tx.TextData) > maxTextDataLen {
		return false
	}
	pub, err := common.DecodeBase58ToPubkey(tx.Sender)
	if err != nil {
		return false
	}
	signature, err := common.DecodeBase58ToBytes(tx.Signature)
	if err != nil || len(signature) > maxSignatureDecodedLen {
		return false
	}
	return ed25519.Verify(pub, tx.Serialize(), signature)
}

// Sign fills the signature field using the sender's private key.
func (tx *Transaction) Sign(privKey ed25519.PrivateKey) {
	sig := ed25519.Sign(privKey, tx.Serialize())
	tx.Signature = common.EncodeBytesToBase58(sig)
}

func (tx *Transaction) Bytes() []byte {
	b, _ := json.Marshal(tx)
	return b
}

// Hash is the transaction identity: blake2b-256 over the canonical form.
func (tx *Transaction) Hash() string {
	sum := blake2b.Sum256(tx.Serialize())
	return hex.EncodeToString(sum[:])
}

func uint256ToString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
