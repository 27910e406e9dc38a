package pipeline

import (
	"errors"
	"fmt"

	"norn/block"
	"norn/common"
)

var ErrBadProof = errors.New("invalid leader proof")

// ProofVerifier is the external cryptographic capability the pipeline invokes
// to check a block's leader proof. Implementations must be side-effect free:
// a block abandoned mid-validation leaves no trace.
type ProofVerifier interface {
	VerifyLeaderProof(b *block.Block) error
}

// Ed25519Verifier checks the leader proof as an ed25519 signature over the
// block hash by the key named in the block's LeaderID.
type Ed25519Verifier struct{}

func (Ed25519Verifier) VerifyLeaderProof(b *block.Block) error {
	pub, err := common.DecodeBase58ToPubkey(b.LeaderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadProof, err)
	}
	if !b.VerifyProof(pub) {
		return fmt.Errorf("%w: signature check failed for leader %s", ErrBadProof, b.LeaderID)
	}
	return nil
}
