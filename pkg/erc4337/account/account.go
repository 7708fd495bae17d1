// Package account defines the per-wallet capability set the UserOperation
// builder consumes. Wallet kinds differ in how they deploy, count nonces,
// encode execution and sign; everything else in the pipeline is generic, so
// the variation lives behind this narrow interface instead of a hierarchy.
package account

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account supplies the wallet-specific pieces of a UserOperation. The builder
// derives everything else (counterfactual address, phantom state) generically
// from these.
type Account interface {
	// InitCode returns the counterfactual deployment payload: factory address
	// followed by its creation calldata. It is supplied unconditionally; the
	// builder attaches it only while the account has no on-chain code.
	InitCode() ([]byte, error)

	// Nonce returns the account's next nonce as tracked by the entrypoint.
	Nonce(ctx context.Context, sender common.Address) (*big.Int, error)

	// EncodeExecute wraps a target call into the wallet's execution calldata.
	EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error)

	// SignUserOpHash signs the canonical operation hash in whatever scheme
	// the wallet's validateUserOp checks.
	SignUserOpHash(hash common.Hash) ([]byte, error)
}
