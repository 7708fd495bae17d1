// Package gas sizes the three gas-limit fields of a UserOperation from static
// overhead tables and dry-run estimates against the node.
package gas

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
)

// Overheads holds the protocol-level constants behind the pre-verification
// gas estimate. Immutable after construction; one instance is shared
// read-only across estimations.
type Overheads struct {
	// Fixed is the per-bundle transaction overhead, amortized over BundleSize.
	Fixed uint64
	// PerUserOp covers entrypoint bookkeeping per operation.
	PerUserOp uint64
	// ZeroByte and NonZeroByte are the calldata costs per byte class.
	ZeroByte    uint64
	NonZeroByte uint64
	// BundleSize is the assumed number of operations sharing Fixed.
	BundleSize uint64
}

// DefaultOverheads returns the reference estimator's constants.
func DefaultOverheads() *Overheads {
	return &Overheads{
		Fixed:       21000,
		PerUserOp:   18300,
		ZeroByte:    4,
		NonZeroByte: 16,
		BundleSize:  1,
	}
}

// verificationGasBase is the conservative baseline covering signature
// validation on an already-deployed account.
const verificationGasBase = 100_000

// placeholderSignature stands in for the real signature while sizing
// calldata; only its length matters.
var placeholderSignature = make([]byte, 65)

// CalcPreVerificationGas computes the gas the bundler cannot meter on-chain:
// calldata availability plus fixed execution overhead, as a function of the
// operation's full encoded length. Every other field, including any paymaster
// payload, must already carry its near-final value because its byte length
// feeds the estimate. Pure given resolved inputs.
func CalcPreVerificationGas(op *userop.UserOperation, ov *Overheads) (*big.Int, error) {
	if ov == nil {
		ov = DefaultOverheads()
	}
	if ov.BundleSize == 0 {
		return nil, fmt.Errorf("gas: bundle size must be positive")
	}

	// Size against a copy: the signature is not known yet, and the
	// preVerificationGas word itself is fixed-width whatever we put there.
	sized := *op
	if len(sized.Signature) == 0 {
		sized.Signature = placeholderSignature
	}
	if sized.PreVerificationGas == nil {
		sized.PreVerificationGas = big.NewInt(0)
	}

	packed, err := sized.Pack()
	if err != nil {
		return nil, err
	}

	zeros := uint64(lo.CountBy(packed, func(b byte) bool { return b == 0 }))
	nonZeros := uint64(len(packed)) - zeros

	total := ov.Fixed/ov.BundleSize +
		ov.PerUserOp +
		zeros*ov.ZeroByte +
		nonZeros*ov.NonZeroByte

	return new(big.Int).SetUint64(total), nil
}

// EstimateCreationGas dry-runs the deployment payload split out of initCode:
// the first 20 bytes name the factory, the rest is its calldata. An empty
// initCode costs exactly 0. A reverting estimate propagates; the caller must
// not substitute a guessed value.
func EstimateCreationGas(ctx context.Context, estimator ethereum.GasEstimator, initCode []byte) (*big.Int, error) {
	if len(initCode) == 0 {
		return big.NewInt(0), nil
	}
	if len(initCode) < common.AddressLength {
		return nil, fmt.Errorf("gas: initCode too short to carry a factory address: %d bytes", len(initCode))
	}

	factory := common.BytesToAddress(initCode[:common.AddressLength])
	est, err := estimator.EstimateGas(ctx, ethereum.CallMsg{
		To:   &factory,
		Data: initCode[common.AddressLength:],
	})
	if err != nil {
		return nil, fmt.Errorf("gas: creation estimate failed: %w", err)
	}
	return new(big.Int).SetUint64(est), nil
}

// EstimateVerificationGasLimit is the protocol-conservative baseline plus the
// deployment cost when the account does not exist yet.
func EstimateVerificationGasLimit(creationGas *big.Int) *big.Int {
	limit := big.NewInt(verificationGasBase)
	if creationGas != nil {
		limit.Add(limit, creationGas)
	}
	return limit
}

// EstimateCallGasLimit dry-runs the execution calldata against the sender the
// way the entrypoint will invoke it.
func EstimateCallGasLimit(ctx context.Context, estimator ethereum.GasEstimator, entryPoint, sender common.Address, callData []byte) (*big.Int, error) {
	est, err := estimator.EstimateGas(ctx, ethereum.CallMsg{
		From: entryPoint,
		To:   &sender,
		Data: callData,
	})
	if err != nil {
		return nil, fmt.Errorf("gas: call estimate failed: %w", err)
	}
	return new(big.Int).SetUint64(est), nil
}
