// Package paymaster defines the sponsorship capability invoked once per
// operation once gas overheads are known, plus a verifying-paymaster
// implementation modeled on the eth-optimism paymaster reference.
package paymaster

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emailtovamos/bundler/core/chainio/signer"
	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
)

// Provider is the sponsorship capability. Given a near-final operation (all
// fields but paymasterAndData, preVerificationGas and signature resolved) it
// returns the paymasterAndData payload, or nil to leave the operation
// self-funded. It must not touch any other field.
type Provider interface {
	PaymasterAndData(ctx context.Context, op *userop.UserOperation) ([]byte, error)
}

// Clock drift tolerance between this service and the bundler; the validity
// window is backdated by this much.
const validitySkew = 2 * time.Minute

var (
	addressTy = mustType("address")
	uint256Ty = mustType("uint256")
	uint48Ty  = mustType("uint48")
	bytes32Ty = mustType("bytes32")
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Errorf("invalid abi type %q: %w", name, err))
	}
	return t
}

// VerifyingPaymaster sponsors operations by signing them with the paymaster
// contract's verifying key. The contract recomputes the same digest during
// validation, so sponsorship covers exactly the fields hashed here; changing
// nonce or gas limits afterwards voids the sponsorship.
type VerifyingPaymaster struct {
	address  common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	validity time.Duration

	// now is swappable for deterministic tests.
	now func() time.Time
}

func NewVerifyingPaymaster(address common.Address, key *ecdsa.PrivateKey, chainID *big.Int, validity time.Duration) (*VerifyingPaymaster, error) {
	if key == nil {
		return nil, fmt.Errorf("paymaster: verifying key is required")
	}
	if chainID == nil {
		return nil, fmt.Errorf("paymaster: chain id is required")
	}
	if validity <= 0 {
		validity = 10 * time.Minute
	}
	return &VerifyingPaymaster{
		address:  address,
		key:      key,
		chainID:  chainID,
		validity: validity,
		now:      time.Now,
	}, nil
}

// PaymasterAndData returns address ++ abi(validUntil, validAfter) ++ signature.
func (p *VerifyingPaymaster) PaymasterAndData(ctx context.Context, op *userop.UserOperation) ([]byte, error) {
	now := p.now().Unix()
	validAfter := big.NewInt(now - int64(validitySkew.Seconds()))
	validUntil := big.NewInt(now + int64(p.validity.Seconds()))

	hash, err := p.hash(op, validUntil, validAfter)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignMessage(p.key, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("paymaster: signing failed: %w", err)
	}

	window, err := abi.Arguments{{Type: uint48Ty}, {Type: uint48Ty}}.Pack(validUntil, validAfter)
	if err != nil {
		return nil, fmt.Errorf("paymaster: packing validity window failed: %w", err)
	}

	data := append(p.address.Bytes(), window...)
	data = append(data, sig...)
	return data, nil
}

// hash digests the sponsored fields. The paymasterAndData and signature
// fields are excluded: both are filled in after this digest exists.
func (p *VerifyingPaymaster) hash(op *userop.UserOperation, validUntil, validAfter *big.Int) (common.Hash, error) {
	args := abi.Arguments{
		{Name: "sender", Type: addressTy},
		{Name: "nonce", Type: uint256Ty},
		{Name: "hashInitCode", Type: bytes32Ty},
		{Name: "hashCallData", Type: bytes32Ty},
		{Name: "callGasLimit", Type: uint256Ty},
		{Name: "verificationGasLimit", Type: uint256Ty},
		{Name: "chainId", Type: uint256Ty},
		{Name: "paymaster", Type: addressTy},
		{Name: "validUntil", Type: uint48Ty},
		{Name: "validAfter", Type: uint48Ty},
	}

	if op.Nonce == nil || op.CallGasLimit == nil || op.VerificationGasLimit == nil {
		return common.Hash{}, fmt.Errorf("paymaster: operation gas fields must be resolved before sponsorship")
	}

	packed, err := args.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit,
		op.VerificationGasLimit,
		p.chainID,
		p.address,
		validUntil,
		validAfter,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("paymaster: hash encoding failed: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}
