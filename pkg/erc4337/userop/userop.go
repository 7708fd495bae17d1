// Package userop defines the ERC-4337 UserOperation record and its canonical
// ABI encoding. The signature-mode encoding here must match byte-for-byte what
// the entrypoint reconstructs on-chain; the field order is pinned by an
// explicit schema and never derived from an external ABI file.
package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation represents an EIP-4337 style transaction for a smart contract
// account. A record is built field by field and treated as immutable once
// signed; re-sending requires a fresh nonce.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

var (
	// fullType is the transmission-shaped tuple: every dynamic field inlined
	// as length-prefixed bytes.
	fullType = mustTupleType([]abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "signature", Type: "bytes"},
	})

	// sigType is the hash-shaped tuple: same order and widths, but dynamic
	// fields collapse to their keccak digests. The signature stays declared as
	// bytes and is packed empty; its zero-length encoding is stripped below so
	// the signature can never feed into what it signs.
	sigType = mustTupleType([]abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes32"},
		{Name: "callData", Type: "bytes32"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes32"},
		{Name: "signature", Type: "bytes"},
	})

	fullArgs = abi.Arguments{{Name: "userOp", Type: fullType}}
	sigArgs  = abi.Arguments{{Name: "userOp", Type: sigType}}

	hashArgs = abi.Arguments{
		{Name: "userOpHash", Type: mustType("bytes32")},
		{Name: "entryPoint", Type: mustType("address")},
		{Name: "chainId", Type: mustType("uint256")},
	}
)

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Errorf("invalid userOp tuple schema: %w", err))
	}
	return t
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Errorf("invalid abi type %q: %w", name, err))
	}
	return t
}

// fullTuple mirrors fullType for reflection-based packing.
type fullTuple struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// sigTuple mirrors sigType for reflection-based packing.
type sigTuple struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             common.Hash
	CallData             common.Hash
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	PaymasterAndData     common.Hash
	Signature            []byte
}

// checkResolved rejects an op that still carries unresolved numeric fields.
// Encoding a half-built record would silently produce a hash the verifier
// rejects, so this is a hard error before any byte is emitted.
func (op *UserOperation) checkResolved() error {
	switch {
	case op.Nonce == nil:
		return fmt.Errorf("userop: nonce is not resolved")
	case op.CallGasLimit == nil:
		return fmt.Errorf("userop: callGasLimit is not resolved")
	case op.VerificationGasLimit == nil:
		return fmt.Errorf("userop: verificationGasLimit is not resolved")
	case op.PreVerificationGas == nil:
		return fmt.Errorf("userop: preVerificationGas is not resolved")
	}
	return nil
}

// Pack returns the full ABI tuple encoding of the operation, with every
// variable-length field inlined. This form is only used to size calldata (the
// pre-verification gas walk); hashing always goes through PackForSignature.
func (op *UserOperation) Pack() ([]byte, error) {
	if err := op.checkResolved(); err != nil {
		return nil, err
	}

	packed, err := fullArgs.Pack(fullTuple{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             noNilBytes(op.InitCode),
		CallData:             noNilBytes(op.CallData),
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		PaymasterAndData:     noNilBytes(op.PaymasterAndData),
		Signature:            noNilBytes(op.Signature),
	})
	if err != nil {
		return nil, fmt.Errorf("userop: full encoding failed: %w", err)
	}
	return packed, nil
}

// PackForSignature returns the hash-oriented encoding: the digest of each
// dynamic field takes its place in the tuple, the signature is packed empty,
// and then both the leading offset word of the outer tuple and the trailing
// zero-length signature word are stripped. The remaining words are exactly
// what the entrypoint hashes when it re-derives the operation hash.
func (op *UserOperation) PackForSignature() ([]byte, error) {
	if err := op.checkResolved(); err != nil {
		return nil, err
	}

	packed, err := sigArgs.Pack(sigTuple{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             crypto.Keccak256Hash(op.InitCode),
		CallData:             crypto.Keccak256Hash(op.CallData),
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		PaymasterAndData:     crypto.Keccak256Hash(op.PaymasterAndData),
		Signature:            []byte{},
	})
	if err != nil {
		return nil, fmt.Errorf("userop: signature encoding failed: %w", err)
	}

	// Leading word: offset of the dynamic tuple. Trailing word: length of the
	// empty signature placeholder. Neither participates in the hash.
	if len(packed) < 64 {
		return nil, fmt.Errorf("userop: signature encoding too short: %d bytes", len(packed))
	}
	return packed[32 : len(packed)-32], nil
}

// GetUserOpHash derives the 32-byte operation hash signed by the account and
// independently recomputed by the entrypoint:
// keccak256(abi.encode(keccak256(packForSignature(op)), entryPoint, chainID)).
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("userop: chain id is required for hashing")
	}

	packed, err := op.PackForSignature()
	if err != nil {
		return common.Hash{}, err
	}

	enc, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("userop: hash encoding failed: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// noNilBytes normalizes nil byte fields to the canonical empty encoding. The
// abi encoder treats nil and empty identically, but copies here keep the
// packed form independent from later mutation of the source slices.
func noNilBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
