package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{},
		CallData:             common.FromHex("0xb61d27f6000000000000000000000000d8da6bf26964af9d7eed9e03e53415d37aa96045"),
		CallGasLimit:         big.NewInt(200_000),
		VerificationGasLimit: big.NewInt(100_000),
		PreVerificationGas:   big.NewInt(48_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

var (
	testEntrypoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testChainID    = big.NewInt(11155111)
)

func TestGetUserOpHashDeterministic(t *testing.T) {
	op := sampleOp()

	h1, err := op.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)
	h2, err := op.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other := sampleOp()
	other.Nonce = big.NewInt(8)
	h3, err := other.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestGetUserOpHashBindsEntrypointAndChain(t *testing.T) {
	op := sampleOp()

	h1, err := op.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)

	h2, err := op.GetUserOpHash(common.HexToAddress("0x0000000000000000000000000000000000000001"), testChainID)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	h3, err := op.GetUserOpHash(testEntrypoint, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHashIgnoresSignature(t *testing.T) {
	signed := sampleOp()
	signed.Signature = common.FromHex("0x1234567890abcdef")

	unsigned := sampleOp()

	h1, err := signed.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)
	h2, err := unsigned.GetUserOpHash(testEntrypoint, testChainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "signature content must not feed the hash")

	p1, err := signed.Pack()
	require.NoError(t, err)
	p2, err := unsigned.Pack()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "full encoding carries the signature")
}

func TestPackForSignatureShape(t *testing.T) {
	op := sampleOp()

	packed, err := op.PackForSignature()
	require.NoError(t, err)

	// 8 value words plus the constant offset word of the empty signature.
	assert.Len(t, packed, 9*32)
	assert.Equal(t, op.Sender.Bytes(), packed[12:32], "first word is the left-padded sender")
	assert.Equal(t, big.NewInt(9*32), new(big.Int).SetBytes(packed[8*32:]), "last word is the signature offset")
}

func TestUnresolvedFieldsRejected(t *testing.T) {
	op := sampleOp()
	op.CallGasLimit = nil

	_, err := op.Pack()
	require.Error(t, err)

	_, err = op.GetUserOpHash(testEntrypoint, testChainID)
	require.Error(t, err)

	op = sampleOp()
	_, err = op.GetUserOpHash(testEntrypoint, nil)
	require.Error(t, err)
}

func TestPackTreatsNilBytesAsEmpty(t *testing.T) {
	nilFields := sampleOp()
	nilFields.InitCode = nil
	nilFields.PaymasterAndData = nil
	nilFields.Signature = nil

	emptyFields := sampleOp()

	p1, err := nilFields.Pack()
	require.NoError(t, err)
	p2, err := emptyFields.Pack()
	require.NoError(t, err)
	assert.Equal(t, p2, p1)
}
