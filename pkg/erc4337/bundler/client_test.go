package bundler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/core/testutil"
	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
)

func testOp() userop.UserOperation {
	return userop.UserOperation{
		Sender:               testutil.TestSenderAddress(),
		Nonce:                big.NewInt(0),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(200_000),
		VerificationGasLimit: big.NewInt(100_000),
		PreVerificationGas:   big.NewInt(48_000),
		Signature:            make([]byte, 65),
	}
}

func TestNewBundlerClientVerifiesChainID(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	chainID, err := bc.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.TestChainID(), chainID)
}

func TestNewBundlerClientChainIDMismatch(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	_, err := NewBundlerClient(stub.URL(), big.NewInt(1), nil)
	require.ErrorIs(t, err, ErrChainIDMismatch)
	assert.Zero(t, stub.CallCount("eth_sendUserOperation"), "nothing may be sent after a mismatch")
}

func TestSendUserOperationReturnsAcknowledgedHash(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	opHash := "0xa60d3a712b0076bfdb2e4a96a40c4737d1890235726a04dbba1c43d4fd76a0b7"
	stub.Handle("eth_sendUserOperation", func(params []json.RawMessage) (any, *testutil.RPCError) {
		var uo UserOperation
		if err := json.Unmarshal(params[0], &uo); err != nil {
			return nil, &testutil.RPCError{Code: -32602, Message: err.Error()}
		}
		if uo.Signature == "" || uo.Nonce == "" {
			return nil, &testutil.RPCError{Code: -32602, Message: "missing fields"}
		}
		return opHash, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	got, err := bc.SendUserOperation(context.Background(), testOp(), testutil.TestEntrypointAddress())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(opHash), got)
	assert.Equal(t, 1, stub.CallCount("eth_sendUserOperation"))
}

func TestSendUserOperationRejectionIsNotRetried(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	stub.Handle("eth_sendUserOperation", func([]json.RawMessage) (any, *testutil.RPCError) {
		return nil, &testutil.RPCError{Code: -32500, Message: "AA25 invalid account nonce"}
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	_, err = bc.SendUserOperation(context.Background(), testOp(), testutil.TestEntrypointAddress())
	require.Error(t, err)
	assert.ErrorContains(t, err, "AA25")
	assert.Equal(t, 1, stub.CallCount("eth_sendUserOperation"),
		"an endpoint verdict is final, only transport failures fall back to the RPC path")
}

func TestSendUserOperationRejectsUnresolvedOp(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	op := testOp()
	op.PreVerificationGas = nil
	_, err = bc.SendUserOperation(context.Background(), op, testutil.TestEntrypointAddress())
	require.Error(t, err)
	assert.Zero(t, stub.CallCount("eth_sendUserOperation"), "validation failures must stay local")
}

func TestEstimateUserOperationGas(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	stub.Handle("eth_estimateUserOperationGas", func([]json.RawMessage) (any, *testutil.RPCError) {
		return map[string]string{
			"preVerificationGas":   "0xafc8",
			"verificationGasLimit": "0x186a0",
			"callGasLimit":         "0x30d40",
		}, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	est, err := bc.EstimateUserOperationGas(context.Background(), testOp(), testutil.TestEntrypointAddress(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), est.PreVerificationGas.Int64())
	assert.Equal(t, int64(100000), est.VerificationGasLimit.Int64())
	assert.Equal(t, int64(200000), est.CallGasLimit.Int64())
}

func TestGetUserOperationReceipt(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	stub.Handle("eth_getUserOperationReceipt", func([]json.RawMessage) (any, *testutil.RPCError) {
		return map[string]any{
			"userOpHash":    "0xa60d3a712b0076bfdb2e4a96a40c4737d1890235726a04dbba1c43d4fd76a0b7",
			"sender":        testutil.TestSenderAddress().Hex(),
			"nonce":         "0x0",
			"success":       true,
			"actualGasCost": "0xf4240",
			"actualGasUsed": "0x6ddd0",
			"receipt": map[string]any{
				"transactionHash": "0x53beb2163994510e0984b436ebc828dc57e480ee671cfbe7ed52776c2a4830c8",
				"blockNumber":     "0x6e0f81",
			},
			"logs": []any{}, // extra members must be ignored
		}, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	receipt, err := bc.GetUserOperationReceipt(context.Background(), common.HexToHash("0xa60d3a712b0076bfdb2e4a96a40c4737d1890235726a04dbba1c43d4fd76a0b7"))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Success)
	assert.Equal(t, "0x53beb2163994510e0984b436ebc828dc57e480ee671cfbe7ed52776c2a4830c8", receipt.Receipt.TransactionHash)
}

func TestGetUserOperationReceiptPending(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	stub.Handle("eth_getUserOperationReceipt", func([]json.RawMessage) (any, *testutil.RPCError) {
		return nil, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	receipt, err := bc.GetUserOperationReceipt(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestPollForReceiptZeroTimeoutQueriesOnce(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	stub.Handle("eth_getLogs", func([]json.RawMessage) (any, *testutil.RPCError) {
		return []any{}, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	client, err := ethclient.Dial(stub.URL())
	require.NoError(t, err)
	defer client.Close()

	ev, err := bc.PollForReceipt(context.Background(), client, testutil.TestEntrypointAddress(), common.Hash{}, 0, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, ev, "deadline exhaustion is not an error")
	assert.Equal(t, 1, stub.CallCount("eth_getLogs"))
}

func TestPollForReceiptFindsEvent(t *testing.T) {
	stub := testutil.NewRPCStub()
	defer stub.Close()

	opHash := common.HexToHash("0xa60d3a712b0076bfdb2e4a96a40c4737d1890235726a04dbba1c43d4fd76a0b7")

	uint256Ty, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	boolTy, err := abi.NewType("bool", "", nil)
	require.NoError(t, err)
	data, err := abi.Arguments{
		{Type: uint256Ty}, {Type: boolTy}, {Type: uint256Ty}, {Type: uint256Ty},
	}.Pack(big.NewInt(0), true, big.NewInt(1_000_000), big.NewInt(450_000))
	require.NoError(t, err)

	stub.Handle("eth_getLogs", func([]json.RawMessage) (any, *testutil.RPCError) {
		return []any{map[string]any{
			"address": testutil.TestEntrypointAddress().Hex(),
			"topics": []string{
				aa.UserOpEventTopic.Hex(),
				opHash.Hex(),
				common.BytesToHash(testutil.TestSenderAddress().Bytes()).Hex(),
				common.Hash{}.Hex(),
			},
			"data":             hexutil.Encode(data),
			"blockNumber":      "0x6e0f81",
			"transactionHash":  "0x53beb2163994510e0984b436ebc828dc57e480ee671cfbe7ed52776c2a4830c8",
			"transactionIndex": "0x0",
			"blockHash":        common.Hash{}.Hex(),
			"logIndex":         "0x0",
			"removed":          false,
		}}, nil
	})

	bc, err := NewBundlerClient(stub.URL(), testutil.TestChainID(), nil)
	require.NoError(t, err)
	defer bc.Close()

	client, err := ethclient.Dial(stub.URL())
	require.NoError(t, err)
	defer client.Close()

	ev, err := bc.PollForReceipt(context.Background(), client, testutil.TestEntrypointAddress(), opHash, 0, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, opHash, ev.UserOpHash)
	assert.True(t, ev.Success)
	assert.Equal(t, uint64(0x6e0f81), ev.BlockNumber)
}

func TestToWireEmptyBytesEncoding(t *testing.T) {
	op := testOp()
	op.InitCode = nil
	op.PaymasterAndData = nil

	uo, err := toWire(op)
	require.NoError(t, err)
	assert.Equal(t, "0x", uo.InitCode)
	assert.Equal(t, "0x", uo.PaymasterAndData)
	assert.Equal(t, "0x0", uo.Nonce)
}
