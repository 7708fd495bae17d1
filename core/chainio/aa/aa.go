// Package aa provides the entrypoint and factory plumbing the UserOperation
// pipeline needs: deployment payload assembly, counterfactual sender
// resolution, nonce reads and execution-call encoding.
//
// The ABI fragments are pinned literals. Deriving them from an external
// contract interface would let an upstream reordering silently change the
// encoding, so only the handful of members we call are declared here.
package aa

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const entryPointABIJSON = `[
	{"type":"function","name":"getSenderAddress","stateMutability":"nonpayable","inputs":[{"name":"initCode","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"error","name":"SenderAddressResult","inputs":[{"name":"sender","type":"address"}]},
	{"type":"event","name":"UserOperationEvent","anonymous":false,"inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"actualGasCost","type":"uint256","indexed":false},
		{"name":"actualGasUsed","type":"uint256","indexed":false}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]}
]`

const accountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

var (
	entryPointABI abi.ABI
	factoryABI    abi.ABI
	accountABI    abi.ABI

	// UserOpEventTopic is topic0 of UserOperationEvent; receipt polling keys
	// its log filter on it plus the operation hash.
	UserOpEventTopic common.Hash

	senderAddressResult abi.Error
)

// ErrSenderResolution marks a broken or incompatible factory: the simulated
// getSenderAddress call either succeeded or reverted without the expected
// SenderAddressResult payload. Not retried.
var ErrSenderResolution = errors.New("aa: getSenderAddress did not revert with SenderAddressResult")

func init() {
	var err error
	if entryPointABI, err = abi.JSON(strings.NewReader(entryPointABIJSON)); err != nil {
		panic(fmt.Errorf("invalid entrypoint ABI: %w", err))
	}
	if factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON)); err != nil {
		panic(fmt.Errorf("invalid factory ABI: %w", err))
	}
	if accountABI, err = abi.JSON(strings.NewReader(accountABIJSON)); err != nil {
		panic(fmt.Errorf("invalid account ABI: %w", err))
	}
	UserOpEventTopic = entryPointABI.Events["UserOperationEvent"].ID
	senderAddressResult = entryPointABI.Errors["SenderAddressResult"]
}

// GetInitCode returns the deployment payload for a counterfactual account:
// the factory address followed by the createAccount calldata.
func GetInitCode(factory common.Address, owner common.Address, salt *big.Int) ([]byte, error) {
	if salt == nil {
		salt = defaultSalt
	}

	calldata, err := factoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, fmt.Errorf("aa: packing createAccount failed: %w", err)
	}

	var data []byte
	data = append(data, factory.Bytes()...)
	data = append(data, calldata...)
	return data, nil
}

// GetSenderAddress resolves the counterfactual account address for a
// deployment payload by simulating entryPoint.getSenderAddress(initCode).
// The entrypoint intentionally reverts with SenderAddressResult(address);
// the revert is the success path here, and a call that completes normally
// means the factory is broken.
func GetSenderAddress(ctx context.Context, client *ethclient.Client, entryPoint common.Address, initCode []byte) (common.Address, error) {
	calldata, err := entryPointABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, fmt.Errorf("aa: packing getSenderAddress failed: %w", err)
	}

	_, err = client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: calldata}, nil)
	if err == nil {
		return common.Address{}, ErrSenderResolution
	}

	revertData, ok := revertPayload(err)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSenderResolution, err)
	}

	sender, err := unpackSenderAddressResult(revertData)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSenderResolution, err)
	}
	return sender, nil
}

// revertPayload extracts the raw revert data carried by a JSON-RPC error.
func revertPayload(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return nil, false
	}
	return data, true
}

func unpackSenderAddressResult(data []byte) (common.Address, error) {
	selector := senderAddressResult.ID.Bytes()[:4]
	if len(data) < 4 || !strings.EqualFold(hexutil.Encode(data[:4]), hexutil.Encode(selector)) {
		return common.Address{}, fmt.Errorf("revert selector does not match SenderAddressResult")
	}
	values, err := senderAddressResult.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, err
	}
	sender, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected SenderAddressResult payload")
	}
	return sender, nil
}

// GetNonce reads the account's next nonce from the entrypoint.
func GetNonce(ctx context.Context, client *ethclient.Client, entryPoint, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = defaultSalt
	}

	calldata, err := entryPointABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, fmt.Errorf("aa: packing getNonce failed: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("aa: getNonce call failed: %w", err)
	}

	values, err := entryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("aa: decoding getNonce result failed: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("aa: unexpected getNonce result")
	}
	return nonce, nil
}

// HasCode reports whether an address carries deployed bytecode. Phantom
// detection and the entrypoint sanity check both go through here.
func HasCode(ctx context.Context, client *ethclient.Client, addr common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("aa: code lookup at %s failed: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// UserOpEvent is a decoded UserOperationEvent emitted by the entrypoint when
// a bundle lands on chain.
type UserOpEvent struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     common.Address
	Nonce         *big.Int
	Success       bool
	ActualGasCost *big.Int
	ActualGasUsed *big.Int

	TxHash      common.Hash
	BlockNumber uint64
}

// ParseUserOpEvent decodes a UserOperationEvent log. The caller is expected
// to have filtered on UserOpEventTopic already.
func ParseUserOpEvent(lg types.Log) (*UserOpEvent, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != UserOpEventTopic {
		return nil, fmt.Errorf("aa: log is not a UserOperationEvent")
	}

	values, err := entryPointABI.Events["UserOperationEvent"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("aa: decoding UserOperationEvent failed: %w", err)
	}

	ev := &UserOpEvent{
		UserOpHash:  lg.Topics[1],
		Sender:      common.BytesToAddress(lg.Topics[2].Bytes()),
		Paymaster:   common.BytesToAddress(lg.Topics[3].Bytes()),
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
	}

	var ok bool
	if ev.Nonce, ok = values[0].(*big.Int); !ok {
		return nil, fmt.Errorf("aa: unexpected UserOperationEvent nonce")
	}
	if ev.Success, ok = values[1].(bool); !ok {
		return nil, fmt.Errorf("aa: unexpected UserOperationEvent success flag")
	}
	if ev.ActualGasCost, ok = values[2].(*big.Int); !ok {
		return nil, fmt.Errorf("aa: unexpected UserOperationEvent gas cost")
	}
	if ev.ActualGasUsed, ok = values[3].(*big.Int); !ok {
		return nil, fmt.Errorf("aa: unexpected UserOperationEvent gas used")
	}
	return ev, nil
}

// PackExecute generates the account's execute() calldata for a UserOperation.
func PackExecute(target common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	if ethValue == nil {
		ethValue = big.NewInt(0)
	}
	if calldata == nil {
		calldata = []byte{}
	}
	return accountABI.Pack("execute", target, ethValue, calldata)
}
