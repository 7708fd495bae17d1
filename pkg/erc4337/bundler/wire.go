package bundler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"

	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
)

// UserOperation is the JSON wire form of a user operation: every numeric and
// bytes field travels as a 0x-prefixed hex string, per the bundler RPC spec.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                string         `json:"nonce" validate:"required,hexadecimal"`
	InitCode             string         `json:"initCode" validate:"required,hexprefixed"`
	CallData             string         `json:"callData" validate:"required,hexprefixed"`
	CallGasLimit         string         `json:"callGasLimit" validate:"required,hexadecimal"`
	VerificationGasLimit string         `json:"verificationGasLimit" validate:"required,hexadecimal"`
	PreVerificationGas   string         `json:"preVerificationGas" validate:"required,hexadecimal"`
	PaymasterAndData     string         `json:"paymasterAndData" validate:"required,hexprefixed"`
	Signature            string         `json:"signature" validate:"required,hexprefixed"`
}

// GasEstimation is the bundler's answer to eth_estimateUserOperationGas.
type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// UserOperationReceipt is the bundler's answer to eth_getUserOperationReceipt.
// Only the fields the pipeline consumes are decoded; bundlers attach extra
// members freely and mapstructure ignores them.
type UserOperationReceipt struct {
	UserOpHash    string `mapstructure:"userOpHash"`
	Sender        string `mapstructure:"sender"`
	Nonce         string `mapstructure:"nonce"`
	Paymaster     string `mapstructure:"paymaster"`
	Success       bool   `mapstructure:"success"`
	ActualGasCost string `mapstructure:"actualGasCost"`
	ActualGasUsed string `mapstructure:"actualGasUsed"`
	Receipt       struct {
		TransactionHash string `mapstructure:"transactionHash"`
		BlockNumber     string `mapstructure:"blockNumber"`
	} `mapstructure:"receipt"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// "hexadecimal" rejects "0x" on its own, which is the legal encoding of
	// empty bytes fields, so those use a prefix-only rule instead.
	if err := v.RegisterValidation("hexprefixed", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) < 2 || s[0:2] != "0x" {
			return false
		}
		_, err := hexutil.Decode(s)
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// toWire converts a fully resolved operation into its hex wire form and
// validates the result. A conversion failure here means the builder let an
// unresolved operation through.
func toWire(op userop.UserOperation) (UserOperation, error) {
	if op.Nonce == nil || op.CallGasLimit == nil || op.VerificationGasLimit == nil || op.PreVerificationGas == nil {
		return UserOperation{}, fmt.Errorf("bundler: operation has unresolved numeric fields")
	}
	uo := UserOperation{
		Sender:               op.Sender,
		Nonce:                fmt.Sprintf("0x%x", op.Nonce),
		InitCode:             fmt.Sprintf("0x%x", op.InitCode),
		CallData:             fmt.Sprintf("0x%x", op.CallData),
		CallGasLimit:         fmt.Sprintf("0x%x", op.CallGasLimit),
		VerificationGasLimit: fmt.Sprintf("0x%x", op.VerificationGasLimit),
		PreVerificationGas:   fmt.Sprintf("0x%x", op.PreVerificationGas),
		PaymasterAndData:     fmt.Sprintf("0x%x", op.PaymasterAndData),
		Signature:            fmt.Sprintf("0x%x", op.Signature),
	}
	if err := validate.Struct(uo); err != nil {
		return uo, fmt.Errorf("bundler: wire validation failed: %w", err)
	}
	return uo, nil
}

func parseHexBig(s string) (*big.Int, error) {
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("bundler: bad hex quantity %q: %w", s, err)
	}
	return v, nil
}
