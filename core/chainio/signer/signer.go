// Package signer implements EIP-191 personal-message signing, the signature
// scheme SimpleAccount's validateUserOp expects over the operation hash.
package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const eip191Prefix = "\x19Ethereum Signed Message:\n"

// SignMessage generates an EIP-191 signature over data. The recovery id is
// shifted to the 27/28 convention smart contracts expect.
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	prefixedData := append(prefix, data...)
	hash := crypto.Keccak256Hash(prefixedData)

	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func SignMessageAsHex(key *ecdsa.PrivateKey, data []byte) (string, error) {
	signature, err := SignMessage(key, data)
	if err != nil {
		return "", err
	}
	return common.Bytes2Hex(signature), nil
}

// RecoverSigner returns the address that produced an EIP-191 signature over
// data, for local self-checks before submission.
func RecoverSigner(data []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signer: signature must be 65 bytes, got %d", len(sig))
	}

	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	prefixedData := append(prefix, data...)
	hash := crypto.Keccak256Hash(prefixedData)

	adjusted := make([]byte, 65)
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}

	pub, err := crypto.SigToPub(hash.Bytes(), adjusted)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
