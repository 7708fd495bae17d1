package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/core/chainio/signer"
)

// SimpleAccount adapts the reference SimpleAccount wallet: CREATE2 deployment
// through SimpleAccountFactory.createAccount(owner, salt), execute() call
// encoding, and EIP-191 owner signatures.
type SimpleAccount struct {
	client     *ethclient.Client
	entryPoint common.Address
	factory    common.Address
	ownerKey   *ecdsa.PrivateKey
	salt       *big.Int
}

func NewSimpleAccount(client *ethclient.Client, entryPoint, factory common.Address, ownerKey *ecdsa.PrivateKey, salt *big.Int) (*SimpleAccount, error) {
	if ownerKey == nil {
		return nil, fmt.Errorf("account: owner key is required")
	}
	if salt == nil {
		salt = big.NewInt(0)
	}
	return &SimpleAccount{
		client:     client,
		entryPoint: entryPoint,
		factory:    factory,
		ownerKey:   ownerKey,
		salt:       salt,
	}, nil
}

// Owner returns the EOA controlling the smart account.
func (a *SimpleAccount) Owner() common.Address {
	return crypto.PubkeyToAddress(a.ownerKey.PublicKey)
}

func (a *SimpleAccount) InitCode() ([]byte, error) {
	return aa.GetInitCode(a.factory, a.Owner(), a.salt)
}

func (a *SimpleAccount) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	// Nonce key 0: SimpleAccount uses the sequential namespace only.
	return aa.GetNonce(ctx, a.client, a.entryPoint, sender, nil)
}

func (a *SimpleAccount) EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return aa.PackExecute(target, value, data)
}

func (a *SimpleAccount) SignUserOpHash(hash common.Hash) ([]byte, error) {
	return signer.SignMessage(a.ownerKey, hash.Bytes())
}
