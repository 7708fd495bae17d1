// Package testutil carries shared fixtures for package tests: a canned owner
// key, addresses, and an in-process JSON-RPC stub that ethclient and the
// bundler client can dial.
package testutil

import (
	"crypto/ecdsa"
	"math/big"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Throwaway key, never funded anywhere.
const testOwnerKeyHex = "e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95"

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

func TestOwnerKey() *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(testOwnerKeyHex)
	if err != nil {
		panic(err)
	}
	return key
}

func TestOwnerAddress() common.Address {
	return crypto.PubkeyToAddress(TestOwnerKey().PublicKey)
}

func TestEntrypointAddress() common.Address {
	return common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
}

func TestFactoryAddress() common.Address {
	return common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
}

func TestSenderAddress() common.Address {
	return common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")
}

func TestChainID() *big.Int {
	return big.NewInt(11155111)
}
