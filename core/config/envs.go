package config

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// EntryPoint v0.6 and the reference SimpleAccountFactory, deployed at the
	// same address on every supported chain.
	DefaultEntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	DefaultFactoryAddress    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")

	MainnetChainID = big.NewInt(1)
	SepoliaChainID = big.NewInt(11155111)
	BaseChainID    = big.NewInt(8453)
)

// EtherscanURL returns the block explorer base URL for the chains the CLI
// prints links for; unknown chains fall back to mainnet.
func EtherscanURL(chainID *big.Int) string {
	if chainID == nil {
		return "https://etherscan.io"
	}
	switch chainID.Int64() {
	case SepoliaChainID.Int64():
		return "https://sepolia.etherscan.io"
	case BaseChainID.Int64():
		return "https://basescan.org"
	default:
		return "https://etherscan.io"
	}
}
