package aa

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Canonical EntryPoint v0.6 deployment; overridable through config.
var (
	EntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	FactoryAddress    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")

	defaultSalt = big.NewInt(0)
)

func SetFactoryAddress(address common.Address) {
	FactoryAddress = address
}

func SetEntrypointAddress(address common.Address) {
	EntrypointAddress = address
}
