package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	sdkutils "github.com/Layr-Labs/eigensdk-go/utils"
)

// SmartWalletConfig carries everything the pipeline needs to build and submit
// operations for one owner key: node and bundler endpoints, the entrypoint
// and factory addresses, and the optional paymaster credentials.
type SmartWalletConfig struct {
	Logger sdklogging.Logger

	EthRpcUrl  string
	BundlerURL string

	EntrypointAddress common.Address
	FactoryAddress    common.Address
	ChainID           *big.Int

	OwnerPrivateKey *ecdsa.PrivateKey
	OwnerAddress    common.Address
	Salt            *big.Int

	// Paymaster sponsorship is enabled when both are set.
	PaymasterAddress    common.Address
	PaymasterPrivateKey *ecdsa.PrivateKey
	PaymasterValidity   time.Duration

	InclusionTimeout time.Duration
	PollInterval     time.Duration
}

// ConfigRaw is the yaml shape read from disk.
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment"`
	EthRpcUrl   string              `yaml:"eth_rpc_url"`
	BundlerURL  string              `yaml:"bundler_url"`

	EntrypointAddress string `yaml:"entrypoint_address"`
	FactoryAddress    string `yaml:"factory_address"`
	ChainID           int64  `yaml:"chain_id"`

	OwnerPrivateKey string `yaml:"owner_private_key"`
	Salt            int64  `yaml:"salt"`

	PaymasterAddress         string `yaml:"paymaster_address"`
	PaymasterPrivateKey      string `yaml:"paymaster_private_key"`
	PaymasterValiditySeconds int64  `yaml:"paymaster_validity_seconds"`

	InclusionTimeoutSeconds int64 `yaml:"inclusion_timeout_seconds"`
	PollIntervalSeconds     int64 `yaml:"poll_interval_seconds"`
}

// NewConfig reads the yaml config file, boots the logger, and resolves keys
// and addresses. Endpoint connectivity is not checked here; the builders do
// that with sentinel errors when they dial.
func NewConfig(configFilePath string) (*SmartWalletConfig, error) {
	var raw ConfigRaw
	if err := sdkutils.ReadYamlConfig(configFilePath, &raw); err != nil {
		return nil, fmt.Errorf("config: reading %s failed: %w", configFilePath, err)
	}

	logger, err := sdklogging.NewZapLogger(raw.Environment)
	if err != nil {
		return nil, err
	}

	if raw.EthRpcUrl == "" || raw.BundlerURL == "" {
		return nil, fmt.Errorf("config: eth_rpc_url and bundler_url are required")
	}

	ownerKey, err := crypto.HexToECDSA(raw.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: parsing owner_private_key failed: %w", err)
	}
	ownerAddr := crypto.PubkeyToAddress(ownerKey.PublicKey)

	cfg := &SmartWalletConfig{
		Logger:            logger,
		EthRpcUrl:         raw.EthRpcUrl,
		BundlerURL:        raw.BundlerURL,
		EntrypointAddress: DefaultEntrypointAddress,
		FactoryAddress:    DefaultFactoryAddress,
		OwnerPrivateKey:   ownerKey,
		OwnerAddress:      ownerAddr,
		Salt:              big.NewInt(raw.Salt),
		InclusionTimeout:  60 * time.Second,
		PollInterval:      2 * time.Second,
	}

	if raw.EntrypointAddress != "" {
		cfg.EntrypointAddress = common.HexToAddress(raw.EntrypointAddress)
	}
	if raw.FactoryAddress != "" {
		cfg.FactoryAddress = common.HexToAddress(raw.FactoryAddress)
	}
	if raw.ChainID != 0 {
		cfg.ChainID = big.NewInt(raw.ChainID)
	}
	if raw.InclusionTimeoutSeconds > 0 {
		cfg.InclusionTimeout = time.Duration(raw.InclusionTimeoutSeconds) * time.Second
	}
	if raw.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollIntervalSeconds) * time.Second
	}

	if raw.PaymasterAddress != "" {
		cfg.PaymasterAddress = common.HexToAddress(raw.PaymasterAddress)
		if raw.PaymasterPrivateKey == "" {
			return nil, fmt.Errorf("config: paymaster_address set without paymaster_private_key")
		}
		cfg.PaymasterPrivateKey, err = crypto.HexToECDSA(raw.PaymasterPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("config: parsing paymaster_private_key failed: %w", err)
		}
		cfg.PaymasterValidity = 10 * time.Minute
		if raw.PaymasterValiditySeconds > 0 {
			cfg.PaymasterValidity = time.Duration(raw.PaymasterValiditySeconds) * time.Second
		}
	}

	return cfg, nil
}
