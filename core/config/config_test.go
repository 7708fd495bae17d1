package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: development
eth_rpc_url: http://localhost:8545
bundler_url: http://localhost:4337
owner_private_key: e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultEntrypointAddress, cfg.EntrypointAddress)
	assert.Equal(t, DefaultFactoryAddress, cfg.FactoryAddress)
	assert.Nil(t, cfg.ChainID, "unset chain id stays nil so the builder reads it from the node")
	assert.Equal(t, int64(0), cfg.Salt.Int64())
	assert.Equal(t, 60*time.Second, cfg.InclusionTimeout)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Nil(t, cfg.PaymasterPrivateKey)
	assert.NotEqual(t, "0x0000000000000000000000000000000000000000", cfg.OwnerAddress.Hex())
}

func TestNewConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
eth_rpc_url: http://localhost:8545
bundler_url: http://localhost:4337
owner_private_key: e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95
entrypoint_address: "0x0000000000000000000000000000000000000001"
factory_address: "0x0000000000000000000000000000000000000002"
chain_id: 8453
salt: 7
inclusion_timeout_seconds: 120
poll_interval_seconds: 5
paymaster_address: "0x0000000000000000000000000000000000000003"
paymaster_private_key: e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95
paymaster_validity_seconds: 300
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0x0000000000000000000000000000000000000001", cfg.EntrypointAddress.Hex())
	assert.Equal(t, "0x0000000000000000000000000000000000000002", cfg.FactoryAddress.Hex())
	assert.Equal(t, int64(8453), cfg.ChainID.Int64())
	assert.Equal(t, int64(7), cfg.Salt.Int64())
	assert.Equal(t, 120*time.Second, cfg.InclusionTimeout)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	require.NotNil(t, cfg.PaymasterPrivateKey)
	assert.Equal(t, 5*time.Minute, cfg.PaymasterValidity)
}

func TestNewConfigRejectsBadInput(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, `
environment: development
owner_private_key: e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95
`)
	_, err = NewConfig(path)
	assert.ErrorContains(t, err, "eth_rpc_url")

	path = writeConfig(t, `
environment: development
eth_rpc_url: http://localhost:8545
bundler_url: http://localhost:4337
owner_private_key: not-a-key
`)
	_, err = NewConfig(path)
	assert.ErrorContains(t, err, "owner_private_key")

	path = writeConfig(t, `
environment: development
eth_rpc_url: http://localhost:8545
bundler_url: http://localhost:4337
owner_private_key: e8d5bb4b0b3c907dc02bef202ab6e04a8cf5b69e59196e14f9091a2b4fc5cb95
paymaster_address: "0x0000000000000000000000000000000000000003"
`)
	_, err = NewConfig(path)
	assert.ErrorContains(t, err, "paymaster_private_key")
}
