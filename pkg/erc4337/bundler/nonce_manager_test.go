package bundler

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nmSender = common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")

func chainNonce(v int64) func() (*big.Int, error) {
	return func() (*big.Int, error) { return big.NewInt(v), nil }
}

func TestNonceManagerSequentialSubmissions(t *testing.T) {
	nm := NewNonceManager(nil)

	n, err := nm.NextNonce(nmSender, chainNonce(4))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n.Int64())

	// Submitted but not yet mined: the chain still says 4.
	nm.MarkSubmitted(nmSender, n)
	n, err = nm.NextNonce(nmSender, chainNonce(4))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n.Int64())
}

func TestNonceManagerChainAheadWins(t *testing.T) {
	nm := NewNonceManager(nil)
	nm.MarkSubmitted(nmSender, big.NewInt(2))

	// Chain advanced past the cache: pending ops mined or were dropped.
	n, err := nm.NextNonce(nmSender, chainNonce(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())
}

func TestNonceManagerReset(t *testing.T) {
	nm := NewNonceManager(nil)
	nm.MarkSubmitted(nmSender, big.NewInt(9))

	_, ok := nm.CachedNonce(nmSender)
	require.True(t, ok)

	nm.Reset(nmSender)
	_, ok = nm.CachedNonce(nmSender)
	assert.False(t, ok)
}
