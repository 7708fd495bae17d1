package bundler

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emailtovamos/bundler/pkg/logger"
)

// NonceManager hands out nonces for sequential submissions from the same
// sender. The entrypoint only knows about mined operations, so a second
// operation sent before the first lands would otherwise reuse its nonce and
// be rejected by the bundler mempool. The cache holds the next nonce per
// sender and is reconciled against chain state on every read.
type NonceManager struct {
	mu            sync.RWMutex
	pendingNonces map[common.Address]*big.Int
	logger        logger.Logger
}

func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[common.Address]*big.Int),
		logger:        logger.EnsureLogger(log),
	}
}

// NextNonce returns max(on-chain nonce, cached nonce) for the sender. The
// on-chain value wins when it is ahead: either the pending operations mined
// or the bundler dropped them, and in both cases the chain is authoritative.
func (nm *NonceManager) NextNonce(sender common.Address, fetchOnChain func() (*big.Int, error)) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChain, err := fetchOnChain()
	if err != nil {
		return nil, err
	}

	cached, ok := nm.pendingNonces[sender]
	if !ok || onChain.Cmp(cached) > 0 {
		return new(big.Int).Set(onChain), nil
	}
	nm.logger.Debugf("using cached nonce %s for %s (on-chain %s)", cached, sender.Hex(), onChain)
	return new(big.Int).Set(cached), nil
}

// MarkSubmitted records that an operation with the given nonce went out, so
// the next operation from this sender uses nonce+1 without waiting for a
// bundle.
func (nm *NonceManager) MarkSubmitted(sender common.Address, nonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.pendingNonces[sender] = new(big.Int).Add(nonce, big.NewInt(1))
}

// Reset drops the cached nonce for a sender, forcing the next read to trust
// chain state. Called after a nonce conflict from the bundler.
func (nm *NonceManager) Reset(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pendingNonces, sender)
}

// CachedNonce returns the cached next nonce without touching the chain.
func (nm *NonceManager) CachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	nonce, ok := nm.pendingNonces[sender]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}
