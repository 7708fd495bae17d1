// Package preset strings the pipeline together: it takes an execution call
// and walks it through calldata packing, counterfactual resolution, gas
// estimation, optional sponsorship, hashing and signing, then hands the
// finished operation to a bundler.
package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/core/chainio/signer"
	"github.com/emailtovamos/bundler/pkg/erc4337/account"
	"github.com/emailtovamos/bundler/pkg/erc4337/bundler"
	"github.com/emailtovamos/bundler/pkg/erc4337/gas"
	"github.com/emailtovamos/bundler/pkg/erc4337/paymaster"
	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
	"github.com/emailtovamos/bundler/pkg/logger"
)

// ErrEntryPointNotDeployed means the configured entrypoint address carries no
// code on the connected chain. Everything downstream would fail in confusing
// ways, so construction refuses up front.
var ErrEntryPointNotDeployed = errors.New("preset: entrypoint has no code on this chain")

const (
	defaultInclusionTimeout = 60 * time.Second
	defaultPollInterval     = 2 * time.Second
)

// Builder drives one smart account through the construction pipeline. It
// memoizes the resolved sender address and whether the account has been seen
// deployed; the deployed flag only ever flips phantom to deployed, so a stale
// read costs at most one redundant code lookup and the race is benign.
type Builder struct {
	client    *ethclient.Client
	bundler   *bundler.BundlerClient
	account   account.Account
	sponsor   paymaster.Provider // nil means self-funded
	entry     common.Address
	chainID   *big.Int
	overheads *gas.Overheads
	nonces    *bundler.NonceManager
	logger    logger.Logger

	sender   common.Address
	resolved bool
	deployed bool
}

type BuilderOption func(*Builder)

// WithPaymaster makes every built operation pass through the provider once,
// between gas estimation and preVerificationGas sizing.
func WithPaymaster(p paymaster.Provider) BuilderOption {
	return func(b *Builder) { b.sponsor = p }
}

func WithOverheads(ov *gas.Overheads) BuilderOption {
	return func(b *Builder) { b.overheads = ov }
}

func WithEntryPoint(entry common.Address) BuilderOption {
	return func(b *Builder) { b.entry = entry }
}

// NewBuilder wires a builder against a node and a bundler endpoint. It reads
// the chain id from the node, cross-checks it against the bundler, and
// verifies the entrypoint is actually deployed.
func NewBuilder(ctx context.Context, client *ethclient.Client, bundlerClient *bundler.BundlerClient, acct account.Account, log logger.Logger, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		client:    client,
		bundler:   bundlerClient,
		account:   acct,
		entry:     aa.EntrypointAddress,
		overheads: gas.DefaultOverheads(),
		nonces:    bundler.NewNonceManager(log),
		logger:    logger.EnsureLogger(log),
	}
	for _, opt := range opts {
		opt(b)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("preset: reading chain id failed: %w", err)
	}
	b.chainID = chainID

	bundlerChainID, err := bundlerClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if bundlerChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: node reports %s, bundler reports %s", bundler.ErrChainIDMismatch, chainID, bundlerChainID)
	}

	deployed, err := aa.HasCode(ctx, client, b.entry)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotDeployed, b.entry.Hex())
	}
	return b, nil
}

// ChainID returns the chain id the builder hashes operations against.
func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// Sender resolves the smart account address. The CREATE2 derivation is pure,
// so the first successful resolution is cached for the life of the builder.
func (b *Builder) Sender(ctx context.Context) (common.Address, error) {
	if b.resolved {
		return b.sender, nil
	}

	initCode, err := b.account.InitCode()
	if err != nil {
		return common.Address{}, err
	}
	sender, err := aa.GetSenderAddress(ctx, b.client, b.entry, initCode)
	if err != nil {
		return common.Address{}, err
	}

	b.sender = sender
	b.resolved = true
	return sender, nil
}

// isPhantom reports whether the account still needs its initCode. Once an
// account is seen deployed it never goes back.
func (b *Builder) isPhantom(ctx context.Context, sender common.Address) (bool, error) {
	if b.deployed {
		return false, nil
	}
	deployed, err := aa.HasCode(ctx, b.client, sender)
	if err != nil {
		return false, err
	}
	if deployed {
		b.deployed = true
	}
	return !deployed, nil
}

// BuildSignedOp assembles and signs a complete operation for a single
// execute(target, value, data) call. Field order matters: gas limits before
// sponsorship, sponsorship before preVerificationGas, preVerificationGas
// before the hash, and nothing mutated after signing.
func (b *Builder) BuildSignedOp(ctx context.Context, target common.Address, value *big.Int, data []byte) (*userop.UserOperation, error) {
	sender, err := b.Sender(ctx)
	if err != nil {
		return nil, err
	}

	callData, err := b.account.EncodeExecute(target, value, data)
	if err != nil {
		return nil, fmt.Errorf("preset: packing execute calldata failed: %w", err)
	}

	var initCode []byte
	phantom, err := b.isPhantom(ctx, sender)
	if err != nil {
		return nil, err
	}
	if phantom {
		if initCode, err = b.account.InitCode(); err != nil {
			return nil, err
		}
	}

	nonce, err := b.nonces.NextNonce(sender, func() (*big.Int, error) {
		return b.account.Nonce(ctx, sender)
	})
	if err != nil {
		return nil, fmt.Errorf("preset: reading nonce failed: %w", err)
	}

	op := &userop.UserOperation{
		Sender:           sender,
		Nonce:            nonce,
		InitCode:         initCode,
		CallData:         callData,
		PaymasterAndData: []byte{},
		Signature:        []byte{},
	}

	if err := b.estimateGas(ctx, op); err != nil {
		return nil, err
	}

	// Sponsorship sees the final gas limits but not preVerificationGas: the
	// paymaster payload changes the operation's byte size, so sizing has to
	// come after.
	if b.sponsor != nil {
		pnd, err := b.sponsor.PaymasterAndData(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("preset: sponsorship failed: %w", err)
		}
		if len(pnd) > 0 {
			op.PaymasterAndData = pnd
		}
	}

	pvg, err := gas.CalcPreVerificationGas(op, b.overheads)
	if err != nil {
		return nil, err
	}
	op.PreVerificationGas = pvg

	hash, err := op.GetUserOpHash(b.entry, b.chainID)
	if err != nil {
		return nil, err
	}
	sig, err := b.account.SignUserOpHash(hash)
	if err != nil {
		return nil, fmt.Errorf("preset: signing failed: %w", err)
	}
	op.Signature = sig

	b.selfCheckSignature(hash, sig)
	return op, nil
}

// estimateGas fills CallGasLimit and VerificationGasLimit. Local heuristics
// go in first; the bundler's estimate then replaces them when the endpoint
// cooperates, except the verification limit during deployment, where the
// bundler routinely undershoots the factory run.
func (b *Builder) estimateGas(ctx context.Context, op *userop.UserOperation) error {
	creationGas, err := gas.EstimateCreationGas(ctx, b.client, op.InitCode)
	if err != nil {
		return fmt.Errorf("preset: creation gas estimation failed: %w", err)
	}
	op.VerificationGasLimit = gas.EstimateVerificationGasLimit(creationGas)

	callGas, err := gas.EstimateCallGasLimit(ctx, b.client, b.entry, op.Sender, op.CallData)
	if err != nil {
		return fmt.Errorf("preset: call gas estimation failed: %w", err)
	}
	op.CallGasLimit = callGas

	// The endpoint wants a length-plausible signature and a sized operation.
	probe := *op
	probe.Signature = make([]byte, 65)
	pvg, err := gas.CalcPreVerificationGas(&probe, b.overheads)
	if err != nil {
		return err
	}
	probe.PreVerificationGas = pvg

	est, err := b.bundler.EstimateUserOperationGas(ctx, probe, b.entry, nil)
	if err != nil {
		b.logger.Debugf("bundler gas estimation failed, keeping local values: %v", err)
		return nil
	}
	op.CallGasLimit = est.CallGasLimit
	if len(op.InitCode) == 0 {
		op.VerificationGasLimit = est.VerificationGasLimit
	}
	return nil
}

// selfCheckSignature recovers the signer locally and logs a mismatch. It is
// advisory: only adapters backed by a plain EOA key recover cleanly, so a
// failure here is logged rather than fatal.
func (b *Builder) selfCheckSignature(hash common.Hash, sig []byte) {
	owner, ok := b.account.(interface{ Owner() common.Address })
	if !ok || len(sig) != 65 {
		return
	}
	recovered, err := signer.RecoverSigner(hash.Bytes(), sig)
	if err != nil {
		b.logger.Debugf("signature self-check skipped: %v", err)
		return
	}
	if recovered != owner.Owner() {
		b.logger.Warnf("signature self-check mismatch: recovered %s, owner %s", recovered.Hex(), owner.Owner().Hex())
	}
}

// Send submits a signed operation and records the nonce as consumed so a
// follow-up operation does not collide in the bundler mempool. A nonce
// conflict drops the local cache so the next construction refetches from the
// entrypoint.
func (b *Builder) Send(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	opHash, err := b.bundler.SendUserOperation(ctx, *op, b.entry)
	if err != nil {
		if strings.Contains(err.Error(), "AA25 invalid account nonce") {
			b.logger.Warnf("bundler rejected nonce %s for %s, dropping cached nonce", op.Nonce, op.Sender.Hex())
			b.nonces.Reset(op.Sender)
		}
		return common.Hash{}, err
	}
	b.nonces.MarkSubmitted(op.Sender, op.Nonce)
	b.logger.Infof("user operation submitted: hash=%s sender=%s nonce=%s", opHash.Hex(), op.Sender.Hex(), op.Nonce)
	return opHash, nil
}

// SendAndWait submits and then polls entrypoint logs until the operation
// lands or the timeout lapses. A lapsed timeout returns the operation hash
// with a nil event and a nil error: the operation may still be pending.
func (b *Builder) SendAndWait(ctx context.Context, op *userop.UserOperation, timeout, interval time.Duration) (common.Hash, *aa.UserOpEvent, error) {
	if timeout <= 0 {
		timeout = defaultInclusionTimeout
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	opHash, err := b.Send(ctx, op)
	if err != nil {
		return common.Hash{}, nil, err
	}

	ev, err := b.bundler.PollForReceipt(ctx, b.client, b.entry, opHash, timeout, interval)
	if err != nil {
		return opHash, nil, err
	}
	if ev == nil {
		b.logger.Warnf("user operation %s not seen on-chain within %s, may still be pending", opHash.Hex(), timeout)
		return opHash, nil, nil
	}
	b.logger.Infof("user operation included: tx=%s block=%d success=%v", ev.TxHash.Hex(), ev.BlockNumber, ev.Success)
	return opHash, ev, nil
}
