// Package bundler is the RPC client side of the pipeline: it ships signed
// operations to an ERC-4337 bundler endpoint and tracks them to inclusion.
// The bundler itself is stateless from our point of view.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"

	"github.com/emailtovamos/bundler/core/chainio/aa"
	"github.com/emailtovamos/bundler/metrics"
	"github.com/emailtovamos/bundler/pkg/erc4337/userop"
	"github.com/emailtovamos/bundler/pkg/logger"
)

// ErrChainIDMismatch means the bundler answers for a different chain than the
// one the caller is building operations for. Hashes bind the chain id, so a
// mismatched endpoint would silently produce operations no entrypoint accepts.
var ErrChainIDMismatch = errors.New("bundler: endpoint chain id does not match")

const httpTimeout = 30 * time.Second

// endpointError is a JSON-RPC error object the bundler itself answered with,
// as opposed to a failure reaching it. Retrying the identical payload over
// another transport cannot change the outcome.
type endpointError struct {
	Code    int
	Message string
}

func (e *endpointError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// BundlerClient talks to an ERC-4337 bundler RPC endpoint.
type BundlerClient struct {
	client *rpc.Client
	http   *resty.Client
	url    string

	chainID *big.Int
	logger  logger.Logger
	metrics metrics.MetricsGenerator
}

// SetMetrics attaches a collector; nil leaves the client unmetered.
func (bc *BundlerClient) SetMetrics(m metrics.MetricsGenerator) {
	bc.metrics = m
}

func (bc *BundlerClient) countSubmission(err error) {
	if bc.metrics == nil {
		return
	}
	if err != nil {
		bc.metrics.IncOpsSubmitted("error")
	} else {
		bc.metrics.IncOpsSubmitted("ok")
	}
}

// NewBundlerClient dials the endpoint and verifies its chain id against
// expectedChainID (skipped when nil). DialHTTP keeps compatibility with
// plain-HTTP bundlers while still allowing WebSocket URLs.
func NewBundlerClient(url string, expectedChainID *big.Int, log logger.Logger) (*BundlerClient, error) {
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("bundler: dialing %s failed: %w", url, err)
	}

	bc := &BundlerClient{
		client: c,
		http:   resty.New().SetTimeout(httpTimeout).SetHeader("Content-Type", "application/json"),
		url:    url,
		logger: logger.EnsureLogger(log),
	}

	chainID, err := bc.ChainID(context.Background())
	if err != nil {
		c.Close()
		return nil, err
	}
	bc.chainID = chainID

	if expectedChainID != nil && chainID.Cmp(expectedChainID) != 0 {
		c.Close()
		return nil, fmt.Errorf("%w: endpoint reports %s, want %s", ErrChainIDMismatch, chainID, expectedChainID)
	}
	return bc, nil
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

// ChainID queries eth_chainId on the bundler endpoint.
func (bc *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := bc.client.CallContext(ctx, &raw, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("bundler: eth_chainId failed: %w", err)
	}
	return parseHexBig(raw)
}

// SendUserOperation submits a signed operation and returns the operation hash
// the bundler acknowledged. The direct HTTP path goes first; a transport
// failure there falls back to the RPC client, but an answer from the endpoint
// itself is final either way.
func (bc *BundlerClient) SendUserOperation(ctx context.Context, op userop.UserOperation, entrypoint common.Address) (common.Hash, error) {
	uo, err := toWire(op)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := bc.sendUserOperationHTTP(ctx, uo, entrypoint)
	var rejection *endpointError
	if err != nil && !errors.As(err, &rejection) {
		bc.logger.Debugf("HTTP eth_sendUserOperation transport failure, falling back to RPC: %v", err)
		hash, err = bc.sendUserOperationRPC(ctx, uo, entrypoint)
	}
	bc.countSubmission(err)
	return hash, err
}

func (bc *BundlerClient) sendUserOperationHTTP(ctx context.Context, uo UserOperation, entrypoint common.Address) (common.Hash, error) {
	var result string
	if err := bc.callHTTP(ctx, "eth_sendUserOperation", []any{uo, entrypoint.Hex()}, &result); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(result), nil
}

func (bc *BundlerClient) sendUserOperationRPC(ctx context.Context, uo UserOperation, entrypoint common.Address) (common.Hash, error) {
	var result string
	if err := bc.client.CallContext(ctx, &result, "eth_sendUserOperation", uo, entrypoint.Hex()); err != nil {
		return common.Hash{}, fmt.Errorf("bundler: eth_sendUserOperation failed: %w", err)
	}
	return common.HexToHash(result), nil
}

// EstimateUserOperationGas asks the bundler for gas limits. The signature is
// ignored by the endpoint but must be length-plausible, so callers pass the
// operation with whatever placeholder they sized locally.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
func (bc *BundlerClient) EstimateUserOperationGas(ctx context.Context, op userop.UserOperation, entrypoint common.Address, override map[string]any) (*GasEstimation, error) {
	uo, err := toWire(op)
	if err != nil {
		return nil, err
	}
	if override == nil {
		override = map[string]any{}
	}

	var result struct {
		PreVerificationGas   string `json:"preVerificationGas"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		CallGasLimit         string `json:"callGasLimit"`
	}
	if err := bc.callHTTP(ctx, "eth_estimateUserOperationGas", []any{uo, entrypoint.Hex(), override}, &result); err != nil {
		if bc.metrics != nil {
			bc.metrics.IncGasEstimations("error")
		}
		return nil, fmt.Errorf("bundler: eth_estimateUserOperationGas failed: %w", err)
	}
	if bc.metrics != nil {
		bc.metrics.IncGasEstimations("ok")
	}

	est := &GasEstimation{}
	if est.PreVerificationGas, err = parseHexBig(result.PreVerificationGas); err != nil {
		return nil, err
	}
	if est.VerificationGasLimit, err = parseHexBig(result.VerificationGasLimit); err != nil {
		return nil, err
	}
	if est.CallGasLimit, err = parseHexBig(result.CallGasLimit); err != nil {
		return nil, err
	}
	return est, nil
}

// GetUserOperationReceipt fetches the bundler-side receipt for an operation
// hash. A nil receipt with a nil error means the operation is not yet mined.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*UserOperationReceipt, error) {
	var raw map[string]any
	if err := bc.client.CallContext(ctx, &raw, "eth_getUserOperationReceipt", opHash.Hex()); err != nil {
		return nil, fmt.Errorf("bundler: eth_getUserOperationReceipt failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var receipt UserOperationReceipt
	if err := mapstructure.Decode(raw, &receipt); err != nil {
		return nil, fmt.Errorf("bundler: decoding receipt failed: %w", err)
	}
	return &receipt, nil
}

// callHTTP issues a single JSON-RPC request over plain HTTP and decodes the
// result into out.
func (bc *BundlerClient) callHTTP(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return fmt.Errorf("bundler: marshaling %s request failed: %w", method, err)
	}

	resp, err := bc.http.R().SetContext(ctx).SetBody(body).Post(bc.url)
	if err != nil {
		return fmt.Errorf("bundler: %s request failed: %w", method, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("bundler: %s: %s: %s", method, resp.Status(), resp.String())
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("bundler: parsing %s response failed: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("bundler: %s rejected: %w", method, &endpointError{Code: envelope.Error.Code, Message: envelope.Error.Message})
	}
	if envelope.Result == nil {
		return fmt.Errorf("bundler: %s response carries no result", method)
	}
	return json.Unmarshal(envelope.Result, out)
}

// PollForReceipt scans entrypoint logs for the UserOperationEvent matching
// opHash until it shows up or the timeout lapses. At least one query is
// issued even with a zero timeout; an exhausted window returns (nil, nil)
// because a slow bundle is not a client failure.
func (bc *BundlerClient) PollForReceipt(ctx context.Context, client *ethclient.Client, entrypoint common.Address, opHash common.Hash, timeout, interval time.Duration) (*aa.UserOpEvent, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	start := time.Now()
	deadline := start.Add(timeout)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{entrypoint},
		Topics:    [][]common.Hash{{aa.UserOpEventTopic}, {opHash}},
	}

	for {
		if bc.metrics != nil {
			bc.metrics.IncReceiptPolls()
		}
		logs, err := client.FilterLogs(ctx, query)
		if err != nil {
			// A flaky node answer is retried on the next tick; only the
			// deadline ends the wait.
			bc.logger.Debugf("entrypoint log query failed, retrying: %v", err)
			logs = nil
		}
		for _, lg := range logs {
			ev, err := aa.ParseUserOpEvent(lg)
			if err != nil {
				continue
			}
			if bc.metrics != nil {
				status := "reverted"
				if ev.Success {
					status = "ok"
				}
				bc.metrics.IncOpsIncluded(status)
				bc.metrics.ObserveInclusionSeconds(time.Since(start).Seconds())
			}
			return ev, nil
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
