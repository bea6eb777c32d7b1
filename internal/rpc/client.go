// Package rpc provides the ledger client: a rate-limited, circuit-broken
// JSON-RPC connection that signs and submits transactions for the
// configured operator account.
package rpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/0xredeth/launchpad/internal/retry"
	"github.com/0xredeth/launchpad/pkg/contracts"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// ErrNoSigner is returned when a transaction is requested without a key.
var ErrNoSigner = errors.New("no signing key configured")

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state.
	Interval time.Duration

	// Timeout is the open period before going half-open.
	Timeout time.Duration

	// FailureThreshold is the consecutive failures that open the breaker.
	FailureThreshold uint32
}

// ClientConfig holds ledger client settings.
type ClientConfig struct {
	URL        string
	ChainID    int64
	PrivateKey string
	Timeout    time.Duration
	MaxRetries int

	// RetryDelay is multiplied by the attempt number between read retries.
	RetryDelay time.Duration

	// RequestsPerSecond caps outbound RPC calls. Zero disables limiting.
	RequestsPerSecond float64

	// ReceiptPollInterval is the wait between receipt lookups.
	ReceiptPollInterval time.Duration

	// MaxBlockRange bounds a single eth_getLogs query.
	MaxBlockRange uint64

	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns production defaults. URL must be set by the caller.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          500 * time.Millisecond,
		RequestsPerSecond:   10,
		ReceiptPollInterval: 2 * time.Second,
		MaxBlockRange:       10000,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Client is the ledger client. It satisfies contracts.Backend.
type Client struct {
	cfg     ClientConfig
	eth     *ethclient.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger

	chainID *big.Int
	signer  types.Signer
	key     *ecdsa.PrivateKey
	from    common.Address

	// sendMu serializes nonce allocation for the operator account.
	sendMu sync.Mutex
}

var _ contracts.Backend = (*Client)(nil)

// New dials the node and loads the signing key.
//
// Parameters:
//   - ctx (context.Context): dial context
//   - cfg (ClientConfig): client settings
//
// Returns:
//   - *Client: connected client
//   - error: nil on success, validation or dial error otherwise
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := validateURL(cfg.URL); err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:    cfg,
		eth:    eth,
		logger: log.With().Str("component", "rpc").Logger(),
	}
	c.cb = gobreaker.NewCircuitBreaker(breakerSettings("ledger", cfg.CircuitBreaker, c.logger))
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		id, err := c.eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("fetching chain id: %w", err)
		}
		c.chainID = id
	}
	c.signer = types.LatestSignerForChainID(c.chainID)

	return c, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("rpc url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing rpc url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("rpc url %q has no host", raw)
	}
	return nil
}

func breakerSettings(name string, cfg CircuitBreakerConfig, logger zerolog.Logger) gobreaker.Settings {
	threshold := cfg.FailureThreshold
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
}

// Close releases the connection.
func (c *Client) Close() {
	c.eth.Close()
}

// From returns the operator address.
func (c *Client) From() common.Address {
	return c.from
}

// ChainID returns the connected chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// execute runs fn through the limiter and the breaker.
func (c *Client) execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	return c.cb.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
}

// read runs an idempotent call with retries.
func (c *Client) read(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var out interface{}
	policy := retry.Policy{
		Name:        name,
		MaxAttempts: c.cfg.MaxRetries,
		Backoff:     retry.Linear(c.cfg.RetryDelay),
		Retryable:   isTransient,
		Logger:      &c.logger,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		v, err := c.execute(ctx, fn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case isRangeTooLargeError(err):
		return false
	}
	return true
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := c.read(ctx, "eth_blockNumber", func(ctx context.Context) (interface{}, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// CallContract executes a read-only call at the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: c.from, To: &to, Data: data}
	v, err := c.read(ctx, "eth_call", func(ctx context.Context) (interface{}, error) {
		return c.eth.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// SendTransaction signs a dynamic fee transaction, submits it and waits
// for the receipt. A reverted receipt is returned with ErrReverted.
func (c *Client) SendTransaction(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}

	c.sendMu.Lock()
	tx, err := c.buildAndSend(ctx, to, data)
	c.sendMu.Unlock()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("tx", tx.Hash().Hex()).Str("to", to.Hex()).Msg("transaction submitted")

	receipt, err := c.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) buildAndSend(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggesting tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching head: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimating gas: %w", err)
	}

	tx, err := types.SignNewTx(c.key, c.signer, &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	if _, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.eth.SendTransaction(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("sending transaction: %w", err)
	}
	return tx, nil
}

// WaitReceipt polls until the transaction is mined or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// FilterLogs fetches logs in chunks of at most MaxBlockRange blocks,
// halving the chunk when the node rejects a range.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	var to uint64
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	} else {
		head, err := c.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		to = head
	}

	return fetchChunked(ctx, from, to, c.cfg.MaxBlockRange, func(ctx context.Context, start, end uint64) ([]types.Log, error) {
		chunk := q
		chunk.BlockHash = nil
		chunk.FromBlock = new(big.Int).SetUint64(start)
		chunk.ToBlock = new(big.Int).SetUint64(end)
		v, err := c.read(ctx, "eth_getLogs", func(ctx context.Context) (interface{}, error) {
			return c.eth.FilterLogs(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		return v.([]types.Log), nil
	})
}

// fetchChunked walks [from, to] calling fetch per chunk.
func fetchChunked(ctx context.Context, from, to, size uint64, fetch func(ctx context.Context, start, end uint64) ([]types.Log, error)) ([]types.Log, error) {
	if size == 0 {
		size = 10000
	}
	var out []types.Log
	for start := from; start <= to; {
		end := start + size - 1
		if end > to {
			end = to
		}
		logs, err := fetch(ctx, start, end)
		if err != nil {
			if isRangeTooLargeError(err) && size > 1 {
				size /= 2
				continue
			}
			return nil, fmt.Errorf("fetching logs %d-%d: %w", start, end, err)
		}
		out = append(out, logs...)
		if end == to {
			break
		}
		start = end + 1
	}
	return out, nil
}

// rangeIndicators are substrings providers use to reject wide log queries.
var rangeIndicators = []string{
	"query returned more than",
	"block range too large",
	"exceed maximum block range",
	"too many results",
	"range too wide",
	"block range is too wide",
	"query timeout",
	"response too large",
	"max results",
	"limit exceeded",
}

func isRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range rangeIndicators {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
