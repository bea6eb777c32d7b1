package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, uint32(5), cfg.CircuitBreaker.MaxRequests)
	require.Equal(t, 60*time.Second, cfg.CircuitBreaker.Interval)
	require.Equal(t, 30*time.Second, cfg.CircuitBreaker.Timeout)
	require.Equal(t, uint32(5), cfg.CircuitBreaker.FailureThreshold)
	require.Equal(t, float64(10), cfg.RequestsPerSecond)
	require.Equal(t, 2*time.Second, cfg.ReceiptPollInterval)
	require.Equal(t, uint64(10000), cfg.MaxBlockRange)
	require.Empty(t, cfg.PrivateKey)
}

func TestIsRangeTooLargeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "empty message", err: errors.New(""), want: false},
		{name: "result cap", err: errors.New("query returned more than 10000 results"), want: true},
		{name: "json rpc body", err: errors.New(`{"code":-32005,"message":"query returned more than 10000 results"}`), want: true},
		{name: "wrapped getLogs failure", err: fmt.Errorf("eth_getLogs 7400000-7410000: %w", errors.New("exceed maximum block range: 5000")), want: true},
		{name: "upper case", err: errors.New("BLOCK RANGE TOO LARGE"), want: true},
		{name: "wide range", err: errors.New("Error: block range is too wide"), want: true},
		{name: "response size", err: errors.New("response too large"), want: true},
		{name: "provider limit", err: errors.New("logs limit exceeded"), want: true},
		{name: "size hint without indicator", err: errors.New("Log response size exceeded. You can make eth_getLogs requests with up to a 2K block range"), want: false},
		{name: "partial word", err: errors.New("range error"), want: false},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:8545: connection refused"), want: false},
		{name: "reverted call", err: errors.New("execution reverted"), want: false},
		{name: "unknown block", err: errors.New("block not found"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isRangeTooLargeError(tc.err))
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "empty", url: "", wantErr: true},
		{name: "no scheme", url: "not-a-valid-url", wantErr: true},
		{name: "unsupported scheme", url: "ftp://node.example.com", wantErr: true},
		{name: "missing host", url: "http://", wantErr: true},
		{name: "https", url: "https://sepolia.infura.io/v3/KEY", wantErr: false},
		{name: "localhost", url: "http://127.0.0.1:8545", wantErr: false},
		{name: "websocket", url: "wss://node.example.com/ws", wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

// testKey is the first well-known development account key.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewLoadsSigner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "http://127.0.0.1:8545"
	cfg.ChainID = 31337
	cfg.PrivateKey = testKey

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), c.From())
	require.Equal(t, int64(31337), c.ChainID().Int64())
}

func TestNewRejectsBadKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "http://127.0.0.1:8545"
	cfg.ChainID = 31337
	cfg.PrivateKey = "0xnothex"

	_, err := New(context.Background(), cfg)
	require.ErrorContains(t, err, "parsing private key")
}

func TestSendTransactionWithoutSigner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "http://127.0.0.1:8545"
	cfg.ChainID = 31337

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendTransaction(context.Background(), common.Address{}, nil)
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestFetchChunked(t *testing.T) {
	type span struct{ start, end uint64 }

	tests := []struct {
		name      string
		from, to  uint64
		size      uint64
		maxAccept uint64
		want      []span
	}{
		{name: "single chunk", from: 10, to: 20, size: 100, maxAccept: 100, want: []span{{10, 20}}},
		{name: "exact chunks", from: 0, to: 9, size: 5, maxAccept: 5, want: []span{{0, 4}, {5, 9}}},
		{name: "uneven tail", from: 0, to: 6, size: 3, maxAccept: 3, want: []span{{0, 2}, {3, 5}, {6, 6}}},
		{name: "halves on rejection", from: 0, to: 7, size: 8, maxAccept: 4, want: []span{{0, 3}, {4, 7}}},
		{name: "single block", from: 5, to: 5, size: 10, maxAccept: 10, want: []span{{5, 5}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []span
			logs, err := fetchChunked(context.Background(), tc.from, tc.to, tc.size, func(_ context.Context, start, end uint64) ([]types.Log, error) {
				if end-start+1 > tc.maxAccept {
					return nil, errors.New("query returned more than 10000 results")
				}
				got = append(got, span{start, end})
				return []types.Log{{BlockNumber: start}}, nil
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Len(t, logs, len(tc.want))
		})
	}
}

func TestFetchChunkedPropagatesErrors(t *testing.T) {
	_, err := fetchChunked(context.Background(), 0, 10, 5, func(context.Context, uint64, uint64) ([]types.Log, error) {
		return nil, errors.New("connection refused")
	})
	require.ErrorContains(t, err, "fetching logs 0-4")
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	cfg := DefaultConfig().CircuitBreaker
	cfg.FailureThreshold = 2
	cb := gobreaker.NewCircuitBreaker(breakerSettings("test", cfg, zerolog.Nop()))

	fail := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(fail)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "network", err: errors.New("connection reset by peer"), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: false},
		{name: "open breaker", err: gobreaker.ErrOpenState, want: false},
		{name: "range", err: errors.New("block range too large"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}
