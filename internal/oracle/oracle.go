// Package oracle talks to the confidential compute relayer that reveals
// encrypted handles.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Relayer endpoints.
const (
	keyURLPath        = "/v1/keyurl"
	publicDecryptPath = "/v1/public-decrypt"
)

// Decrypter reveals confidential handles.
type Decrypter interface {
	Decrypt(ctx context.Context, handles []common.Hash) (map[common.Hash]*big.Int, error)
}

// Config holds relayer settings.
type Config struct {
	RelayerURL string
	Timeout    time.Duration
	RetryCount int
}

// DefaultConfig returns relayer defaults.
func DefaultConfig() Config {
	return Config{
		RelayerURL: "https://relayer.testnet.zama.org",
		Timeout:    30 * time.Second,
		RetryCount: 2,
	}
}

// Runtime is the process-wide relayer capability. It is created once by
// Init and shared by every component that decrypts.
type Runtime struct {
	client *resty.Client
	logger zerolog.Logger
}

var _ Decrypter = (*Runtime)(nil)

type keyURLResponse struct {
	Response struct {
		FheKeyInfo []struct {
			FhePublicKey struct {
				DataID string   `json:"data_id"`
				URLs   []string `json:"urls"`
			} `json:"fhe_public_key"`
		} `json:"fhe_key_info"`
	} `json:"response"`
}

type decryptRequest struct {
	CiphertextHandles []string `json:"ciphertextHandles"`
	ExtraData         string   `json:"extraData"`
}

type decryptResponse struct {
	Response []struct {
		DecryptedValue string   `json:"decrypted_value"`
		Signatures     []string `json:"signatures"`
	} `json:"response"`
}

// Init connects to the relayer and verifies it serves key material.
//
// Parameters:
//   - ctx (context.Context): health check context
//   - cfg (Config): relayer settings
//   - logger (zerolog.Logger): parent logger
//
// Returns:
//   - *Runtime: the capability handle
//   - error: DecryptUnavailable when the relayer cannot be reached
func Init(ctx context.Context, cfg Config, logger zerolog.Logger) (*Runtime, error) {
	if cfg.RelayerURL == "" {
		return nil, presale.Errorf(presale.KindValidation, "oracle init", "relayer url is required")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.RelayerURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json")

	r := &Runtime{
		client: client,
		logger: logger.With().Str("component", "oracle").Logger(),
	}

	var keys keyURLResponse
	resp, err := client.R().SetContext(ctx).SetResult(&keys).Get(keyURLPath)
	if err != nil {
		return nil, presale.Wrap(presale.KindDecryptUnavailable, "oracle init", err)
	}
	if resp.IsError() {
		return nil, presale.Errorf(presale.KindDecryptUnavailable, "oracle init", "relayer returned %d", resp.StatusCode())
	}
	if len(keys.Response.FheKeyInfo) == 0 {
		return nil, presale.Errorf(presale.KindDecryptUnavailable, "oracle init", "relayer returned no key material")
	}

	r.logger.Info().Str("relayer", cfg.RelayerURL).Msg("relayer runtime initialized")
	return r, nil
}

// Decrypt publicly decrypts handles. Every requested handle is present in
// the result or the call fails.
func (r *Runtime) Decrypt(ctx context.Context, handles []common.Hash) (map[common.Hash]*big.Int, error) {
	if len(handles) == 0 {
		return map[common.Hash]*big.Int{}, nil
	}

	req := decryptRequest{CiphertextHandles: make([]string, len(handles)), ExtraData: "0x00"}
	for i, h := range handles {
		if h == (common.Hash{}) {
			return nil, presale.Errorf(presale.KindInvariantViolation, "decrypt", "handle %d is zero", i)
		}
		req.CiphertextHandles[i] = h.Hex()
	}

	var out decryptResponse
	resp, err := r.client.R().SetContext(ctx).SetBody(req).SetResult(&out).Post(publicDecryptPath)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, presale.Wrap(presale.KindDecryptUnavailable, "decrypt", err)
	}
	if resp.IsError() {
		return nil, presale.Errorf(presale.KindDecryptUnavailable, "decrypt", "relayer returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(out.Response) == 0 {
		return nil, presale.Errorf(presale.KindDecryptUnavailable, "decrypt", "empty relayer response")
	}

	values, err := splitWords(out.Response[0].DecryptedValue, len(handles))
	if err != nil {
		return nil, presale.Wrap(presale.KindDecryptUnavailable, "decrypt", err)
	}

	result := make(map[common.Hash]*big.Int, len(handles))
	for i, h := range handles {
		result[h] = values[i]
	}
	r.logger.Debug().Int("handles", len(handles)).Msg("handles decrypted")
	return result, nil
}

// splitWords decodes an ABI-encoded sequence of n 32-byte words.
func splitWords(encoded string, n int) ([]*big.Int, error) {
	if !strings.HasPrefix(encoded, "0x") {
		encoded = "0x" + encoded
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding decrypted value: %w", err)
	}
	if len(raw) < n*32 {
		return nil, fmt.Errorf("decrypted value has %d bytes, want %d", len(raw), n*32)
	}
	out := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		out[i] = new(big.Int).SetBytes(raw[i*32 : (i+1)*32])
	}
	return out, nil
}

// DecryptOne reveals a single handle.
func DecryptOne(ctx context.Context, d Decrypter, handle common.Hash) (*big.Int, error) {
	values, err := d.Decrypt(ctx, []common.Hash{handle})
	if err != nil {
		return nil, err
	}
	v, ok := values[handle]
	if !ok || v == nil {
		return nil, presale.Errorf(presale.KindDecryptUnavailable, "decrypt", "handle %s missing from result", handle.Hex())
	}
	return v, nil
}
