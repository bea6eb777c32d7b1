package oracle

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xredeth/launchpad/pkg/presale"
)

const keyBody = `{"response":{"fhe_key_info":[{"fhe_public_key":{"data_id":"pk","urls":["https://keys.example/pk"]}}]}}`

func encodeWords(values ...int64) string {
	var raw []byte
	for _, v := range values {
		raw = append(raw, common.LeftPadBytes(big.NewInt(v).Bytes(), 32)...)
	}
	return hexutil.Encode(raw)
}

// newRelayer serves the key endpoint and delegates decrypt to fn.
func newRelayer(t *testing.T, fn http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(keyURLPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(keyBody))
	})
	if fn != nil {
		mux.HandleFunc(publicDecryptPath, fn)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) Config {
	return Config{RelayerURL: url, Timeout: 2 * time.Second}
}

func TestInit(t *testing.T) {
	srv := newRelayer(t, nil)
	rt, err := Init(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, rt)
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want presale.Kind
	}{
		{name: "server error", body: `oops`, code: http.StatusInternalServerError, want: presale.KindDecryptUnavailable},
		{name: "no key material", body: `{"response":{"fhe_key_info":[]}}`, code: http.StatusOK, want: presale.KindDecryptUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := Init(context.Background(), testConfig(srv.URL), zerolog.Nop())
			require.Error(t, err)
			require.Equal(t, tc.want, presale.KindOf(err))
		})
	}

	_, err := Init(context.Background(), Config{}, zerolog.Nop())
	require.Equal(t, presale.KindValidation, presale.KindOf(err))
}

func TestDecrypt(t *testing.T) {
	h1 := common.HexToHash("0x01")
	h2 := common.HexToHash("0x02")

	var got decryptRequest
	srv := newRelayer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response": []map[string]interface{}{{"decrypted_value": encodeWords(150, 7), "signatures": []string{"0xsig"}}},
		})
	})

	rt, err := Init(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	values, err := rt.Decrypt(context.Background(), []common.Hash{h1, h2})
	require.NoError(t, err)
	require.Equal(t, []string{h1.Hex(), h2.Hex()}, got.CiphertextHandles)
	require.Equal(t, "150", values[h1].String())
	require.Equal(t, "7", values[h2].String())

	one, err := DecryptOne(context.Background(), rt, h1)
	require.NoError(t, err)
	require.Equal(t, int64(150), one.Int64())
}

func TestDecryptFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		handles []common.Hash
		want    presale.Kind
	}{
		{
			name: "relayer error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			handles: []common.Hash{common.HexToHash("0x01")},
			want:    presale.KindDecryptUnavailable,
		},
		{
			name: "short value",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"response":[{"decrypted_value":"0x01"}]}`))
			},
			handles: []common.Hash{common.HexToHash("0x01")},
			want:    presale.KindDecryptUnavailable,
		},
		{
			name: "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"response":[]}`))
			},
			handles: []common.Hash{common.HexToHash("0x01")},
			want:    presale.KindDecryptUnavailable,
		},
		{
			name: "zero handle",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("relayer must not be called for a zero handle")
			},
			handles: []common.Hash{{}},
			want:    presale.KindInvariantViolation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newRelayer(t, tc.handler)
			rt, err := Init(context.Background(), testConfig(srv.URL), zerolog.Nop())
			require.NoError(t, err)

			_, err = rt.Decrypt(context.Background(), tc.handles)
			require.Error(t, err)
			require.Equal(t, tc.want, presale.KindOf(err))
		})
	}
}

func TestDecryptEmpty(t *testing.T) {
	srv := newRelayer(t, nil)
	rt, err := Init(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	values, err := rt.Decrypt(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestSplitWords(t *testing.T) {
	words, err := splitWords(encodeWords(1, 2, 3)[2:], 3)
	require.NoError(t, err)
	require.Len(t, words, 3)
	require.Equal(t, int64(3), words[2].Int64())

	_, err = splitWords("0xzz", 1)
	require.Error(t, err)
}
