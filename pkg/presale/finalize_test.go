package presale

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFinalize(t *testing.T) {
	tests := []struct {
		name      string
		hardCap   int64
		rate      int64
		raised    int64
		wantUsed  int64
		wantSold  int64
		wantNum   int64
		wantDen   int64
		wantFull  bool
		wantErrIs error
	}{
		{
			name:     "under cap fills completely",
			hardCap:  100,
			rate:     10,
			raised:   60,
			wantUsed: 60,
			wantSold: 600,
			wantNum:  60,
			wantDen:  60,
			wantFull: true,
		},
		{
			name:     "exactly at cap",
			hardCap:  100,
			rate:     10,
			raised:   100,
			wantUsed: 100,
			wantSold: 1000,
			wantNum:  100,
			wantDen:  100,
			wantFull: true,
		},
		{
			name:     "oversubscribed is pro-rated",
			hardCap:  100,
			rate:     10,
			raised:   150,
			wantUsed: 100,
			wantSold: 1000,
			wantNum:  100,
			wantDen:  150,
		},
		{
			name:      "zero raise is an invariant violation",
			hardCap:   100,
			rate:      10,
			raised:    0,
			wantErrIs: ErrInvariantViolation,
		},
		{
			name:      "zero hard cap is rejected",
			hardCap:   0,
			rate:      10,
			raised:    5,
			wantErrIs: ErrValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Finalize(big.NewInt(tc.hardCap), big.NewInt(tc.rate), big.NewInt(tc.raised))
			if tc.wantErrIs != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.wantErrIs))
				require.Nil(t, res)
				return
			}

			require.NoError(t, err)
			require.Equal(t, big.NewInt(tc.wantUsed), res.EthRaisedUsed)
			require.Equal(t, big.NewInt(tc.wantSold), res.TokensSold)
			require.Equal(t, big.NewInt(tc.wantNum), res.FillNumerator)
			require.Equal(t, big.NewInt(tc.wantDen), res.FillDenominator)
			require.Equal(t, tc.wantFull, res.FullyFilled())
		})
	}
}

func TestFinalizeNilRaise(t *testing.T) {
	_, err := Finalize(big.NewInt(1), big.NewInt(1), nil)
	require.Equal(t, KindInvariantViolation, KindOf(err))
	require.Contains(t, err.Error(), "no contributions to finalize")
}

func TestFinalizeDoesNotAliasInputs(t *testing.T) {
	hardCap := big.NewInt(100)
	raised := big.NewInt(150)

	res, err := Finalize(hardCap, big.NewInt(10), raised)
	require.NoError(t, err)

	res.EthRaisedUsed.SetInt64(1)
	res.FillDenominator.SetInt64(1)
	require.Equal(t, int64(100), hardCap.Int64())
	require.Equal(t, int64(150), raised.Int64())
}

func TestFinalizeLargeValues(t *testing.T) {
	hardCap, _ := new(big.Int).SetString("1000000000000000000000", 10) // 1000 ether
	raised, _ := new(big.Int).SetString("1500000000000000000000", 10)
	rate, _ := new(big.Int).SetString("2000000000000000000000", 10)

	res, err := Finalize(hardCap, rate, raised)
	require.NoError(t, err)

	wantSold, _ := new(big.Int).SetString("2000000000000000000000000000000000000000000", 10)
	require.Equal(t, 0, res.TokensSold.Cmp(wantSold))
	require.Equal(t, "2/3", res.FillRatio().String())
}

func TestScale(t *testing.T) {
	res, err := Finalize(big.NewInt(100), big.NewInt(10), big.NewInt(150))
	require.NoError(t, err)

	require.Equal(t, int64(20), res.Scale(big.NewInt(30)).Int64())
	require.Equal(t, int64(6), res.Scale(big.NewInt(10)).Int64()) // 6.66 truncates
}

func TestCheckHandle(t *testing.T) {
	require.Error(t, CheckHandle(common.Hash{}))
	require.True(t, errors.Is(CheckHandle(common.Hash{}), ErrInvariantViolation))
	require.NoError(t, CheckHandle(common.HexToHash("0x01")))
}
