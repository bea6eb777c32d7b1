package presale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FinalizationResult carries the four arguments of the finalize call.
// It is computed once per finalize attempt and never stored.
type FinalizationResult struct {
	EthRaisedUsed   *big.Int
	TokensSold      *big.Int
	FillNumerator   *big.Int
	FillDenominator *big.Int
}

// FullyFilled reports whether the raise stayed within the hard cap.
func (r *FinalizationResult) FullyFilled() bool {
	return r.FillNumerator.Cmp(r.FillDenominator) == 0
}

// FillRatio returns the pro-rata ratio as an exact rational.
func (r *FinalizationResult) FillRatio() *big.Rat {
	return new(big.Rat).SetFrac(r.FillNumerator, r.FillDenominator)
}

// Scale applies the fill ratio to a single contribution, truncating toward zero.
func (r *FinalizationResult) Scale(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, r.FillNumerator)
	return out.Quo(out, r.FillDenominator)
}

// Finalize computes the capped raise, tokens sold and fill ratio from the
// revealed aggregate.
//
// Parameters:
//   - hardCap (*big.Int): the cap in base units
//   - tokenPerEthWithDecimals (*big.Int): pool conversion rate
//   - ethRaised (*big.Int): decrypted aggregate raise
//
// Returns:
//   - *FinalizationResult: the finalize arguments
//   - error: InvariantViolation when nothing was raised, Validation on bad inputs
func Finalize(hardCap, tokenPerEthWithDecimals, ethRaised *big.Int) (*FinalizationResult, error) {
	if ethRaised == nil || ethRaised.Sign() <= 0 {
		return nil, Errorf(KindInvariantViolation, "finalize", "no contributions to finalize")
	}
	if hardCap == nil || hardCap.Sign() <= 0 {
		return nil, Errorf(KindValidation, "finalize", "hard cap must be positive")
	}
	if tokenPerEthWithDecimals == nil || tokenPerEthWithDecimals.Sign() < 0 {
		return nil, Errorf(KindValidation, "finalize", "token rate must not be negative")
	}

	used := new(big.Int).Set(ethRaised)
	if used.Cmp(hardCap) > 0 {
		used.Set(hardCap)
	}

	return &FinalizationResult{
		EthRaisedUsed:   used,
		TokensSold:      new(big.Int).Mul(used, tokenPerEthWithDecimals),
		FillNumerator:   new(big.Int).Set(used),
		FillDenominator: new(big.Int).Set(ethRaised),
	}, nil
}

// CheckHandle rejects a missing or zero confidential handle before a decrypt
// is attempted.
func CheckHandle(handle common.Hash) error {
	if handle == (common.Hash{}) {
		return Errorf(KindInvariantViolation, "finalize", "encrypted raise handle is empty")
	}
	return nil
}
