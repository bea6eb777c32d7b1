package presale

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the decimal count of the wrapped native currency caps are
// denominated in.
const NativeDecimals = 18

// ToBaseUnits converts a human-unit decimal string into an exact base-unit
// integer. Fractional digits beyond decimals are rejected rather than rounded.
//
// Parameters:
//   - value (string): human amount such as "1.5"
//   - decimals (uint8): token decimal count
//
// Returns:
//   - *big.Int: the base-unit amount
//   - error: Validation when value is malformed, negative or too precise
func ToBaseUnits(value string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, Errorf(KindValidation, "to base units", "invalid amount %q", value)
	}
	if d.IsNegative() {
		return nil, Errorf(KindValidation, "to base units", "amount %q is negative", value)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, Errorf(KindValidation, "to base units", "amount %q has more than %d decimals", value, decimals)
	}
	return scaled.BigInt(), nil
}

// TokensForSale returns the token amount the factory must be approved to
// move: hardCap × 10^tokenDecimals × rate, rounded to an integer.
//
// Parameters:
//   - hardCap (string): hard cap in human units
//   - tokenDecimals (uint8): decimals of the sold token
//   - rate (string): tokens per native unit
//
// Returns:
//   - *big.Int: the base-unit token amount
//   - error: Validation when an input is malformed or the product is not positive
func TokensForSale(hardCap string, tokenDecimals uint8, rate string) (*big.Int, error) {
	hc, err := decimal.NewFromString(strings.TrimSpace(hardCap))
	if err != nil {
		return nil, Errorf(KindValidation, "tokens for sale", "invalid hard cap %q", hardCap)
	}
	r, err := decimal.NewFromString(strings.TrimSpace(rate))
	if err != nil {
		return nil, Errorf(KindValidation, "tokens for sale", "invalid presale rate %q", rate)
	}
	amount := hc.Shift(int32(tokenDecimals)).Mul(r).Round(0)
	if !amount.IsPositive() {
		return nil, Errorf(KindValidation, "tokens for sale", "token amount must be positive")
	}
	return amount.BigInt(), nil
}
