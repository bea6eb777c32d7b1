package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ERC20 is a binding to a plain token.
type ERC20 struct {
	address common.Address
	backend Backend
}

// NewERC20 binds the token at address.
func NewERC20(address common.Address, backend Backend) *ERC20 {
	return &ERC20{address: address, backend: backend}
}

// Allowance returns how much spender may move on behalf of owner.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	values, err := call(ctx, t.backend, &erc20ABI, t.address, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return single[*big.Int](values, "allowance")
}

// Approve lets spender move amount of the signer's tokens.
func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	return transact(ctx, t.backend, &erc20ABI, t.address, "approve", spender, amount)
}

// Decimals returns the token's decimals.
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	values, err := call(ctx, t.backend, &erc20ABI, t.address, "decimals")
	if err != nil {
		return 0, err
	}
	return single[uint8](values, "decimals")
}

// ConfidentialToken is a binding to a confidential wrapper such as zWETH.
type ConfidentialToken struct {
	address common.Address
	backend Backend
}

// NewConfidentialToken binds the wrapper at address.
func NewConfidentialToken(address common.Address, backend Backend) *ConfidentialToken {
	return &ConfidentialToken{address: address, backend: backend}
}

// IsOperator reports whether spender may move holder's confidential balance.
func (t *ConfidentialToken) IsOperator(ctx context.Context, holder, spender common.Address) (bool, error) {
	values, err := call(ctx, t.backend, &confidentialABI, t.address, "isOperator", holder, spender)
	if err != nil {
		return false, err
	}
	return single[bool](values, "isOperator")
}

// SetOperator grants operator rights until the given unix time.
func (t *ConfidentialToken) SetOperator(ctx context.Context, operator common.Address, until uint64) (*types.Receipt, error) {
	return transact(ctx, t.backend, &confidentialABI, t.address, "setOperator", operator, new(big.Int).SetUint64(until))
}
