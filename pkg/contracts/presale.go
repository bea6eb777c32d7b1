package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Presale is a binding to one deployed presale contract.
type Presale struct {
	address common.Address
	backend Backend
}

// NewPresale binds the presale at address.
func NewPresale(address common.Address, backend Backend) *Presale {
	return &Presale{address: address, backend: backend}
}

// Address returns the bound contract address.
func (p *Presale) Address() common.Address {
	return p.address
}

// Pool reads and maps the pool tuple.
func (p *Presale) Pool(ctx context.Context) (*presale.PoolSnapshot, error) {
	values, err := call(ctx, p.backend, &presaleABI, p.address, "pool")
	if err != nil {
		return nil, err
	}
	return MapPool(values)
}

// Settled reports whether account has settled its bid.
func (p *Presale) Settled(ctx context.Context, account common.Address) (bool, error) {
	values, err := call(ctx, p.backend, &presaleABI, p.address, "settled", account)
	if err != nil {
		return false, err
	}
	return single[bool](values, "settled")
}

// Claimed reports whether account has claimed its tokens.
func (p *Presale) Claimed(ctx context.Context, account common.Address) (bool, error) {
	values, err := call(ctx, p.backend, &presaleABI, p.address, "claimed", account)
	if err != nil {
		return false, err
	}
	return single[bool](values, "claimed")
}

// Contribution returns the confidential contribution handle of account.
func (p *Presale) Contribution(ctx context.Context, account common.Address) (common.Hash, error) {
	return p.handle(ctx, "contributions", account)
}

// ClaimableTokens returns the confidential claimable-token handle of account.
func (p *Presale) ClaimableTokens(ctx context.Context, account common.Address) (common.Hash, error) {
	return p.handle(ctx, "claimableTokens", account)
}

func (p *Presale) handle(ctx context.Context, method string, account common.Address) (common.Hash, error) {
	values, err := call(ctx, p.backend, &presaleABI, p.address, method, account)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := single[[32]byte](values, method)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(raw), nil
}

// FinalizePreSale submits the four finalize arguments.
func (p *Presale) FinalizePreSale(ctx context.Context, r *presale.FinalizationResult) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "finalizePreSale",
		r.EthRaisedUsed, r.TokensSold, r.FillNumerator, r.FillDenominator)
}

// SettleBid converts the beneficiary's contribution into claimable tokens.
func (p *Presale) SettleBid(ctx context.Context, beneficiary common.Address) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "settleBid", beneficiary)
}

// ClaimTokens transfers the beneficiary's claimable tokens.
func (p *Presale) ClaimTokens(ctx context.Context, beneficiary common.Address) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "claimTokens", beneficiary)
}

// Refund returns the signer's contribution of a canceled presale.
func (p *Presale) Refund(ctx context.Context) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "refund")
}

// CancelPresale cancels the sale.
func (p *Presale) CancelPresale(ctx context.Context) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "cancelPresale")
}

// PlaceBid submits an encrypted contribution for beneficiary.
func (p *Presale) PlaceBid(ctx context.Context, beneficiary common.Address, handle common.Hash, proof []byte) (*types.Receipt, error) {
	return transact(ctx, p.backend, &presaleABI, p.address, "placeBid", beneficiary, [32]byte(handle), proof)
}

