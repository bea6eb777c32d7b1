package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/0xredeth/launchpad/internal/oracle"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// Finalizer reveals the aggregate raise, computes the fill and submits
// finalizePreSale once the sale window has ended. Nothing is submitted unless
// every step before it succeeded.
type Finalizer struct {
	oracle oracle.Decrypter
	logger zerolog.Logger
	now    func() time.Time
}

// NewFinalizer creates a finalizer over the relayer capability. A nil now
// uses the wall clock.
func NewFinalizer(d oracle.Decrypter, logger zerolog.Logger, now func() time.Time) *Finalizer {
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		oracle: d,
		logger: logger.With().Str("component", "finalizer").Logger(),
		now:    now,
	}
}

// Finalize runs the finalize attempt for rec using a fresh pool read.
//
// Parameters:
//   - ctx (context.Context): request context
//   - binding (*contracts.Presale): the presale contract
//   - rec (*presale.Presale): indexed record, source of the hard cap
//   - pool (*presale.PoolSnapshot): fresh pool read
//
// Returns:
//   - *presale.FinalizationResult: the submitted arguments
//   - *types.Receipt: the confirmed receipt
//   - error: Validation before the end time or off Active, DecryptUnavailable,
//     InvariantViolation or Ledger
func (f *Finalizer) Finalize(ctx context.Context, binding *contracts.Presale, rec *presale.Presale, pool *presale.PoolSnapshot) (*presale.FinalizationResult, *types.Receipt, error) {
	if pool.State != presale.StateActive {
		return nil, nil, presale.Errorf(presale.KindValidation, "finalize", "pool is %s, finalize needs %s", pool.State, presale.StateActive)
	}
	if rec.EndTime.IsZero() || f.now().Before(rec.EndTime) {
		return nil, nil, presale.Errorf(presale.KindValidation, "finalize", "sale window ends at %s", rec.EndTime.UTC().Format(time.RFC3339))
	}
	if err := presale.CheckHandle(pool.EthRaisedEncrypted); err != nil {
		return nil, nil, err
	}
	if f.oracle == nil {
		return nil, nil, presale.Errorf(presale.KindDecryptUnavailable, "finalize", "relayer runtime not initialized")
	}

	hardCap, err := rec.HardCapInt()
	if err != nil {
		return nil, nil, err
	}

	ethRaised, err := oracle.DecryptOne(ctx, f.oracle, pool.EthRaisedEncrypted)
	if err != nil {
		return nil, nil, err
	}

	result, err := presale.Finalize(hardCap, pool.TokenPerEthWithDecimals, ethRaised)
	if err != nil {
		return nil, nil, err
	}

	receipt, err := binding.FinalizePreSale(ctx, result)
	if err != nil {
		return result, receipt, err
	}

	f.logger.Info().
		Str("presale", binding.Address().Hex()).
		Str("tx_hash", receipt.TxHash.Hex()).
		Str("eth_raised", ethRaised.String()).
		Str("eth_raised_used", result.EthRaisedUsed.String()).
		Bool("fully_filled", result.FullyFilled()).
		Msg("presale finalized")
	return result, receipt, nil
}
