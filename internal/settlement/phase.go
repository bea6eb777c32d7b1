// Package settlement drives a contributor through bid, finalize, settle,
// claim and refund against the presale contract.
package settlement

import (
	"time"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Phase is the per (presale, contributor) settlement position.
type Phase string

// Settlement phases.
const (
	PhaseNotStarted           Phase = "NotStarted"
	PhaseBidding              Phase = "Bidding"
	PhaseAwaitingFinalization Phase = "AwaitingFinalization"
	PhaseFinalizedUnsettled   Phase = "Finalized/Unsettled"
	PhaseFinalizedSettled     Phase = "Finalized/Settled"
	PhaseFinalizedClaimed     Phase = "Finalized/Claimed"
	PhaseCanceledRefundable   Phase = "Canceled/Refundable"
	PhaseCanceledRefunded     Phase = "Canceled/Refunded"
	PhaseUnknown              Phase = "Unknown"
)

// Terminal reports whether no further trigger can exist for the pair.
func (p Phase) Terminal() bool {
	return p == PhaseFinalizedClaimed || p == PhaseCanceledRefunded
}

// Snapshot is the ledger view the phase is derived from.
type Snapshot struct {
	State     presale.OnchainState
	StartTime time.Time
	EndTime   time.Time
	Settled   bool
	Claimed   bool

	// HasContribution is false when the contribution handle is zero.
	HasContribution bool
}

// Available derives the phase and the triggers open to the contributor.
// A canceled pool only ever offers Refund, whatever was settled before.
//
// Parameters:
//   - s (Snapshot): fresh ledger reads
//   - now (time.Time): evaluation instant
//
// Returns:
//   - Phase: the settlement phase
//   - []presale.Action: available triggers, never nil
func Available(s Snapshot, now time.Time) (Phase, []presale.Action) {
	switch s.State {
	case presale.StateCanceled:
		if !s.HasContribution {
			return PhaseCanceledRefunded, []presale.Action{}
		}
		return PhaseCanceledRefundable, []presale.Action{{Kind: presale.ActionRefund, Target: presale.StateCanceled}}

	case presale.StateFinalized:
		switch {
		case !s.Settled:
			return PhaseFinalizedUnsettled, []presale.Action{{Kind: presale.ActionSettle, Target: presale.StateFinalized}}
		case !s.Claimed:
			return PhaseFinalizedSettled, []presale.Action{{Kind: presale.ActionClaim, Target: presale.StateFinalized}}
		default:
			return PhaseFinalizedClaimed, []presale.Action{}
		}

	case presale.StateActive:
		switch {
		case now.Before(s.StartTime):
			return PhaseNotStarted, []presale.Action{}
		case now.Before(s.EndTime):
			return PhaseBidding, []presale.Action{{Kind: presale.ActionBid, Target: presale.StateActive}}
		default:
			return PhaseAwaitingFinalization, []presale.Action{{Kind: presale.ActionFinalize, Target: presale.StateFinalized}}
		}

	case presale.StateWaitingForFinalize:
		// Finalize is only accepted from Active.
		return PhaseAwaitingFinalization, []presale.Action{}
	}
	return PhaseUnknown, []presale.Action{}
}
