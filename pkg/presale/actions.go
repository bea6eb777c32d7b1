package presale

import (
	"strings"
	"time"
)

// ActionKind tags an action a caller may render and trigger.
type ActionKind string

// Action kinds. Activate, MarkWaiting, Finalize and Cancel are operator
// actions; Bid, Finalize, Settle, Claim and Refund are contributor triggers.
const (
	ActionActivate    ActionKind = "activate"
	ActionMarkWaiting ActionKind = "mark-waiting"
	ActionFinalize    ActionKind = "finalize"
	ActionCancel      ActionKind = "cancel"
	ActionSettle      ActionKind = "settle"
	ActionClaim       ActionKind = "claim"
	ActionRefund      ActionKind = "refund"
	ActionBid         ActionKind = "bid"
)

var actionKinds = []ActionKind{
	ActionActivate, ActionMarkWaiting, ActionFinalize, ActionCancel,
	ActionSettle, ActionClaim, ActionRefund, ActionBid,
}

// ParseActionKind matches a path or body token against the known kinds.
func ParseActionKind(value string) (ActionKind, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "_", "-")
	if v == "markwaiting" {
		v = string(ActionMarkWaiting)
	}
	for _, k := range actionKinds {
		if string(k) == v {
			return k, true
		}
	}
	return "", false
}

// Action is one available trigger together with the on-chain state it leads to.
// Target is StateUnknown when the trigger does not change the pool state.
type Action struct {
	Kind   ActionKind   `json:"kind"`
	Target OnchainState `json:"target"`
}

// ManageActions lists the operator actions for p at now. Draft presales can
// be activated; Active ones can be marked waiting or canceled. Once the end
// time has passed with the ledger still Active the presale reads Closed and
// can be finalized or canceled. Anything else offers nothing.
func ManageActions(p *Presale, now time.Time) []Action {
	switch Resolve(p, now) {
	case ManageDraft:
		return []Action{{Kind: ActionActivate, Target: StateActive}}
	case ManageActive:
		return []Action{
			{Kind: ActionMarkWaiting, Target: StateWaitingForFinalize},
			{Kind: ActionCancel, Target: StateCanceled},
		}
	}
	if p != nil && p.DeletedAt == nil && p.Status == StateActive && !p.EndTime.IsZero() && !now.Before(p.EndTime) {
		return []Action{
			{Kind: ActionFinalize, Target: StateFinalized},
			{Kind: ActionCancel, Target: StateCanceled},
		}
	}
	return []Action{}
}

// HasAction reports whether kind appears in actions.
func HasAction(actions []Action, kind ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
