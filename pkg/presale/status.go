package presale

import "time"

// Resolve derives the management status of p at now.
//
// Rules apply in order: a soft-deleted or explicitly closed record is Closed;
// a Finalized or Canceled pool is Closed; before the start time the presale
// is a Draft; otherwise it is Active through the end time (inclusive) and
// Closed after it. The result depends on now and must not be cached.
//
// Parameters:
//   - p (*Presale): the indexed record, nil resolves to Draft
//   - now (time.Time): evaluation instant
//
// Returns:
//   - ManageStatus: the derived status
func Resolve(p *Presale, now time.Time) ManageStatus {
	if p == nil {
		return ManageDraft
	}
	if p.DeletedAt != nil || p.ClosedAt != nil {
		return ManageClosed
	}
	if p.Status.Terminal() {
		return ManageClosed
	}
	if p.StartTime.IsZero() || now.Before(p.StartTime) {
		return ManageDraft
	}
	if p.EndTime.IsZero() || !now.After(p.EndTime) {
		return ManageActive
	}
	return ManageClosed
}

// CanTransition reports whether a management status may move from current
// to target. Only Draft→Active and Active→Closed are legal; identity pairs
// are not.
func CanTransition(current, target ManageStatus) bool {
	switch {
	case current == ManageDraft && target == ManageActive:
		return true
	case current == ManageActive && target == ManageClosed:
		return true
	default:
		return false
	}
}

// GuardTransition returns a validation error wrapping ErrIllegalTransition
// when CanTransition rejects the pair.
func GuardTransition(current, target ManageStatus) error {
	if CanTransition(current, target) {
		return nil
	}
	return &Error{
		Kind: KindValidation,
		Op:   "transition",
		Msg:  "cannot transition from " + string(current) + " to " + string(target),
		Err:  ErrIllegalTransition,
	}
}
