package presale

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// OnchainState is the authoritative four-valued state of a presale pool.
type OnchainState uint8

// On-chain pool states as encoded by the presale contract.
const (
	StateUnknown            OnchainState = 0
	StateActive             OnchainState = 1
	StateWaitingForFinalize OnchainState = 2
	StateCanceled           OnchainState = 3
	StateFinalized          OnchainState = 4
)

var onchainStateNames = map[OnchainState]string{
	StateActive:             "ACTIVE",
	StateWaitingForFinalize: "WAITING_FOR_FINALIZE",
	StateCanceled:           "CANCELED",
	StateFinalized:          "FINALIZED",
}

// fold case-folds a boundary token. Casers are stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// String returns the symbolic contract name of the state.
func (s OnchainState) String() string {
	if name, ok := onchainStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Valid reports whether s is one of the four contract states.
func (s OnchainState) Valid() bool {
	_, ok := onchainStateNames[s]
	return ok
}

// Terminal reports whether the pool has left the sale for good.
func (s OnchainState) Terminal() bool {
	return s == StateFinalized || s == StateCanceled
}

// ParseOnchainState accepts the numeric ("1") or symbolic ("active",
// "WAITING_FOR_FINALIZE") form of a state.
//
// Parameters:
//   - value (string): raw boundary value
//
// Returns:
//   - OnchainState: the parsed state
//   - bool: false when value names no known state
func ParseOnchainState(value string) (OnchainState, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return StateUnknown, false
	}
	if n, err := strconv.ParseUint(v, 10, 8); err == nil {
		s := OnchainState(n)
		return s, s.Valid()
	}
	folded := fold(v)
	for s, name := range onchainStateNames {
		if fold(name) == folded {
			return s, true
		}
	}
	return StateUnknown, false
}

// MarshalJSON encodes the state as its contract number.
func (s OnchainState) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(s))
}

// UnmarshalJSON accepts a JSON number or string and normalizes it into the
// closed enum, so nothing downstream sees the raw shape.
func (s *OnchainState) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var text string
	switch v := raw.(type) {
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		text = v
	default:
		return Errorf(KindValidation, "decode status", "unsupported status value %s", string(data))
	}
	parsed, ok := ParseOnchainState(text)
	if !ok {
		return Errorf(KindValidation, "decode status", "unknown on-chain status %q", text)
	}
	*s = parsed
	return nil
}

// ManageStatus is the derived operator-facing status. It is recomputed on
// every read and never persisted.
type ManageStatus string

// Management statuses.
const (
	ManageDraft  ManageStatus = "Draft"
	ManageActive ManageStatus = "Active"
	ManageClosed ManageStatus = "Closed"
)

// ManageStatuses lists the closed set in display order.
var ManageStatuses = []ManageStatus{ManageDraft, ManageActive, ManageClosed}

// ParseManageStatus matches value case-insensitively against the closed set.
func ParseManageStatus(value string) (ManageStatus, bool) {
	folded := fold(strings.TrimSpace(value))
	if folded == "" {
		return "", false
	}
	for _, s := range ManageStatuses {
		if fold(string(s)) == folded {
			return s, true
		}
	}
	return "", false
}
