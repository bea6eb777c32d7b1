package presale

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can choose between retrying now,
// later, or never.
type Kind uint8

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransientIndex
	KindRecoverablePersistence
	KindLedger
	KindDecryptUnavailable
	KindInvariantViolation
	KindPending
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindValidation:             "validation",
	KindConflict:               "conflict",
	KindNotFound:               "not_found",
	KindTransientIndex:         "transient_index",
	KindRecoverablePersistence: "recoverable_persistence",
	KindLedger:                 "ledger",
	KindDecryptUnavailable:     "decrypt_unavailable",
	KindInvariantViolation:     "invariant_violation",
	KindPending:                "pending",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kind sentinels for errors.Is.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrTransientIndex         = &Error{Kind: KindTransientIndex}
	ErrRecoverablePersistence = &Error{Kind: KindRecoverablePersistence}
	ErrLedger                 = &Error{Kind: KindLedger}
	ErrDecryptUnavailable     = &Error{Kind: KindDecryptUnavailable}
	ErrInvariantViolation     = &Error{Kind: KindInvariantViolation}
	ErrPending                = &Error{Kind: KindPending}
)

// ErrIllegalTransition is the validation failure raised by the transition guard.
var ErrIllegalTransition = errors.New("illegal status transition")

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which makes the kind sentinels
// usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAdvice tells a caller what to do with a failure.
type RetryAdvice string

// Retry advice values.
const (
	RetryNow   RetryAdvice = "retry_now"
	RetryLater RetryAdvice = "retry_later"
	DoNotRetry RetryAdvice = "do_not_retry"
)

// Disposition maps a failure to retry advice.
func Disposition(err error) RetryAdvice {
	switch KindOf(err) {
	case KindTransientIndex:
		return RetryNow
	case KindRecoverablePersistence, KindDecryptUnavailable, KindPending, KindLedger:
		return RetryLater
	default:
		return DoNotRetry
	}
}
