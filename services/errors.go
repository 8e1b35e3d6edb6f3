package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidArgument   ErrorKind = "INVALID_ARGUMENT"
	KindIneligible        ErrorKind = "INELIGIBLE"
	KindAlreadyRedeemed   ErrorKind = "ALREADY_REDEEMED"
	KindConflict          ErrorKind = "CONFLICT"
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS"
	KindLimitExceeded     ErrorKind = "LIMIT_EXCEEDED"
	KindInvalidState      ErrorKind = "INVALID_STATE"
	KindUpstreamFailure   ErrorKind = "UPSTREAM_FAILURE"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
	KindForbidden         ErrorKind = "FORBIDDEN"
)

// Ineligibility reasons reported by Redeem.
const (
	ReasonInactive    = "inactive"
	ReasonExpired     = "expired"
	ReasonNotYetValid = "not-yet-valid"
	ReasonExhausted   = "exhausted"
)

// Error is a business error with a stable kind. Reason is safe to show to
// callers; Err is the underlying cause and is never rendered.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
