// Package gameerr is the error taxonomy shared by the session actor, the
// settlement pipeline and the transports.
package gameerr

import (
	"errors"
	"net/http"

	"github.com/park285/basedchess/pkg/chessdto"
)

// Kind is a machine-readable failure class. Its string form is the wire code.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthorization    Kind = "unauthorized"
	KindInvalidSignature Kind = "invalid-signature"
	KindNotFound         Kind = "not-found"
	KindConflict         Kind = "conflict"
	KindStaleHistory     Kind = "stale-history"
	KindLedger           Kind = "ledger-failure"
	KindInternal         Kind = "internal"
)

// parent maps refined kinds onto their broader class.
func (k Kind) parent() Kind {
	switch k {
	case KindInvalidSignature:
		return KindAuthorization
	case KindStaleHistory:
		return KindConflict
	default:
		return k
	}
}

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k.parent() {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindLedger:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may resubmit unchanged.
func (k Kind) Retryable() bool { return k == KindLedger }

// Error carries a kind, a message safe to show for non-internal kinds, and an
// optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by kind; a refined kind also matches its broader class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind || e.Kind.parent() == t.Kind
}

// Class sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrInvalidSignature = &Error{Kind: KindInvalidSignature}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrStaleHistory     = &Error{Kind: KindStaleHistory}
	ErrLedger           = &Error{Kind: KindLedger}
	ErrInternal         = &Error{Kind: KindInternal}
)

func Validation(msg string) error    { return &Error{Kind: KindValidation, Message: msg} }
func Authorization(msg string) error { return &Error{Kind: KindAuthorization, Message: msg} }
func NotFound(msg string) error      { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) error      { return &Error{Kind: KindConflict, Message: msg} }

func InvalidSignature(msg string) error {
	return &Error{Kind: KindInvalidSignature, Message: msg}
}

func StaleHistory(msg string) error {
	return &Error{Kind: KindStaleHistory, Message: msg}
}

func Ledger(msg string, cause error) error {
	return &Error{Kind: KindLedger, Message: msg, Cause: cause}
}

func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public converts err into the boundary representation. Internal failures
// lose their message and cause.
func Public(err error) chessdto.DomainError {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return chessdto.DomainError{Code: string(KindInternal), Message: "internal error"}
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Kind == KindLedger && e.Cause != nil {
		msg = e.Error()
	}
	return chessdto.DomainError{Code: string(e.Kind), Message: msg, Retryable: e.Kind.Retryable()}
}
