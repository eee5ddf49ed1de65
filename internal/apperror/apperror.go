// Package apperror is the error taxonomy shared by the services and the
// HTTP layer.
//
// Kinds separate outcomes callers must treat differently: contention is a
// normal, retryable result under load; policy means the request was
// refused and retrying will not help until something changes; a state
// guard rejects an illegal lifecycle transition; infrastructure means a
// store or broker was unreachable and nothing was decided.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

const (
	KindInternal Kind = iota
	KindContention
	KindPolicy
	KindStateGuard
	KindNotFound
	KindValidation
	KindForbidden
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindContention:
		return "contention"
	case KindPolicy:
		return "policy"
	case KindStateGuard:
		return "state_guard"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "internal"
	}
}

// Codes returned to clients.
const (
	CodeSeatHeld             = "SEAT_HELD"
	CodeSeatUnavailable      = "SEAT_UNAVAILABLE"
	CodeQueueInactive        = "QUEUE_INACTIVE"
	CodeInventoryExists      = "INVENTORY_EXISTS"
	CodeAlreadyAllocated     = "ALREADY_ALLOCATED"
	CodeDuplicateEntitlement = "DUPLICATE_ENTITLEMENT"
	CodeReservationExpired   = "RESERVATION_EXPIRED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
	CodeForbidden            = "FORBIDDEN"
	CodeUnavailable          = "SERVICE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error carries a Kind, a stable Code and a client-safe Message. Err is the
// underlying cause and is never shown to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if sent again
// later without any other change.
func (e *Error) Retryable() bool {
	return e.Kind == KindContention || e.Kind == KindInfrastructure
}

// StatusCode maps the kind onto an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindContention, KindStateGuard:
		return http.StatusConflict
	case KindPolicy, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Contention(code, message string) *Error {
	return &Error{Kind: KindContention, Code: code, Message: message}
}

// Policy builds a refusal; code is the deny reason.
func Policy(code, message string) *Error {
	return &Error{Kind: KindPolicy, Code: code, Message: message}
}

// Expired reports that the reservation was expired before it could be
// completed.
func Expired() *Error {
	return &Error{Kind: KindStateGuard, Code: CodeReservationExpired, Message: "reservation expired"}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindStateGuard,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: resource + " not found"}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

// Unavailable wraps a store or broker failure.
func Unavailable(err error) *Error {
	return &Error{
		Kind:    KindInfrastructure,
		Code:    CodeUnavailable,
		Message: "temporarily unavailable, retry later",
		Err:     err,
	}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// As returns the first *Error in err's chain, or an internal error wrapping
// err when there is none.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
