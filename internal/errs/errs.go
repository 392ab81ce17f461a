// Package errs defines the typed failures returned by the order and
// inventory engine. Every kind is recoverable at the request boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindAccountInactive   Kind = "account_inactive"
	KindAlreadyOwned      Kind = "already_owned"
	KindGameUnavailable   Kind = "game_unavailable"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindOutOfStock        Kind = "out_of_stock"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
)

// Reasons refining KindGameUnavailable.
const (
	ReasonNotReleased = "not_released"
	ReasonOutOfStock  = "out_of_stock"
)

// Error is a typed engine failure.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "/" + e.Reason
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind. A GameUnavailable error caused by missing stock also
// matches ErrOutOfStock.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	if t.Kind == e.Kind {
		return t.Reason == "" || t.Reason == e.Reason
	}
	return t.Kind == KindOutOfStock && e.Kind == KindGameUnavailable && e.Reason == ReasonOutOfStock
}

// Sentinels for errors.Is.
var (
	ErrBadRequest        = &Error{Kind: KindBadRequest}
	ErrAccountInactive   = &Error{Kind: KindAccountInactive}
	ErrAlreadyOwned      = &Error{Kind: KindAlreadyOwned}
	ErrGameUnavailable   = &Error{Kind: KindGameUnavailable}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrOutOfStock        = &Error{Kind: KindOutOfStock}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
)

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, format, args...)
}

// NotReleased reports a game that exists but cannot be sold yet.
func NotReleased(gameID string) *Error {
	return &Error{Kind: KindGameUnavailable, Reason: ReasonNotReleased, Msg: "game " + gameID + " is not released"}
}

// SoldOut reports a game with no Available key, wrapping the inventory cause.
func SoldOut(gameID string, cause error) *Error {
	return &Error{Kind: KindGameUnavailable, Reason: ReasonOutOfStock, Msg: "game " + gameID + " is out of stock", Err: cause}
}

// KindOf returns the Kind of err, or "" for untyped (storage) errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
