package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for API mapping and callers that branch
// on failure class. Every rejected operation carries a stable kind plus a
// human-readable message.
type Kind string

const (
	KindInvalidOrderParameters Kind = "INVALID_ORDER_PARAMETERS"
	KindMarketNotTradeable     Kind = "MARKET_NOT_TRADEABLE"
	KindInsufficientFunds      Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientShares     Kind = "INSUFFICIENT_SHARES"
	KindNotFound               Kind = "NOT_FOUND"
	KindNotOwner               Kind = "NOT_OWNER"
	KindAlreadyTerminal        Kind = "ALREADY_TERMINAL"
	KindInvalidTransition      Kind = "INVALID_TRANSITION"
	KindInternal               Kind = "INTERNAL_INVARIANT_VIOLATION"
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds a classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, or KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
