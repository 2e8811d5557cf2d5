package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when an amount string is not an exact decimal.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency is returned for currency codes missing from the
	// ISO-4217 registry.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInvalidTransactionType is returned for unrecognized transaction types.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrEmptyDescription is returned when a journal entry has no description.
	ErrEmptyDescription = errors.New("empty description")

	// ErrNotFound is returned when an entry, account, budget or period does
	// not exist.
	ErrNotFound = errors.New("not found")
)

// MissingAccountError reports a leg-shape validation failure: the transaction
// type requires an account on the named side and none was supplied.
type MissingAccountError struct {
	Type TransactionType
	Side LegSide
}

func (e *MissingAccountError) Error() string {
	return fmt.Sprintf("transaction type %q requires a %s account", e.Type, e.Side)
}

// CurrencyMismatchError reports an amount whose currency disagrees with the
// currency it must be expressed in. Surfacing one after conversion indicates
// a converter bug, not caller error.
type CurrencyMismatchError struct {
	Want string
	Got  string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: want %s, got %s", e.Want, e.Got)
}

// ConflictError reports a uniqueness-constraint race, e.g. two callers
// creating the same budget period or opening balance. It is recoverable:
// the loser retries as an update or treats the row as already written.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: already exists", e.Resource, e.Key)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
