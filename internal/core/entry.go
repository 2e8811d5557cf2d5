package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"libretto/internal/date"
)

// TransactionType classifies a journal entry by the shape of its legs.
type TransactionType string

const (
	TypeDeposit        TransactionType = "deposit"
	TypeWithdrawal     TransactionType = "withdrawal"
	TypeTransfer       TransactionType = "transfer"
	TypeOpeningBalance TransactionType = "opening_balance"
	TypeReconciliation TransactionType = "reconciliation"
)

// Valid reports whether t is a recognized transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransfer, TypeOpeningBalance, TypeReconciliation:
		return true
	default:
		return false
	}
}

// LegSide names one side of a double entry.
type LegSide string

const (
	SideSource      LegSide = "source"      // negative leg, money leaving
	SideDestination LegSide = "destination" // positive leg, money arriving
)

// JournalEntry is a user-facing financial event composed of one or more legs.
// The entry's Amount is its nominal amount; each leg carries the amount
// converted into its own account's currency, frozen at creation time.
type JournalEntry struct {
	ID             int64
	UUID           uuid.UUID
	Date           date.Date
	Description    string
	Type           TransactionType
	Amount         Money
	CategoryID     *int64
	BudgetPeriodID *int64
	Tags           []string
	Legs           []TransactionLeg
	Created        time.Time
	Modified       time.Time
}

// TransactionLeg is one account-scoped signed amount belonging to a journal
// entry. Its amount is always expressed in the owning account's currency.
type TransactionLeg struct {
	ID         int64
	UUID       uuid.UUID
	EntryID    int64
	AccountID  int64
	Amount     Money
	Reconciled bool
	Opening    bool
}

// SourceLeg returns the entry's first negative leg, or nil.
func (e *JournalEntry) SourceLeg() *TransactionLeg {
	for i := range e.Legs {
		if e.Legs[i].Amount.IsNegative() {
			return &e.Legs[i]
		}
	}
	return nil
}

// DestinationLeg returns the entry's first positive leg, or nil.
func (e *JournalEntry) DestinationLeg() *TransactionLeg {
	for i := range e.Legs {
		if e.Legs[i].Amount.IsPositive() {
			return &e.Legs[i]
		}
	}
	return nil
}

// ValidateLegShape checks that the accounts supplied for a transaction type
// satisfy the type's required sides:
//
//	opening_balance, reconciliation: destination required, source optional
//	deposit:    destination required, source optional
//	withdrawal: source required, destination optional
//	transfer:   both required
func ValidateLegShape(t TransactionType, from, to *Account) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, t)
	}
	switch t {
	case TypeDeposit, TypeOpeningBalance, TypeReconciliation:
		if to == nil {
			return &MissingAccountError{Type: t, Side: SideDestination}
		}
	case TypeWithdrawal:
		if from == nil {
			return &MissingAccountError{Type: t, Side: SideSource}
		}
	case TypeTransfer:
		if from == nil {
			return &MissingAccountError{Type: t, Side: SideSource}
		}
		if to == nil {
			return &MissingAccountError{Type: t, Side: SideDestination}
		}
	}
	return nil
}

// ClassifyType infers a transaction type from the accounts on each side when
// the caller does not state one. Both sides owned means a transfer; only the
// source owned means a withdrawal; only the destination owned means a
// deposit. Ambiguous shapes default to withdrawal when a source exists,
// deposit otherwise.
func ClassifyType(from, to *Account) TransactionType {
	srcOwned := from != nil && from.Kind.Owned()
	dstOwned := to != nil && to.Kind.Owned()

	switch {
	case srcOwned && dstOwned:
		return TypeTransfer
	case srcOwned:
		return TypeWithdrawal
	case dstOwned:
		return TypeDeposit
	case from != nil:
		return TypeWithdrawal
	default:
		return TypeDeposit
	}
}

// ValidateDescription checks the entry description constraints.
func ValidateDescription(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyDescription
	}
	if len(s) > 500 {
		return fmt.Errorf("description too long (max 500 characters)")
	}
	return nil
}

// NormalizeTags trims, lowercases nothing, and de-duplicates a tag list while
// preserving first-seen order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
