package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"libretto/internal/date"
)

// AutoBudgetMode controls how a budget's periods are managed as the calendar
// advances.
type AutoBudgetMode string

const (
	// AutoBudgetNone leaves period management to the caller.
	AutoBudgetNone AutoBudgetMode = "none"
	// AutoBudgetAdd tops up each new period with the budget amount on top of
	// whatever the previous period left available.
	AutoBudgetAdd AutoBudgetMode = "add"
	// AutoBudgetFixed resets each new period to exactly the budget amount.
	AutoBudgetFixed AutoBudgetMode = "fixed"
)

// Valid reports whether m is a recognized auto-budget mode.
func (m AutoBudgetMode) Valid() bool {
	switch m {
	case AutoBudgetNone, AutoBudgetAdd, AutoBudgetFixed:
		return true
	default:
		return false
	}
}

// Budget is a named, single-currency spending allowance. With auto-budgeting
// enabled it owns an ordered, non-overlapping chain of periods from its
// creation onward.
type Budget struct {
	ID          int64
	UUID        uuid.UUID
	Name        string
	Active      bool
	Amount      Money
	Mode        AutoBudgetMode
	Periodicity date.Periodicity
	Created     time.Time
	Modified    time.Time
}

// Validate checks the budget's invariants.
func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("budget name cannot be empty")
	}
	if !b.Mode.Valid() {
		return fmt.Errorf("unknown auto-budget mode %q", b.Mode)
	}
	if b.Mode != AutoBudgetNone && !b.Periodicity.Valid() {
		return fmt.Errorf("%w: %q", date.ErrInvalidPeriodicity, b.Periodicity)
	}
	return ValidateCurrency(b.Amount.Currency)
}

// AutoBudgeting reports whether the rollover state machine manages this
// budget's periods.
func (b Budget) AutoBudgeting() bool { return b.Mode != AutoBudgetNone }

// BudgetPeriod is one contiguous calendar window of a budget with its own
// allowance. Used and available amounts are derived from linked journal
// entries, never stored.
type BudgetPeriod struct {
	ID       int64
	BudgetID int64
	Range    date.Range
	Amount   Money
	Created  time.Time
	Modified time.Time
}

// Category is a plain reporting label attached to journal entries.
type Category struct {
	ID       int64
	Name     string
	Created  time.Time
	Modified time.Time
}

// UserPreferences carries per-user defaults. It is passed explicitly into
// operations that need a default; there is no ambient settings lookup.
type UserPreferences struct {
	DefaultCurrency    string
	DefaultPeriodicity date.Periodicity
}

// DefaultPreferences returns the preferences used when a caller supplies none.
func DefaultPreferences() UserPreferences {
	return UserPreferences{DefaultCurrency: "EUR", DefaultPeriodicity: date.Month}
}
