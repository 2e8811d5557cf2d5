package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind is the broad classification of an account. Asset and liability
// kinds are "owned": they represent the user's own holdings. Revenue and
// expense kinds model external counterparties.
type AccountKind string

const (
	KindAsset     AccountKind = "asset"
	KindLiability AccountKind = "liability"
	KindRevenue   AccountKind = "revenue"
	KindExpense   AccountKind = "expense"
)

// ownedKinds is the dispatch table for owned-ness. Kind behavior is looked up
// here rather than attached to per-kind types.
var ownedKinds = map[AccountKind]bool{
	KindAsset:     true,
	KindLiability: true,
	KindRevenue:   false,
	KindExpense:   false,
}

// Valid reports whether k is a recognized account kind.
func (k AccountKind) Valid() bool {
	_, ok := ownedKinds[k]
	return ok
}

// Owned reports whether the kind represents the user's own holdings.
func (k AccountKind) Owned() bool { return ownedKinds[k] }

// Account is a ledger account. VirtualBalance is an offset treated as the
// account's artificial zero-point: it is subtracted from raw leg sums before
// any balance is reported.
type Account struct {
	ID                int64
	UUID              uuid.UUID
	Name              string
	Slug              string
	Kind              AccountKind
	Currency          string
	Active            bool
	IncludeInNetWorth bool

	// Kind-specific optional attributes.
	IBAN          string // asset/bank-like accounts
	AccountNumber string // liability accounts

	VirtualBalance decimal.Decimal
	Created        time.Time
	Modified       time.Time
}

// Validate checks the account's invariants.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown account kind %q", a.Kind)
	}
	return ValidateCurrency(a.Currency)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a display name. Uniqueness is resolved
// by the storage layer, which appends a numeric suffix on collision.
func Slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}
