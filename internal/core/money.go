package core

import (
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is a decimal amount in a specific currency. Amounts are exact
// decimals; float arithmetic is never used.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value from an exact decimal string, e.g. "12.34".
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, amount)
	}
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is like NewMoney but panics on error. Intended for tests.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err.Error())
	}
	return m
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// ValidateCurrency checks the code against the ISO-4217 registry.
func ValidateCurrency(code string) error {
	if gomoney.GetCurrency(code) == nil {
		return fmt.Errorf("%w: unknown currency code %q", ErrInvalidCurrency, code)
	}
	return nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is strictly negative.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money { return Money{Amount: m.Amount.Neg(), Currency: m.Currency} }

// Abs returns the amount with a non-negative sign.
func (m Money) Abs() Money { return Money{Amount: m.Amount.Abs(), Currency: m.Currency} }

// Add returns m + x. Both operands must share a currency.
func (m Money) Add(x Money) (Money, error) {
	if m.Currency != x.Currency {
		return Money{}, &CurrencyMismatchError{Want: m.Currency, Got: x.Currency}
	}
	return Money{Amount: m.Amount.Add(x.Amount), Currency: m.Currency}, nil
}

// Sub returns m - x. Both operands must share a currency.
func (m Money) Sub(x Money) (Money, error) {
	if m.Currency != x.Currency {
		return Money{}, &CurrencyMismatchError{Want: m.Currency, Got: x.Currency}
	}
	return Money{Amount: m.Amount.Sub(x.Amount), Currency: m.Currency}, nil
}

// Equal reports whether two values have the same currency and amount.
func (m Money) Equal(x Money) bool {
	return m.Currency == x.Currency && m.Amount.Equal(x.Amount)
}

// String formats the value as "12.34 EUR".
func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
