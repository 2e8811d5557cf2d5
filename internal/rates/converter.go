// Package rates provides currency conversion for ledger writes and reports.
// The algorithm for obtaining rates is external; this package only stores and
// applies them.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"libretto/internal/core"
	"libretto/internal/date"
)

// ErrRateUnavailable is returned when no rate is known for a currency pair
// and the table is configured to fail hard.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Converter converts an amount into another currency as of a given date.
// Conversion results are frozen into transaction legs at creation time, so a
// converter is only consulted on the write path and for report-time
// aggregates like net worth.
type Converter interface {
	Convert(ctx context.Context, m core.Money, to string, asOf date.Date) (core.Money, error)
}

type pair struct {
	from string
	to   string
}

type datedRate struct {
	rate date.Date
	val  decimal.Decimal
}

// Table is an in-memory, date-aware rate table. Lookups pick the most recent
// rate on or before the requested date. When every known rate postdates the
// request the table either falls back to the earliest known rate with a
// logged warning (default) or, with Strict set, fails with
// ErrRateUnavailable. A missing pair with no known rate at all always fails.
type Table struct {
	mu     sync.RWMutex
	rates  map[pair][]datedRate // ascending by date
	strict bool
}

// NewTable returns an empty rate table. strict selects hard failure over
// stale-rate fallback when a rate is missing for the requested date.
func NewTable(strict bool) *Table {
	return &Table{rates: make(map[pair][]datedRate), strict: strict}
}

// SetRate records the rate from one currency to another as of a date.
// Rates are directional; record both directions if both are needed.
func (t *Table) SetRate(from, to string, rate decimal.Decimal, asOf date.Date) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pair{from: from, to: to}
	entries := t.rates[key]
	for i := range entries {
		if entries[i].rate == asOf {
			entries[i].val = rate
			return
		}
	}
	// Insert keeping ascending date order.
	idx := len(entries)
	for i := range entries {
		if asOf.Before(entries[i].rate) {
			idx = i
			break
		}
	}
	entries = append(entries, datedRate{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = datedRate{rate: asOf, val: rate}
	t.rates[key] = entries
}

// Convert implements Converter.
func (t *Table) Convert(ctx context.Context, m core.Money, to string, asOf date.Date) (core.Money, error) {
	if m.Currency == to {
		return m, nil
	}
	if err := core.ValidateCurrency(to); err != nil {
		return core.Money{}, err
	}

	t.mu.RLock()
	entries := t.rates[pair{from: m.Currency, to: to}]
	t.mu.RUnlock()

	if len(entries) == 0 {
		return core.Money{}, fmt.Errorf("%w: %s->%s", ErrRateUnavailable, m.Currency, to)
	}

	// Most recent rate on or before asOf.
	var found *datedRate
	for i := range entries {
		if entries[i].rate.After(asOf) {
			break
		}
		found = &entries[i]
	}

	if found == nil {
		if t.strict {
			return core.Money{}, fmt.Errorf("%w: %s->%s as of %s", ErrRateUnavailable, m.Currency, to, asOf)
		}
		// Every known rate postdates the request; degrade to the earliest
		// one rather than failing the write.
		found = &entries[0]
		slog.WarnContext(ctx, "No exchange rate on or before date, using earliest known rate",
			"from", m.Currency,
			"to", to,
			"as_of", asOf.String(),
			"rate_date", found.rate.String())
	}

	return core.Money{Amount: m.Amount.Mul(found.val).Round(2), Currency: to}, nil
}

var _ Converter = (*Table)(nil)
