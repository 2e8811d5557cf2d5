package date

import (
	"fmt"
	"strings"
	"time"
)

// Periodicity identifies one of the recognized calendar period lengths.
type Periodicity string

const (
	Day      Periodicity = "day"
	Week     Periodicity = "week"
	Month    Periodicity = "month"
	Quarter  Periodicity = "quarter"
	HalfYear Periodicity = "half_year"
	Year     Periodicity = "year"
)

// Periodicities lists all recognized values in ascending length order.
func Periodicities() []Periodicity {
	return []Periodicity{Day, Week, Month, Quarter, HalfYear, Year}
}

// String implements fmt.Stringer.
func (p Periodicity) String() string { return string(p) }

// Valid reports whether p is one of the recognized periodicities.
func (p Periodicity) Valid() bool {
	switch p {
	case Day, Week, Month, Quarter, HalfYear, Year:
		return true
	default:
		return false
	}
}

// ParsePeriodicity parses a periodicity from its string form.
func ParsePeriodicity(s string) (Periodicity, error) {
	p := Periodicity(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown periodicity %q", ErrInvalidPeriodicity, s)
	}
	return p, nil
}

// Range is an inclusive [Start, End] range of dates.
type Range struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains reports whether d falls inside the range, boundaries included.
func (r Range) Contains(d Date) bool { return !d.Before(r.Start) && !d.After(r.End) }

// String formats the range as "start..end".
func (r Range) String() string { return r.Start.String() + ".." + r.End.String() }

// Calculate maps a periodicity and an anchor date to the calendar range
// containing the anchor. It is pure: identical inputs always yield identical
// output and the current time is never consulted.
//
//	day:       start = end = anchor
//	week:      Monday on/before anchor .. +6 days
//	month:     first .. last day of the anchor's month
//	quarter:   first day of month 1/4/7/10 .. +3 months -1 day
//	half_year: first day of Jan/Jul .. +6 months -1 day
//	year:      Jan 1 .. Dec 31 of the anchor's year
func Calculate(p Periodicity, anchor Date) (Range, error) {
	if anchor.IsZero() {
		return Range{}, fmt.Errorf("%w: zero anchor date", ErrInvalidDate)
	}

	switch p {
	case Day:
		return Range{Start: anchor, End: anchor}, nil
	case Week:
		// time.Weekday counts Sunday as 0; shift so Monday is the week start.
		offset := (int(anchor.Weekday()) + 6) % 7
		start := anchor.AddDays(-offset)
		return Range{Start: start, End: start.AddDays(6)}, nil
	case Month:
		start := New(anchor.Year(), anchor.Month(), 1)
		return Range{Start: start, End: start.AddMonths(1).AddDays(-1)}, nil
	case Quarter:
		startMonth := time.Month(3*((int(anchor.Month())-1)/3) + 1)
		start := New(anchor.Year(), startMonth, 1)
		return Range{Start: start, End: start.AddMonths(3).AddDays(-1)}, nil
	case HalfYear:
		startMonth := time.Month(6*((int(anchor.Month())-1)/6) + 1)
		start := New(anchor.Year(), startMonth, 1)
		return Range{Start: start, End: start.AddMonths(6).AddDays(-1)}, nil
	case Year:
		return Range{
			Start: New(anchor.Year(), time.January, 1),
			End:   New(anchor.Year(), time.December, 31),
		}, nil
	default:
		return Range{}, fmt.Errorf("%w: unknown periodicity %q", ErrInvalidPeriodicity, p)
	}
}
