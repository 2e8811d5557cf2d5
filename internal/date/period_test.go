package date

import (
	"errors"
	"testing"
	"time"
)

func TestCalculate(t *testing.T) {
	anchor := MustParse("2020-08-15")

	cases := []struct {
		name   string
		p      Periodicity
		anchor Date
		want   Range
	}{
		{"day", Day, anchor, Range{Start: anchor, End: anchor}},
		{"week mid", Week, anchor, Range{Start: MustParse("2020-08-10"), End: MustParse("2020-08-16")}},
		{"week on monday", Week, MustParse("2020-08-10"), Range{Start: MustParse("2020-08-10"), End: MustParse("2020-08-16")}},
		{"week on sunday", Week, MustParse("2020-08-16"), Range{Start: MustParse("2020-08-10"), End: MustParse("2020-08-16")}},
		{"month", Month, anchor, Range{Start: MustParse("2020-08-01"), End: MustParse("2020-08-31")}},
		{"month february leap", Month, MustParse("2020-02-29"), Range{Start: MustParse("2020-02-01"), End: MustParse("2020-02-29")}},
		{"quarter", Quarter, anchor, Range{Start: MustParse("2020-07-01"), End: MustParse("2020-09-30")}},
		{"quarter first month", Quarter, MustParse("2020-01-01"), Range{Start: MustParse("2020-01-01"), End: MustParse("2020-03-31")}},
		{"half year first", HalfYear, MustParse("2020-03-05"), Range{Start: MustParse("2020-01-01"), End: MustParse("2020-06-30")}},
		{"half year second", HalfYear, anchor, Range{Start: MustParse("2020-07-01"), End: MustParse("2020-12-31")}},
		{"year", Year, anchor, Range{Start: MustParse("2020-01-01"), End: MustParse("2020-12-31")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Calculate(tc.p, tc.anchor)
			if err != nil {
				t.Fatalf("Calculate(%s, %s): %v", tc.p, tc.anchor, err)
			}
			if got != tc.want {
				t.Errorf("Calculate(%s, %s) = %v, want %v", tc.p, tc.anchor, got, tc.want)
			}
		})
	}
}

func TestCalculateIdempotent(t *testing.T) {
	anchor := MustParse("2021-11-03")
	first, err := Calculate(Quarter, anchor)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Calculate(Quarter, anchor)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("two calls disagree: %v vs %v", first, second)
	}
}

func TestCalculateInvalid(t *testing.T) {
	if _, err := Calculate(Periodicity("fortnight"), MustParse("2020-08-15")); !errors.Is(err, ErrInvalidPeriodicity) {
		t.Errorf("expected ErrInvalidPeriodicity, got %v", err)
	}
	if _, err := Calculate(Month, Date{}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero anchor, got %v", err)
	}
}

func TestParsePeriodicity(t *testing.T) {
	for _, p := range Periodicities() {
		got, err := ParsePeriodicity(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePeriodicity(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParsePeriodicity("decade"); !errors.Is(err, ErrInvalidPeriodicity) {
		t.Errorf("expected ErrInvalidPeriodicity, got %v", err)
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{Start: MustParse("2020-08-10"), End: MustParse("2020-08-16")}

	cases := []struct {
		d    Date
		want bool
	}{
		{MustParse("2020-08-10"), true},
		{MustParse("2020-08-13"), true},
		{MustParse("2020-08-16"), true},
		{MustParse("2020-08-09"), false},
		{MustParse("2020-08-17"), false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.d); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestDateRoundTrip(t *testing.T) {
	d := New(2020, time.August, 15)
	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != d {
		t.Errorf("round trip mismatch: %v vs %v", parsed, d)
	}

	if _, err := Parse("15/08/2020"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}
