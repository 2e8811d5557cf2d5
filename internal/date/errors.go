package date

import "errors"

var (
	// ErrInvalidPeriodicity is returned when a periodicity is not one of the
	// six recognized values.
	ErrInvalidPeriodicity = errors.New("invalid periodicity")

	// ErrInvalidDate is returned when a date argument is not a usable
	// calendar date.
	ErrInvalidDate = errors.New("invalid date")
)
