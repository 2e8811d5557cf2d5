package services

import (
	"time"

	"libretto/internal/date"
)

// Clock supplies the current moment. It is injected so services never read
// wall-clock time directly and stay deterministic under test.
type Clock interface {
	Now() time.Time
	Today() date.Date
}

type systemClock struct{}

func (systemClock) Now() time.Time   { return time.Now() }
func (systemClock) Today() date.Date { return date.FromTime(time.Now()) }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }
