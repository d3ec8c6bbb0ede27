package ledger

import (
	"fmt"
	"time"
)

// Wire date layouts. The processor export sometimes carries a time of day;
// the bank export is date-only.
const (
	DateLayout     = "02/01/2006"
	DateTimeLayout = "02/01/2006 15:04"
)

// ParseWireDate parses a dd/mm/yyyy date, with or without a trailing HH:MM.
// Callers treat a failure as "exclude this record from date-based passes",
// never as a batch failure.
func ParseWireDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrUnparseableDate)
	}
	if t, err := time.Parse(DateTimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, s)
}

// FormatWireDate renders a date in the dd/mm/yyyy wire format.
func FormatWireDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly truncates a timestamp to midnight UTC so date comparisons ignore
// the time component.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayDiff returns the absolute difference between two dates in whole days.
func DayDiff(a, b time.Time) int {
	d := int(DateOnly(a).Sub(DateOnly(b)).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

// MonthEnd returns the last day of t's month.
func MonthEnd(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
