package shared

import (
	"errors"
	"time"
)

// ErrInvalidMonth indicates a billing month outside the YYYY-MM form.
var ErrInvalidMonth = errors.New("invalid billing month")

// ParseMonth parses a billing month in YYYY-MM form into the first day of
// that month in UTC.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, ErrInvalidMonth
	}
	return t.UTC(), nil
}

// MonthKey formats a time as its billing month key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
