package models

import (
	"fmt"
	"time"
)

// dateLayout is the canonical wire and storage format for dates.
const dateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day component, stored as
// "YYYY-MM-DD". The zero value means "no date set".
type Date string

// ParseDate validates s as a calendar date. The empty string parses to the
// zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", &ValidationError{Field: "date", Reason: fmt.Sprintf("not a calendar date: %q", s)}
	}
	return Date(s), nil
}

// IsZero reports whether no date is set.
func (d Date) IsZero() bool {
	return d == ""
}

// String returns the canonical "YYYY-MM-DD" form, or "" when unset.
func (d Date) String() string {
	return string(d)
}
