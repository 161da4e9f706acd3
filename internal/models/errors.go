package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidToken means no ledger exists for the presented share token.
	// Terminal for a session: there is nothing to retry against.
	ErrInvalidToken = errors.New("invalid ledger token")

	// ErrMinimumOneRow rejects a deletion that would leave zero rows.
	ErrMinimumOneRow = errors.New("a ledger must keep at least one row")

	// ErrLedgerSettled rejects any mutation of a settled ledger.
	ErrLedgerSettled = errors.New("ledger is settled and read-only")
)

// UnbalancedError blocks settlement while the row amounts do not sum to
// zero. It never blocks editing.
type UnbalancedError struct {
	// Sum is the current arithmetic sum of all row amounts.
	Sum float64
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger does not balance: sum is %.2f, want 0.00", e.Sum)
}

// DuplicateParticipantError blocks settlement while two or more rows carry
// the same non-empty display name.
type DuplicateParticipantError struct {
	// Names lists each duplicated name once.
	Names []string
}

func (e *DuplicateParticipantError) Error() string {
	return fmt.Sprintf("duplicate participants: %s", strings.Join(e.Names, ", "))
}

// ValidationError marks input that is recovered locally and never persisted:
// an unparseable amount, a malformed date, an unknown field. Saves skip it
// without retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
