// Package balance computes whether a ledger's rows form a valid zero-sum
// settlement. Pure functions, no state; callers re-run them on every
// row-set change.
package balance

import (
	"math"
	"sort"

	"github.com/splitpot/splitpot/internal/models"
)

// Epsilon is the tolerance under which a sum counts as zero. Amounts are
// cents-precision floats, so anything below a cent is rounding noise.
const Epsilon = 0.01

// Result is the outcome of evaluating a row set.
type Result struct {
	// Sum is the arithmetic sum of all row amounts.
	Sum float64

	// Valid is true when the sum is within Epsilon of zero AND at least
	// one row has a real participant with a nonzero amount. The second
	// clause keeps a ledger of all-empty rows (which sums to zero
	// trivially) from being settleable.
	Valid bool
}

// Evaluate computes the sum and validity of rows.
func Evaluate(rows []models.Row) Result {
	var sum float64
	hasContent := false
	for _, r := range rows {
		sum += r.Amount
		if r.HasName() && r.Amount != 0 {
			hasContent = true
		}
	}
	return Result{
		Sum:   sum,
		Valid: math.Abs(sum) < Epsilon && hasContent,
	}
}

// Duplicates returns each non-empty participant name that appears on more
// than one row, listed once, in sorted order. Unnamed rows never collide.
func Duplicates(rows []models.Row) []string {
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.HasName() {
			seen[r.Name]++
		}
	}
	var dups []string
	for name, n := range seen {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	sort.Strings(dups)
	return dups
}

// ValidateSettlement reports why rows cannot be settled, or nil when they
// can. Balance is checked before duplicates so the caller surfaces the
// cheaper fix first.
func ValidateSettlement(rows []models.Row) error {
	res := Evaluate(rows)
	if !res.Valid {
		return &models.UnbalancedError{Sum: res.Sum}
	}
	if dups := Duplicates(rows); len(dups) > 0 {
		return &models.DuplicateParticipantError{Names: dups}
	}
	return nil
}
