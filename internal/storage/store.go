// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"math"
	"strconv"

	"github.com/splitpot/splitpot/internal/models"
)

// LedgerStore is the single source of truth for ledger state. Every mutation
// returns the full canonical ledger after the change, which callers use to
// reconcile optimistic local state. Conflicting concurrent writes to the same
// field resolve last-write-wins; the store never promises multi-writer
// transactional isolation.
//
// All mutations reject a settled ledger with models.ErrLedgerSettled, except
// Settle (idempotent) and Unsettle. Unknown tokens yield
// models.ErrInvalidToken.
type LedgerStore interface {
	// Create persists a new ledger. Token, row IDs, and CreatedAt are
	// assigned when empty; a ledger with no rows is seeded with one
	// unnamed row.
	Create(ctx context.Context, ledger *models.Ledger) error

	// GetByToken retrieves the canonical ledger for a share token.
	GetByToken(ctx context.Context, token string) (*models.Ledger, error)

	// UpdateField sets one field of the row at the given zero-based
	// position. Amount values are parsed and normalized to cents; text
	// that does not parse as a finite number is rejected with a
	// models.ValidationError.
	UpdateField(ctx context.Context, token string, row int, field models.Field, value string) (*models.Ledger, error)

	// AddRow appends a row. An empty name is stored as the unnamed
	// sentinel.
	AddRow(ctx context.Context, token, name string, amount float64) (*models.Ledger, error)

	// DeleteRow removes the row at the given position and shifts the
	// remainder. Fails with models.ErrMinimumOneRow if it would leave
	// zero rows.
	DeleteRow(ctx context.Context, token string, row int) (*models.Ledger, error)

	// UpdateName sets the ledger's display name.
	UpdateName(ctx context.Context, token, name string) (*models.Ledger, error)

	// UpdateDate sets or clears the ledger's calendar date.
	UpdateDate(ctx context.Context, token string, date models.Date) (*models.Ledger, error)

	// Settle freezes the ledger. Fails with models.UnbalancedError or
	// models.DuplicateParticipantError per the settlement rules; settling
	// an already-settled ledger succeeds and returns current state.
	Settle(ctx context.Context, token string) (*models.Ledger, error)

	// Unsettle unfreezes the ledger unconditionally. Idempotent.
	Unsettle(ctx context.Context, token string) (*models.Ledger, error)

	// Delete removes the ledger entirely.
	Delete(ctx context.Context, token string) error

	// Close releases any resources held by the store.
	Close() error
}

// ParseAmount parses textual amount input into a finite number. Empty text
// parses to zero: an untouched amount cell is a zero amount, not an error.
func ParseAmount(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &models.ValidationError{Field: "amount", Reason: "not a finite number: " + strconv.Quote(value)}
	}
	return f, nil
}

// NormalizeAmount rounds to cents. Stores apply this on every write so the
// canonical response is what clients reconcile against.
func NormalizeAmount(f float64) float64 {
	return math.Round(f*100) / 100
}
