package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/splitpot/splitpot/internal/models"
)

// The functions below apply the store mutation rules to an in-memory ledger.
// Both store implementations route through them so canonical semantics
// (sentinel names, cents normalization, position bounds, the minimum-one-row
// invariant) cannot drift between backends.

// ApplyFieldUpdate sets one field of the row at the given position.
func ApplyFieldUpdate(l *models.Ledger, row int, field models.Field, value string) error {
	if row < 0 || row >= len(l.Rows) {
		return &models.ValidationError{Field: "row", Reason: fmt.Sprintf("position %d out of range", row)}
	}
	switch field {
	case models.FieldName:
		if value == "" {
			value = models.EmptyName
		}
		l.Rows[row].Name = value
	case models.FieldAmount:
		f, err := ParseAmount(value)
		if err != nil {
			return err
		}
		l.Rows[row].Amount = NormalizeAmount(f)
	default:
		return &models.ValidationError{Field: "field", Reason: fmt.Sprintf("unknown field %q", field)}
	}
	return nil
}

// AppendRow adds a row with a fresh ID.
func AppendRow(l *models.Ledger, name string, amount float64) {
	if name == "" {
		name = models.EmptyName
	}
	l.Rows = append(l.Rows, models.Row{
		ID:     uuid.New().String(),
		Name:   name,
		Amount: NormalizeAmount(amount),
	})
}

// RemoveRow deletes the row at the given position, shifting the remainder.
func RemoveRow(l *models.Ledger, row int) error {
	if len(l.Rows) <= 1 {
		return models.ErrMinimumOneRow
	}
	if row < 0 || row >= len(l.Rows) {
		return &models.ValidationError{Field: "row", Reason: fmt.Sprintf("position %d out of range", row)}
	}
	l.Rows = append(l.Rows[:row], l.Rows[row+1:]...)
	return nil
}
