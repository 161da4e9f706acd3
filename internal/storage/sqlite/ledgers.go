package sqlite

import (
	"context"
	"fmt"

	"github.com/splitpot/splitpot/internal/balance"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// UpdateField sets one field of one row and returns the canonical ledger.
func (s *Store) UpdateField(ctx context.Context, token string, row int, field models.Field, value string) (*models.Ledger, error) {
	return s.mutate(ctx, token, func(l *models.Ledger) error {
		return storage.ApplyFieldUpdate(l, row, field, value)
	})
}

// AddRow appends a row.
func (s *Store) AddRow(ctx context.Context, token, name string, amount float64) (*models.Ledger, error) {
	return s.mutate(ctx, token, func(l *models.Ledger) error {
		storage.AppendRow(l, name, amount)
		return nil
	})
}

// DeleteRow removes the row at the given position and re-compacts positions.
func (s *Store) DeleteRow(ctx context.Context, token string, row int) (*models.Ledger, error) {
	return s.mutate(ctx, token, func(l *models.Ledger) error {
		return storage.RemoveRow(l, row)
	})
}

// UpdateName sets the ledger's display name.
func (s *Store) UpdateName(ctx context.Context, token, name string) (*models.Ledger, error) {
	return s.mutate(ctx, token, func(l *models.Ledger) error {
		l.Name = name
		return nil
	})
}

// UpdateDate sets or clears the ledger's date.
func (s *Store) UpdateDate(ctx context.Context, token string, date models.Date) (*models.Ledger, error) {
	return s.mutate(ctx, token, func(l *models.Ledger) error {
		parsed, err := models.ParseDate(date.String())
		if err != nil {
			return err
		}
		l.Date = parsed
		return nil
	})
}

// Settle freezes the ledger after validating balance and participant
// uniqueness. Settling an already-settled ledger succeeds and returns
// current state.
func (s *Store) Settle(ctx context.Context, token string) (*models.Ledger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ledger, err := loadLedger(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if ledger.Settled {
		return ledger, nil
	}
	if err := balance.ValidateSettlement(ledger.Rows); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE ledgers SET settled = 1 WHERE token = ?", token); err != nil {
		return nil, fmt.Errorf("failed to settle ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	ledger.Settled = true
	return ledger, nil
}

// Unsettle unfreezes the ledger. No precondition, idempotent.
func (s *Store) Unsettle(ctx context.Context, token string) (*models.Ledger, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE ledgers SET settled = 0 WHERE token = ?", token)
	if err != nil {
		return nil, fmt.Errorf("failed to unsettle ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check unsettle result: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidToken, token)
	}
	return loadLedger(ctx, s.db, token)
}

// mutate loads the ledger in a transaction, enforces the settled guard,
// applies fn, and rewrites the row set. Ledgers hold at most a few dozen
// rows, so rewriting keeps positions dense without bookkeeping.
func (s *Store) mutate(ctx context.Context, token string, fn func(*models.Ledger) error) (*models.Ledger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ledger, err := loadLedger(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if ledger.Settled {
		return nil, models.ErrLedgerSettled
	}
	if err := fn(ledger); err != nil {
		return nil, err
	}

	var date interface{}
	if !ledger.Date.IsZero() {
		date = ledger.Date.String()
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE ledgers SET name = ?, date = ? WHERE token = ?",
		ledger.Name, date, token,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update ledger: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rows WHERE ledger_token = ?", token); err != nil {
		return nil, fmt.Errorf("failed to clear rows: %w", err)
	}
	if err := insertRows(ctx, tx, token, ledger.Rows); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ledger, nil
}
