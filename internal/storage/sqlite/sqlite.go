// Package sqlite provides a SQLite-backed implementation of the
// storage.LedgerStore interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// Ensure Store implements storage.LedgerStore
var _ storage.LedgerStore = (*Store)(nil)

// Store implements storage.LedgerStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new ledger, assigning token, row IDs, and CreatedAt as
// needed. A ledger with no rows is seeded with one unnamed row.
func (s *Store) Create(ctx context.Context, ledger *models.Ledger) error {
	if ledger.Token == "" {
		ledger.Token = uuid.New().String()
	}
	if ledger.CreatedAt == 0 {
		ledger.CreatedAt = time.Now().Unix()
	}
	if len(ledger.Rows) == 0 {
		ledger.Rows = []models.Row{{Name: models.EmptyName}}
	}
	for i := range ledger.Rows {
		if ledger.Rows[i].ID == "" {
			ledger.Rows[i].ID = uuid.New().String()
		}
		if ledger.Rows[i].Name == "" {
			ledger.Rows[i].Name = models.EmptyName
		}
		ledger.Rows[i].Amount = storage.NormalizeAmount(ledger.Rows[i].Amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var date interface{}
	if !ledger.Date.IsZero() {
		date = ledger.Date.String()
	}
	var passcode interface{}
	if ledger.PasscodeHash != "" {
		passcode = ledger.PasscodeHash
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO ledgers (token, name, date, settled, passcode_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ledger.Token, ledger.Name, date, boolToInt(ledger.Settled), passcode, ledger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger: %w", err)
	}

	if err := insertRows(ctx, tx, ledger.Token, ledger.Rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByToken retrieves a ledger by share token, including all rows in
// position order.
func (s *Store) GetByToken(ctx context.Context, token string) (*models.Ledger, error) {
	return loadLedger(ctx, s.db, token)
}

// Delete removes the ledger and, via cascade, its rows.
func (s *Store) Delete(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM ledgers WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidToken, token)
	}
	return nil
}

// querier covers *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadLedger reads the full canonical ledger.
func loadLedger(ctx context.Context, q querier, token string) (*models.Ledger, error) {
	ledger := &models.Ledger{}
	var date, passcode sql.NullString
	var settled int
	err := q.QueryRowContext(ctx,
		"SELECT token, name, date, settled, passcode_hash, created_at FROM ledgers WHERE token = ?",
		token,
	).Scan(&ledger.Token, &ledger.Name, &date, &settled, &passcode, &ledger.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidToken, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	if date.Valid {
		ledger.Date = models.Date(date.String)
	}
	if passcode.Valid {
		ledger.PasscodeHash = passcode.String
	}
	ledger.Settled = settled != 0

	rows, err := q.QueryContext(ctx,
		"SELECT id, name, amount FROM rows WHERE ledger_token = ? ORDER BY position",
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Row
		if err := rows.Scan(&r.ID, &r.Name, &r.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ledger.Rows = append(ledger.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return ledger, nil
}

// insertRows writes the row set with dense positions.
func insertRows(ctx context.Context, tx *sql.Tx, token string, rows []models.Row) error {
	for i, r := range rows {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rows (id, ledger_token, position, name, amount) VALUES (?, ?, ?, ?, ?)",
			r.ID, token, i, r.Name, r.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
