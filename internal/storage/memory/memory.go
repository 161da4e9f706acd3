// Package memory provides an in-memory LedgerStore. It is the reference
// implementation for tests and the fixture behind session and hub suites;
// the sqlite package carries the same semantics durably.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splitpot/splitpot/internal/balance"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// Ensure Store implements storage.LedgerStore
var _ storage.LedgerStore = (*Store)(nil)

// Store keeps every ledger in a map guarded by one mutex. Clones cross the
// API boundary in both directions, so callers never share slices with
// canonical state.
type Store struct {
	mu      sync.Mutex
	ledgers map[string]*models.Ledger
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{ledgers: make(map[string]*models.Ledger)}
}

// Create persists a new ledger, assigning token, row IDs, and CreatedAt as
// needed. A ledger with no rows is seeded with one unnamed row.
func (s *Store) Create(ctx context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	if _, exists := s.ledgers[ledger.Token]; exists {
		return fmt.Errorf("ledger already exists: %s", ledger.Token)
	}
	s.ledgers[ledger.Token] = ledger.Clone()
	return nil
}

// GetByToken retrieves a ledger by share token.
func (s *Store) GetByToken(ctx context.Context, token string) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.get(token)
	if err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

// UpdateField sets one field of one row.
func (s *Store) UpdateField(ctx context.Context, token string, row int, field models.Field, value string) (*models.Ledger, error) {
	return s.mutate(token, func(l *models.Ledger) error {
		return storage.ApplyFieldUpdate(l, row, field, value)
	})
}

// AddRow appends a row.
func (s *Store) AddRow(ctx context.Context, token, name string, amount float64) (*models.Ledger, error) {
	return s.mutate(token, func(l *models.Ledger) error {
		storage.AppendRow(l, name, amount)
		return nil
	})
}

// DeleteRow removes the row at the given position.
func (s *Store) DeleteRow(ctx context.Context, token string, row int) (*models.Ledger, error) {
	return s.mutate(token, func(l *models.Ledger) error {
		return storage.RemoveRow(l, row)
	})
}

// UpdateName sets the ledger's display name.
func (s *Store) UpdateName(ctx context.Context, token, name string) (*models.Ledger, error) {
	return s.mutate(token, func(l *models.Ledger) error {
		l.Name = name
		return nil
	})
}

// UpdateDate sets or clears the ledger's date.
func (s *Store) UpdateDate(ctx context.Context, token string, date models.Date) (*models.Ledger, error) {
	return s.mutate(token, func(l *models.Ledger) error {
		parsed, err := models.ParseDate(date.String())
		if err != nil {
			return err
		}
		l.Date = parsed
		return nil
	})
}

// Settle freezes the ledger after validating balance and participant
// uniqueness. Idempotent on an already-settled ledger.
func (s *Store) Settle(ctx context.Context, token string) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.get(token)
	if err != nil {
		return nil, err
	}
	if l.Settled {
		return l.Clone(), nil
	}
	if err := balance.ValidateSettlement(l.Rows); err != nil {
		return nil, err
	}
	l.Settled = true
	return l.Clone(), nil
}

// Unsettle unfreezes the ledger. No precondition, idempotent.
func (s *Store) Unsettle(ctx context.Context, token string) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.get(token)
	if err != nil {
		return nil, err
	}
	l.Settled = false
	return l.Clone(), nil
}

// Delete removes the ledger entirely.
func (s *Store) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(token); err != nil {
		return err
	}
	delete(s.ledgers, token)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// get looks up a ledger under the lock.
func (s *Store) get(token string) (*models.Ledger, error) {
	l, ok := s.ledgers[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidToken, token)
	}
	return l, nil
}

// mutate runs fn against the canonical ledger under the lock, enforcing the
// settled guard, and returns a clone of the updated state.
func (s *Store) mutate(token string, fn func(*models.Ledger) error) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.get(token)
	if err != nil {
		return nil, err
	}
	if l.Settled {
		return nil, models.ErrLedgerSettled
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	return l.Clone(), nil
}
