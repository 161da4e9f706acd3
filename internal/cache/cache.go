// Package cache wraps a LedgerStore with an in-memory snapshot cache.
// Every mutation already returns the full canonical ledger, so the cache
// is kept warm for free: reads of an active ledger never touch the
// underlying store between writes.
package cache

import (
	"context"
	"sync"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// Store is a read-through, write-through cache over another LedgerStore.
type Store struct {
	inner storage.LedgerStore

	mu        sync.Mutex
	snapshots map[string]*models.Ledger
}

var _ storage.LedgerStore = (*Store)(nil)

// Wrap returns a caching store over inner.
func Wrap(inner storage.LedgerStore) *Store {
	return &Store{
		inner:     inner,
		snapshots: make(map[string]*models.Ledger),
	}
}

// Create persists the ledger and caches its initial snapshot.
func (s *Store) Create(ctx context.Context, ledger *models.Ledger) error {
	if err := s.inner.Create(ctx, ledger); err != nil {
		return err
	}
	s.put(ledger)
	return nil
}

// GetByToken serves a cached snapshot when present, falling back to the
// underlying store on a miss.
func (s *Store) GetByToken(ctx context.Context, token string) (*models.Ledger, error) {
	s.mu.Lock()
	cached, ok := s.snapshots[token]
	if ok {
		out := cached.Clone()
		s.mu.Unlock()
		hitsTotal.Inc()
		return out, nil
	}
	s.mu.Unlock()
	missesTotal.Inc()

	ledger, err := s.inner.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	s.put(ledger)
	return ledger, nil
}

func (s *Store) UpdateField(ctx context.Context, token string, row int, field models.Field, value string) (*models.Ledger, error) {
	return s.refresh(s.inner.UpdateField(ctx, token, row, field, value))
}

func (s *Store) AddRow(ctx context.Context, token, name string, amount float64) (*models.Ledger, error) {
	return s.refresh(s.inner.AddRow(ctx, token, name, amount))
}

func (s *Store) DeleteRow(ctx context.Context, token string, row int) (*models.Ledger, error) {
	return s.refresh(s.inner.DeleteRow(ctx, token, row))
}

func (s *Store) UpdateName(ctx context.Context, token, name string) (*models.Ledger, error) {
	return s.refresh(s.inner.UpdateName(ctx, token, name))
}

func (s *Store) UpdateDate(ctx context.Context, token string, date models.Date) (*models.Ledger, error) {
	return s.refresh(s.inner.UpdateDate(ctx, token, date))
}

func (s *Store) Settle(ctx context.Context, token string) (*models.Ledger, error) {
	return s.refresh(s.inner.Settle(ctx, token))
}

func (s *Store) Unsettle(ctx context.Context, token string) (*models.Ledger, error) {
	return s.refresh(s.inner.Unsettle(ctx, token))
}

// Delete removes the ledger and drops its snapshot.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.inner.Delete(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.snapshots, token)
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cached snapshot for a token. Only needed when the
// underlying store is mutated out of band.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	delete(s.snapshots, token)
	s.mu.Unlock()
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.inner.Close()
}

// refresh caches the canonical result of a successful mutation.
func (s *Store) refresh(ledger *models.Ledger, err error) (*models.Ledger, error) {
	if err != nil {
		return nil, err
	}
	s.put(ledger)
	return ledger, nil
}

func (s *Store) put(ledger *models.Ledger) {
	s.mu.Lock()
	s.snapshots[ledger.Token] = ledger.Clone()
	s.mu.Unlock()
}
