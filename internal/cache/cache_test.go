package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splitpot/splitpot/internal/cache"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
	"github.com/splitpot/splitpot/internal/storage/memory"
)

// countingStore counts reads reaching the underlying store.
type countingStore struct {
	storage.LedgerStore
	gets int
}

func (c *countingStore) GetByToken(ctx context.Context, token string) (*models.Ledger, error) {
	c.gets++
	return c.LedgerStore.GetByToken(ctx, token)
}

func newCached(t *testing.T) (*cache.Store, *countingStore, *models.Ledger) {
	t.Helper()
	inner := &countingStore{LedgerStore: memory.New()}
	s := cache.Wrap(inner)
	ledger := &models.Ledger{
		Name: "cached game",
		Rows: []models.Row{{Name: "Alice", Amount: 10}, {Name: "Bob", Amount: -10}},
	}
	require.NoError(t, s.Create(context.Background(), ledger))
	return s, inner, ledger
}

func TestReadsServedFromCache(t *testing.T) {
	s, inner, ledger := newCached(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := s.GetByToken(ctx, ledger.Token)
		require.NoError(t, err)
		require.Equal(t, "cached game", got.Name)
	}
	require.Zero(t, inner.gets, "create warms the cache")
}

func TestMutationsRefreshSnapshot(t *testing.T) {
	s, inner, ledger := newCached(t)
	ctx := context.Background()

	_, err := s.UpdateField(ctx, ledger.Token, 0, models.FieldAmount, "42")
	require.NoError(t, err)

	got, err := s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 42.0, got.Rows[0].Amount)
	require.Zero(t, inner.gets)
}

func TestCachedCopiesAreDetached(t *testing.T) {
	s, _, ledger := newCached(t)
	ctx := context.Background()

	first, err := s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	first.Rows[0].Name = "mutated"

	second, err := s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	require.Equal(t, "Alice", second.Rows[0].Name)
}

func TestInvalidateFallsThrough(t *testing.T) {
	s, inner, ledger := newCached(t)
	ctx := context.Background()

	s.Invalidate(ledger.Token)
	_, err := s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 1, inner.gets)

	// The miss repopulates the cache.
	_, err = s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 1, inner.gets)
}

func TestDeleteDropsSnapshot(t *testing.T) {
	s, _, ledger := newCached(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, ledger.Token))
	_, err := s.GetByToken(ctx, ledger.Token)
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestSettleThroughCache(t *testing.T) {
	s, _, ledger := newCached(t)
	ctx := context.Background()

	settled, err := s.Settle(ctx, ledger.Token)
	require.NoError(t, err)
	require.True(t, settled.Settled)

	got, err := s.GetByToken(ctx, ledger.Token)
	require.NoError(t, err)
	require.True(t, got.Settled)
}
