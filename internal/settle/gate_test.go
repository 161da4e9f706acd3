package settle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/settle"
	"github.com/splitpot/splitpot/internal/storage/memory"
)

func TestSettlePublishesToRoom(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ledger := &models.Ledger{
		Name: "cash game",
		Rows: []models.Row{{Name: "Alice", Amount: 40}, {Name: "Bob", Amount: -40}},
	}
	require.NoError(t, store.Create(ctx, ledger))

	h := hub.New(store)
	sub, err := h.Join(ctx, ledger.Token)
	require.NoError(t, err)
	<-sub.Events() // join snapshot

	gate := settle.New(store, h)
	settled, err := gate.Settle(ctx, ledger.Token)
	require.NoError(t, err)
	require.True(t, settled.Settled)

	ev := <-sub.Events()
	require.Equal(t, hub.EventSnapshot, ev.Name)
	require.True(t, ev.Snapshot.Settled)

	reopened, err := gate.Unsettle(ctx, ledger.Token)
	require.NoError(t, err)
	require.False(t, reopened.Settled)

	ev = <-sub.Events()
	require.False(t, ev.Snapshot.Settled)
}

func TestSettleNilHub(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ledger := &models.Ledger{
		Rows: []models.Row{{Name: "Alice", Amount: 5}, {Name: "Bob", Amount: -5}},
	}
	require.NoError(t, store.Create(ctx, ledger))

	gate := settle.New(store, nil)
	settled, err := gate.Settle(ctx, ledger.Token)
	require.NoError(t, err)
	require.True(t, settled.Settled)
}

func TestSettleSurfacesStoreErrors(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ledger := &models.Ledger{
		Rows: []models.Row{{Name: "Alice", Amount: 5}, {Name: "Alice", Amount: -5}},
	}
	require.NoError(t, store.Create(ctx, ledger))

	gate := settle.New(store, nil)
	_, err := gate.Settle(ctx, ledger.Token)
	var dup *models.DuplicateParticipantError
	require.ErrorAs(t, err, &dup)

	_, err = gate.Settle(ctx, "bogus")
	require.ErrorIs(t, err, models.ErrInvalidToken)
}
