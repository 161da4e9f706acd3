package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/session"
	"github.com/splitpot/splitpot/internal/storage"
	"github.com/splitpot/splitpot/internal/storage/memory"
	"github.com/splitpot/splitpot/internal/testutil"
)

type env struct {
	store  *flakyStore
	hub    *hub.Hub
	clock  *testutil.ManualClock
	ledger *models.Ledger
	errs   []error
}

// flakyStore fails a configurable number of calls before delegating, to
// exercise the retry and rollback paths.
type flakyStore struct {
	storage.LedgerStore
	failUpdates   int
	failAddRow    bool
	failDeleteRow bool
	updateCalls   int

	// Invoked before delegating, while the caller's structural edit is
	// still in flight.
	beforeAddRow    func()
	beforeDeleteRow func()
}

var errOffline = errors.New("store offline")

func (f *flakyStore) UpdateField(ctx context.Context, token string, row int, field models.Field, value string) (*models.Ledger, error) {
	f.updateCalls++
	if f.failUpdates > 0 {
		f.failUpdates--
		return nil, errOffline
	}
	return f.LedgerStore.UpdateField(ctx, token, row, field, value)
}

func (f *flakyStore) AddRow(ctx context.Context, token, name string, amount float64) (*models.Ledger, error) {
	if f.beforeAddRow != nil {
		f.beforeAddRow()
	}
	if f.failAddRow {
		return nil, errOffline
	}
	return f.LedgerStore.AddRow(ctx, token, name, amount)
}

func (f *flakyStore) DeleteRow(ctx context.Context, token string, row int) (*models.Ledger, error) {
	if f.beforeDeleteRow != nil {
		f.beforeDeleteRow()
	}
	if f.failDeleteRow {
		return nil, errOffline
	}
	return f.LedgerStore.DeleteRow(ctx, token, row)
}

func newEnv(t *testing.T, rows []models.Row) *env {
	t.Helper()
	store := &flakyStore{LedgerStore: memory.New()}
	ledger := &models.Ledger{Name: "Friday game", Rows: rows}
	require.NoError(t, store.Create(context.Background(), ledger))
	return &env{
		store:  store,
		hub:    hub.New(store),
		clock:  testutil.NewManualClock(),
		ledger: ledger,
	}
}

func (e *env) newSession(t *testing.T, opts ...func(*session.Config)) *session.Session {
	t.Helper()
	cfg := session.Config{
		Token: e.ledger.Token,
		Store: e.store,
		Hub:   e.hub,
		Clock: e.clock,
		OnError: func(err error) {
			e.errs = append(e.errs, err)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := session.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func twoPlayers() []models.Row {
	return []models.Row{{Name: "Alice", Amount: 10}, {Name: "Bob", Amount: -10}}
}

func TestNewLoadsSnapshot(t *testing.T) {
	e := newEnv(t, []models.Row{{Name: "Alice", Amount: 10}, {Name: models.EmptyName}})
	s := e.newSession(t)

	require.Equal(t, "Friday game", s.Name())
	rows := s.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, session.GridRow{Name: "Alice", Amount: "10"}, rows[0])
	// Unnamed sentinel and zero amount render empty.
	require.Equal(t, session.GridRow{}, rows[1])
}

func TestNewUnknownToken(t *testing.T) {
	e := newEnv(t, twoPlayers())
	_, err := session.New(context.Background(), session.Config{
		Token: "bogus",
		Store: e.store,
		Hub:   e.hub,
		Clock: e.clock,
	})
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestEditFieldDebouncedSave(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldAmount, "12"))
	require.NoError(t, s.EditField(0, models.FieldAmount, "12.345"))

	// Still inside the quiet period: nothing persisted.
	e.clock.Advance(session.DefaultDebounceDelay / 2)
	require.Zero(t, e.store.updateCalls)
	require.Equal(t, "12.345", s.Rows()[0].Amount)

	e.clock.Advance(session.DefaultDebounceDelay)
	require.Equal(t, 1, e.store.updateCalls, "coalesced keystrokes save once")

	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 12.35, stored.Rows[0].Amount)
	// Canonical response reconciles the cell to the normalized value.
	require.Equal(t, "12.35", s.Rows()[0].Amount)
}

func TestLocalEditSuppressesRemote(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldAmount, "50"))

	// Same cell: dropped while the edit intent is live.
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldAmount, Value: "999"})
	require.Equal(t, "50", s.Rows()[0].Amount)

	// Different cell of the same row applies normally.
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldName, Value: "Alicia"})
	require.Equal(t, "Alicia", s.Rows()[0].Name)

	// Once the save resolves the intent is released and remotes apply again.
	e.clock.Advance(session.DefaultDebounceDelay)
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldAmount, Value: "70"})
	require.Equal(t, "70", s.Rows()[0].Amount)
}

func TestSaveRetriesOnce(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)
	e.store.failUpdates = 1

	require.NoError(t, s.EditField(0, models.FieldAmount, "25"))
	e.clock.Advance(session.DefaultDebounceDelay)
	require.Equal(t, 1, e.store.updateCalls)

	// Remote updates stay suppressed through the retry window.
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldAmount, Value: "999"})
	require.Equal(t, "25", s.Rows()[0].Amount)

	e.clock.Advance(session.DefaultRetryDelay)
	require.Equal(t, 2, e.store.updateCalls)
	require.Empty(t, e.errs)

	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 25.0, stored.Rows[0].Amount)
}

func TestSaveRetryExhausted(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)
	e.store.failUpdates = 2

	require.NoError(t, s.EditField(0, models.FieldAmount, "25"))
	e.clock.Advance(session.DefaultDebounceDelay)
	e.clock.Advance(session.DefaultRetryDelay)

	require.Equal(t, 2, e.store.updateCalls, "exactly one retry")
	require.Len(t, e.errs, 1)
	require.ErrorIs(t, e.errs[0], errOffline)

	// The intent is released: remote updates apply again.
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldAmount, Value: "70"})
	require.Equal(t, "70", s.Rows()[0].Amount)
}

func TestNewerKeystrokeSupersedesInFlightSave(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)
	e.store.failUpdates = 1

	require.NoError(t, s.EditField(0, models.FieldAmount, "25"))
	e.clock.Advance(session.DefaultDebounceDelay)

	// The failed value's retry is pending; a new keystroke takes over.
	require.NoError(t, s.EditField(0, models.FieldAmount, "30"))
	e.clock.Advance(session.DefaultRetryDelay)

	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 30.0, stored.Rows[0].Amount)
	require.Empty(t, e.errs)
}

func TestExpressionHeldUntilCommit(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t, func(cfg *session.Config) {
		cfg.Evaluate = func(expr string) (float64, error) {
			require.Equal(t, "100-40", expr)
			return 60, nil
		}
	})

	require.NoError(t, s.EditField(0, models.FieldAmount, "100-40"))
	e.clock.Advance(session.DefaultDebounceDelay)

	// The half-typed expression is never persisted and raises no error.
	require.Empty(t, e.errs)
	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 10.0, stored.Rows[0].Amount)

	require.NoError(t, s.CommitField(context.Background(), 0, models.FieldAmount))
	require.Equal(t, "60", s.Rows()[0].Amount)

	stored, err = e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, 60.0, stored.Rows[0].Amount)
}

func TestPartialDateNeverPersisted(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	s.EditDate("2025-07-0")
	e.clock.Advance(session.DefaultDebounceDelay)
	require.Empty(t, e.errs)
	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.True(t, stored.Date.IsZero())

	s.EditDate("2025-07-04")
	e.clock.Advance(session.DefaultDebounceDelay)
	stored, err = e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, "2025-07-04", stored.Date.String())
	require.Equal(t, "2025-07-04", s.Date())
}

func TestNameEditDebounces(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	s.EditName("Saturday game")
	require.Equal(t, "Saturday game", s.Name())

	// Remote renames are suppressed while typing.
	s.HandleEvent(hub.Event{Name: hub.EventNameUpdated, Value: "other"})
	require.Equal(t, "Saturday game", s.Name())

	e.clock.Advance(session.DefaultDebounceDelay)
	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, "Saturday game", stored.Name)
}

func TestAddRowPersistsAndRollsBack(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.AddRow(context.Background()))
	require.Len(t, s.Rows(), 3)
	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Len(t, stored.Rows, 3)

	// A failed add removes the optimistic row; no retry.
	e.store.failAddRow = true
	require.ErrorIs(t, s.AddRow(context.Background()), errOffline)
	require.Len(t, s.Rows(), 3)
	require.Len(t, e.errs, 1)
}

func TestDeleteRowGuardsAndRollsBack(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	e.store.failDeleteRow = true
	require.ErrorIs(t, s.DeleteRow(context.Background(), 0), errOffline)
	rows := s.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, "Alice", rows[0].Name, "failed delete restores prior rows")

	e.store.failDeleteRow = false
	require.NoError(t, s.DeleteRow(context.Background(), 0))
	rows = s.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, "Bob", rows[0].Name)

	require.ErrorIs(t, s.DeleteRow(context.Background(), 0), models.ErrMinimumOneRow)
}

func TestRemoteRowActions(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	s.HandleEvent(hub.Event{Name: hub.EventRowAction, Action: hub.RowActionAdd})
	require.Len(t, s.Rows(), 3)

	s.HandleEvent(hub.Event{Name: hub.EventRowAction, Action: hub.RowActionDelete, Row: 2})
	require.Len(t, s.Rows(), 2)

	// Out-of-range deletes are ignored until a snapshot converges state.
	s.HandleEvent(hub.Event{Name: hub.EventRowAction, Action: hub.RowActionDelete, Row: 9})
	require.Len(t, s.Rows(), 2)
}

func TestSnapshotPreservesComposingCell(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldName, "Ali"))

	snap, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	snap.Name = "renamed elsewhere"
	snap.Rows[0].Name = "Alexandra"
	snap.Rows[1].Amount = -25
	s.ApplySnapshot(snap)

	rows := s.Rows()
	require.Equal(t, "Ali", rows[0].Name, "cell being typed survives the snapshot")
	require.Equal(t, "-25", rows[1].Amount)
	require.Equal(t, "renamed elsewhere", s.Name())
}

func TestSnapshotDuringRowAddKeepsOptimisticRow(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	stale, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	stale.Name = "renamed mid-flight"
	stale.Date = models.Date("2026-01-02")

	e.store.beforeAddRow = func() {
		// A stale two-row snapshot lands while the add awaits the store.
		s.ApplySnapshot(stale)
		require.Len(t, s.Rows(), 3, "snapshot must not revert the optimistic row")
		require.Equal(t, "renamed mid-flight", s.Name(), "ledger-level fields are still adopted")
		require.Equal(t, "2026-01-02", s.Date())
	}
	require.NoError(t, s.AddRow(context.Background()))

	// The add's own canonical response reconciles everything.
	require.Len(t, s.Rows(), 3)
	require.Equal(t, "Friday game", s.Name())
}

func TestSnapshotDuringRowDeleteKeepsOptimisticRows(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	stale, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)

	e.store.beforeDeleteRow = func() {
		s.ApplySnapshot(stale)
		require.Len(t, s.Rows(), 1, "snapshot must not resurrect the deleted row")
	}
	require.NoError(t, s.DeleteRow(context.Background(), 0))

	rows := s.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, "Bob", rows[0].Name)
}

func TestSettleFlushesAndFreezes(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	// A pending keystroke is flushed before the settlement check runs.
	require.NoError(t, s.EditField(0, models.FieldName, "Alicia"))
	require.NoError(t, s.Settle(context.Background()))
	require.True(t, s.Settled())

	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.True(t, stored.Settled)
	require.Equal(t, "Alicia", stored.Rows[0].Name)

	// Edits on a settled ledger are ignored outright.
	require.NoError(t, s.EditField(0, models.FieldAmount, "999"))
	require.Equal(t, "10", s.Rows()[0].Amount)

	require.NoError(t, s.Unsettle(context.Background()))
	require.False(t, s.Settled())
	require.NoError(t, s.EditField(0, models.FieldAmount, "15"))
	require.Equal(t, "15", s.Rows()[0].Amount)
}

func TestSettleRejectsUnbalanced(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldAmount, "25"))
	err := s.Settle(context.Background())
	var unbalanced *models.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	require.False(t, s.Settled())
}

func TestBalanceTracksGridText(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	res := s.Balance()
	require.True(t, res.Valid)

	// Mid-keystroke garbage counts as zero and unbalances the view.
	require.NoError(t, s.EditField(0, models.FieldAmount, "1x"))
	res = s.Balance()
	require.False(t, res.Valid)
	require.Equal(t, -10.0, res.Sum)
}

func TestTwoSessionsConverge(t *testing.T) {
	e := newEnv(t, twoPlayers())
	a := e.newSession(t)
	b := e.newSession(t)

	require.NoError(t, a.EditField(1, models.FieldAmount, "-12"))
	b.DrainEvents()
	require.Equal(t, "-12", b.Rows()[1].Amount)

	// The sender never sees its own event echoed back.
	a.DrainEvents()
	require.Equal(t, "-12", a.Rows()[1].Amount)
}

func TestSaveBroadcastsCanonicalState(t *testing.T) {
	e := newEnv(t, twoPlayers())
	a := e.newSession(t)
	b := e.newSession(t)

	require.NoError(t, a.EditField(0, models.FieldAmount, "12.345"))
	b.DrainEvents()
	require.Equal(t, "12.345", b.Rows()[0].Amount, "keystroke broadcast carries raw text")

	// Once the save lands, the room gets the store-normalized value.
	e.clock.Advance(session.DefaultDebounceDelay)
	b.DrainEvents()
	require.Equal(t, "12.35", b.Rows()[0].Amount)
}

func TestCancelFieldDropsEditIntent(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldAmount, "50"))
	s.CancelField(0, models.FieldAmount)

	// Nothing persists once the quiet period elapses.
	e.clock.Advance(session.DefaultDebounceDelay)
	require.Zero(t, e.store.updateCalls)

	// The intent is gone: remote updates for the cell apply again.
	s.HandleEvent(hub.Event{Name: hub.EventFieldUpdated, Row: 0, Field: models.FieldAmount, Value: "70"})
	require.Equal(t, "70", s.Rows()[0].Amount)

	s.EditName("Satur")
	s.CancelName()
	e.clock.Advance(session.DefaultDebounceDelay)
	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, "Friday game", stored.Name)
	s.HandleEvent(hub.Event{Name: hub.EventNameUpdated, Value: "other"})
	require.Equal(t, "other", s.Name())
}

func TestCloseFlushesPendingEdits(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	require.NoError(t, s.EditField(0, models.FieldName, "Alicia"))
	s.Close(context.Background())

	stored, err := e.store.GetByToken(context.Background(), e.ledger.Token)
	require.NoError(t, err)
	require.Equal(t, "Alicia", stored.Rows[0].Name)
}

func TestRejoinResynchronizes(t *testing.T) {
	e := newEnv(t, twoPlayers())
	s := e.newSession(t)

	// Mutate the store behind the session's back, then rejoin.
	_, err := e.store.UpdateField(context.Background(), e.ledger.Token, 0, models.FieldAmount, "42")
	require.NoError(t, err)

	require.NoError(t, s.Rejoin(context.Background()))
	require.Equal(t, "42", s.Rows()[0].Amount)
}
