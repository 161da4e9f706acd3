// Package session implements one collaborator's live view of a shared
// ledger: optimistic local edits, debounced persistence with a single
// retry, and merge rules for events arriving from other collaborators.
// The session applies every local edit immediately, broadcasts it to the
// room, and persists it after a short quiet period; remote updates for a
// field the user is actively editing are dropped so typing is never
// clobbered.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/balance"
	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/settle"
	"github.com/splitpot/splitpot/internal/storage"
)

const (
	// DefaultDebounceDelay is the quiet period after the last keystroke
	// before a field is persisted.
	DefaultDebounceDelay = 200 * time.Millisecond

	// DefaultRetryDelay is the wait before the single retry of a failed
	// save.
	DefaultRetryDelay = time.Second
)

// Save keys for the two ledger-level fields. Row fields use "row/field"
// keys built by fieldKey.
const (
	keyName = "name"
	keyDate = "date"
)

// ExprEvaluator turns amount-cell text into a number. Cells accept
// arithmetic like "120-45+5" and the evaluator resolves it on commit.
type ExprEvaluator func(expr string) (float64, error)

// GridRow is one row as the user sees it: raw text, not parsed values.
// Text survives locally exactly as typed until the canonical response
// replaces it.
type GridRow struct {
	Name   string
	Amount string
}

// Config assembles a session. Token and Store are required; everything
// else has a working default. A nil Hub degrades the session to a
// single-viewer mode where broadcasts are skipped but editing and
// persistence work unchanged.
type Config struct {
	Token string
	Store storage.LedgerStore
	Hub   *hub.Hub

	Clock    Clock
	Evaluate ExprEvaluator

	DebounceDelay time.Duration
	RetryDelay    time.Duration

	// OnError receives save errors after the retry is exhausted and
	// rollback notices for failed structural edits. May be nil.
	OnError func(err error)
}

// Session is one collaborator's handle on a ledger. All exported methods
// are safe for concurrent use, though the expected shape is a single
// event loop calling Run while a UI goroutine drives the edit methods.
type Session struct {
	token string
	store storage.LedgerStore
	hub   *hub.Hub
	gate  *settle.Gate
	clock Clock
	eval  ExprEvaluator
	saver *Saver

	onError func(err error)

	mu      sync.Mutex
	sub     *hub.Subscriber
	name    string
	date    string
	settled bool
	rows    []GridRow

	// structuralPending is set while a row add or delete awaits the
	// store. Snapshots arriving in that window would carry a stale row
	// count, so row contents are kept local until the call resolves.
	structuralPending bool
	closed            bool
}

// New joins the ledger's room, loads the initial snapshot, and returns a
// ready session. With a nil hub the snapshot is fetched from the store
// directly.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Evaluate == nil {
		cfg.Evaluate = EvaluatePlain
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	s := &Session{
		token:   cfg.Token,
		store:   cfg.Store,
		hub:     cfg.Hub,
		gate:    settle.New(cfg.Store, cfg.Hub),
		clock:   cfg.Clock,
		eval:    cfg.Evaluate,
		onError: cfg.OnError,
	}
	s.saver = NewSaver(cfg.Clock, cfg.DebounceDelay, cfg.RetryDelay, func(key string, err error) {
		s.reportError(fmt.Errorf("save %s: %w", key, err))
	})

	if err := s.join(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// join (re)subscribes to the room and applies the join snapshot. Without a
// hub the snapshot comes straight from the store.
func (s *Session) join(ctx context.Context) error {
	if s.hub == nil {
		ledger, err := s.store.GetByToken(ctx, s.token)
		if err != nil {
			return err
		}
		s.ApplySnapshot(ledger)
		return nil
	}

	sub, err := s.hub.Join(ctx, s.token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	// Join guarantees the snapshot is the first buffered event.
	select {
	case ev := <-sub.Events():
		s.HandleEvent(ev)
	case <-ctx.Done():
		s.hub.Leave(sub)
		return ctx.Err()
	}
	return nil
}

// Run drains remote events until the context ends or the subscriber's
// stream closes. Sessions without a hub return immediately.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.HandleEvent(ev)
		}
	}
}

// DrainEvents applies every currently buffered remote event without
// blocking. Single-threaded frontends call this from their tick instead of
// dedicating a goroutine to Run.
func (s *Session) DrainEvents() {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return
	}
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.HandleEvent(ev)
		default:
			return
		}
	}
}

// Rejoin drops the current subscription and joins again. The fresh join
// snapshot resynchronizes any state lost while disconnected.
func (s *Session) Rejoin(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil && s.hub != nil {
		s.hub.Leave(sub)
	}
	return s.join(ctx)
}

// Close flushes pending edits with one best-effort attempt each and leaves
// the room. The session is unusable afterwards.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.saver.FlushAllSync(ctx)

	if sub != nil && s.hub != nil {
		s.hub.Leave(sub)
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Token returns the ledger share token this session is bound to.
func (s *Session) Token() string { return s.token }

// Name returns the ledger's display name as currently shown.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Date returns the ledger's date text as currently shown.
func (s *Session) Date() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date
}

// Settled reports whether the ledger is frozen.
func (s *Session) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Rows returns a copy of the grid as currently shown.
func (s *Session) Rows() []GridRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GridRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Balance evaluates the current grid. Text that does not parse counts as
// zero so the running total stays live while the user types.
func (s *Session) Balance() balance.Result {
	s.mu.Lock()
	rows := make([]models.Row, len(s.rows))
	for i, r := range s.rows {
		rows[i].Name = r.Name
		rows[i].Amount, _ = parseLoose(r.Amount)
	}
	s.mu.Unlock()
	return balance.Evaluate(rows)
}

// EditField records one keystroke in a row cell: update the grid, tell the
// room, and (re)arm the debounced save capturing this exact text. Edits on
// a settled ledger are ignored.
func (s *Session) EditField(row int, field models.Field, value string) error {
	if !field.Valid() {
		return &models.ValidationError{Field: string(field), Reason: "unknown field"}
	}

	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return nil
	}
	if row < 0 || row >= len(s.rows) {
		s.mu.Unlock()
		return &models.ValidationError{Field: string(field), Reason: "row out of range"}
	}
	switch field {
	case models.FieldName:
		s.rows[row].Name = value
	case models.FieldAmount:
		s.rows[row].Amount = value
	}
	s.mu.Unlock()

	s.broadcast(hub.Event{Name: hub.EventFieldUpdated, Row: row, Field: field, Value: value})
	s.saver.Touch(fieldKey(row, field), s.fieldSave(row, field, value))
	return nil
}

// CancelField drops the pending edit for a cell without saving: the blur
// without a change. The cell's edit intent is released, so remote updates
// for it apply again and nothing is persisted.
func (s *Session) CancelField(row int, field models.Field) {
	s.saver.Cancel(fieldKey(row, field))
}

// CancelName drops a pending ledger-name edit without saving.
func (s *Session) CancelName() {
	s.saver.Cancel(keyName)
}

// CancelDate drops a pending date edit without saving.
func (s *Session) CancelDate() {
	s.saver.Cancel(keyDate)
}

// CommitField finalizes a cell on blur or enter. Amount cells holding an
// expression are evaluated first and the grid, the room, and the store all
// get the resolved number.
func (s *Session) CommitField(ctx context.Context, row int, field models.Field) error {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return nil
	}
	if row < 0 || row >= len(s.rows) {
		s.mu.Unlock()
		return &models.ValidationError{Field: string(field), Reason: "row out of range"}
	}
	value := s.rows[row].Name
	if field == models.FieldAmount {
		value = s.rows[row].Amount
	}
	s.mu.Unlock()

	if field == models.FieldAmount && isExpression(value) {
		f, err := s.eval(value)
		if err != nil {
			return &models.ValidationError{Field: "amount", Reason: "cannot evaluate: " + strconv.Quote(value)}
		}
		value = formatAmount(f)

		s.mu.Lock()
		if row < len(s.rows) {
			s.rows[row].Amount = value
		}
		s.mu.Unlock()

		s.broadcast(hub.Event{Name: hub.EventFieldUpdated, Row: row, Field: field, Value: value})
		s.saver.Touch(fieldKey(row, field), s.fieldSave(row, field, value))
	}

	s.saver.Flush(ctx, fieldKey(row, field))
	return nil
}

// EditName records a keystroke in the ledger name.
func (s *Session) EditName(value string) {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return
	}
	s.name = value
	s.mu.Unlock()

	s.broadcast(hub.Event{Name: hub.EventNameUpdated, Value: value})
	s.saver.Touch(keyName, func(ctx context.Context) error {
		ledger, err := s.store.UpdateName(ctx, s.token, value)
		if err != nil {
			return err
		}
		s.reconcile(ledger)
		s.publishCanonical(ledger)
		return nil
	})
}

// CommitName persists the ledger name immediately.
func (s *Session) CommitName(ctx context.Context) {
	s.saver.Flush(ctx, keyName)
}

// EditDate records a change to the ledger date. Half-typed dates are kept
// locally and broadcast but skipped by the save until they parse.
func (s *Session) EditDate(value string) {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return
	}
	s.date = value
	s.mu.Unlock()

	s.broadcast(hub.Event{Name: hub.EventDateUpdated, Value: value})
	s.saver.Touch(keyDate, func(ctx context.Context) error {
		date, err := models.ParseDate(value)
		if err != nil {
			return &models.ValidationError{Field: "date", Reason: "not a date: " + strconv.Quote(value)}
		}
		ledger, err := s.store.UpdateDate(ctx, s.token, date)
		if err != nil {
			return err
		}
		s.reconcile(ledger)
		s.publishCanonical(ledger)
		return nil
	})
}

// CommitDate persists the date immediately.
func (s *Session) CommitDate(ctx context.Context) {
	s.saver.Flush(ctx, keyDate)
}

// AddRow appends an empty row optimistically, broadcasts the addition, and
// persists it in a single attempt. On failure the appended row is removed
// again; structural edits get no retry because positions drift too easily.
func (s *Session) AddRow(ctx context.Context) error {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return nil
	}
	appended := len(s.rows)
	s.rows = append(s.rows, GridRow{})
	s.structuralPending = true
	s.mu.Unlock()

	s.broadcast(hub.Event{Name: hub.EventRowAction, Action: hub.RowActionAdd, Row: appended})

	ledger, err := s.store.AddRow(ctx, s.token, "", 0)

	s.mu.Lock()
	s.structuralPending = false
	if err != nil {
		if appended < len(s.rows) {
			s.rows = append(s.rows[:appended], s.rows[appended+1:]...)
		}
		s.mu.Unlock()
		s.reportError(fmt.Errorf("add row: %w", err))
		return err
	}
	s.applySnapshotLocked(ledger, true)
	s.mu.Unlock()
	s.publishCanonical(ledger)
	return nil
}

// DeleteRow removes the row at the given position optimistically and
// persists in a single attempt. Deleting the last remaining row is refused
// with models.ErrMinimumOneRow. On failure the pre-delete rows are
// restored.
func (s *Session) DeleteRow(ctx context.Context, row int) error {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return nil
	}
	if row < 0 || row >= len(s.rows) {
		s.mu.Unlock()
		return &models.ValidationError{Field: "row", Reason: "row out of range"}
	}
	if len(s.rows) <= 1 {
		s.mu.Unlock()
		return models.ErrMinimumOneRow
	}
	prev := make([]GridRow, len(s.rows))
	copy(prev, s.rows)
	s.rows = append(s.rows[:row], s.rows[row+1:]...)
	s.structuralPending = true
	s.mu.Unlock()

	s.broadcast(hub.Event{Name: hub.EventRowAction, Action: hub.RowActionDelete, Row: row})

	ledger, err := s.store.DeleteRow(ctx, s.token, row)

	s.mu.Lock()
	s.structuralPending = false
	if err != nil {
		s.rows = prev
		s.mu.Unlock()
		s.reportError(fmt.Errorf("delete row: %w", err))
		return err
	}
	s.applySnapshotLocked(ledger, true)
	s.mu.Unlock()
	s.publishCanonical(ledger)
	return nil
}

// Settle freezes the ledger once it balances. Pending edits are flushed
// first so the settlement check runs against what the user sees.
func (s *Session) Settle(ctx context.Context) error {
	s.saver.FlushAllSync(ctx)

	ledger, err := s.gate.Settle(ctx, s.token)
	if err != nil {
		return err
	}
	s.ApplySnapshot(ledger)
	return nil
}

// Unsettle reopens the ledger for editing.
func (s *Session) Unsettle(ctx context.Context) error {
	ledger, err := s.gate.Unsettle(ctx, s.token)
	if err != nil {
		return err
	}
	s.ApplySnapshot(ledger)
	return nil
}

// HandleEvent applies one remote event to local state. Run calls this for
// every event on the subscription; tests drive it directly.
func (s *Session) HandleEvent(ev hub.Event) {
	switch ev.Name {
	case hub.EventFieldUpdated:
		s.applyRemoteField(ev.Row, ev.Field, ev.Value)
	case hub.EventRowAction:
		s.applyRemoteRowAction(ev.Action, ev.Row)
	case hub.EventNameUpdated:
		s.applyRemoteName(ev.Value)
	case hub.EventDateUpdated:
		s.applyRemoteDate(ev.Value)
	case hub.EventSnapshot:
		if ev.Snapshot != nil {
			s.ApplySnapshot(ev.Snapshot)
		}
	default:
		slog.Debug("ignoring unknown event", "event", ev.Name)
	}
}

// ApplySnapshot replaces local state with the canonical ledger, except for
// fields the user is mid-keystroke on, which keep their local text. While
// a structural edit is in flight row contents stay local entirely; the
// edit's own response reconciles them.
func (s *Session) ApplySnapshot(ledger *models.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(ledger, false)
}

// applyRemoteField merges another collaborator's cell edit, unless this
// session has an edit intent on the same cell.
func (s *Session) applyRemoteField(row int, field models.Field, value string) {
	if s.saver.Editing(fieldKey(row, field)) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= len(s.rows) {
		return
	}
	switch field {
	case models.FieldName:
		s.rows[row].Name = value
	case models.FieldAmount:
		s.rows[row].Amount = value
	}
}

// applyRemoteRowAction mirrors another collaborator's row add or delete.
// Out-of-range deletes are ignored; the next snapshot converges the grids.
func (s *Session) applyRemoteRowAction(action hub.RowAction, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case hub.RowActionAdd:
		s.rows = append(s.rows, GridRow{})
	case hub.RowActionDelete:
		if row < 0 || row >= len(s.rows) || len(s.rows) <= 1 {
			return
		}
		s.rows = append(s.rows[:row], s.rows[row+1:]...)
	}
}

func (s *Session) applyRemoteName(value string) {
	if s.saver.Editing(keyName) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = value
}

func (s *Session) applyRemoteDate(value string) {
	if s.saver.Editing(keyDate) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = value
}

// fieldSave builds the SaveFunc for one cell keystroke. Unfinished amount
// expressions report a validation error so the saver skips them; the text
// persists on commit once evaluated.
func (s *Session) fieldSave(row int, field models.Field, value string) SaveFunc {
	return func(ctx context.Context) error {
		if field == models.FieldAmount && isExpression(value) {
			return &models.ValidationError{Field: "amount", Reason: "expression pending evaluation"}
		}
		ledger, err := s.store.UpdateField(ctx, s.token, row, field, value)
		if err != nil {
			return err
		}
		s.reconcile(ledger)
		s.publishCanonical(ledger)
		return nil
	}
}

// reconcile applies the canonical response of this session's own save. The
// saved key is in the saving state, so the composing overlay does not apply
// to it and the store's normalization wins; if a newer keystroke superseded
// the save the key is back in the composing state and its text survives.
func (s *Session) reconcile(ledger *models.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(ledger, false)
}

// applySnapshotLocked is the single merge point for canonical state.
// force applies rows even while a structural edit is pending (used by that
// edit's own response).
func (s *Session) applySnapshotLocked(ledger *models.Ledger, force bool) {
	composing := make(map[string]struct{})
	for _, k := range s.saver.ComposingKeys() {
		composing[k] = struct{}{}
	}

	if _, ok := composing[keyName]; !ok {
		s.name = ledger.Name
	}
	if _, ok := composing[keyDate]; !ok {
		s.date = ledger.Date.String()
	}
	s.settled = ledger.Settled

	if s.structuralPending && !force {
		return
	}

	next := make([]GridRow, len(ledger.Rows))
	for i, r := range ledger.Rows {
		next[i] = GridRow{Name: r.DisplayName(), Amount: formatAmount(r.Amount)}
	}
	for k := range composing {
		row, field, ok := parseFieldKey(k)
		if !ok || row >= len(next) || row >= len(s.rows) {
			continue
		}
		switch field {
		case models.FieldName:
			next[row].Name = s.rows[row].Name
		case models.FieldAmount:
			next[row].Amount = s.rows[row].Amount
		}
	}
	s.rows = next
}

// publishCanonical fans a successful save's canonical ledger out to the
// whole room, this session included. The keystroke broadcasts carried raw
// text; the snapshot is what moves everyone to the store-normalized values.
func (s *Session) publishCanonical(ledger *models.Ledger) {
	if s.hub == nil {
		return
	}
	s.hub.PublishSnapshot(s.token, ledger)
}

// broadcast relays a local edit to the room, if there is one.
func (s *Session) broadcast(ev hub.Event) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil || s.hub == nil {
		return
	}
	s.hub.Broadcast(sub, ev)
}

func (s *Session) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	slog.Warn("session error", "token", s.token, "err", err)
}

func fieldKey(row int, field models.Field) string {
	return strconv.Itoa(row) + "/" + string(field)
}

func parseFieldKey(key string) (int, models.Field, bool) {
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return 0, "", false
	}
	row, err := strconv.Atoi(key[:idx])
	if err != nil || row < 0 {
		return 0, "", false
	}
	field := models.Field(key[idx+1:])
	if !field.Valid() {
		return 0, "", false
	}
	return row, field, true
}
