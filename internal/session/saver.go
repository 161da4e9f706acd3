package session

import (
	"context"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/models"
)

// SaveFunc persists one field's current value. Returning a
// models.ValidationError means the value is not persistable yet (an
// in-progress expression, a half-typed date); the saver drops the attempt
// silently and the key returns to idle. Any other error counts as transient
// and is retried exactly once.
type SaveFunc func(ctx context.Context) error

// saveState tracks one key through Idle -> editing -> saving -> Idle.
// Idle keys have no entry at all; an entry's presence is the edit intent
// that suppresses remote updates for that key.
type saveState int

const (
	stateEditing saveState = iota
	stateSaving
)

type saveEntry struct {
	state saveState
	save  SaveFunc
	timer Timer

	// gen increments on every Touch. In-flight attempts carry the gen
	// they were scheduled with and stand down when a newer edit
	// supersedes them.
	gen uint64
}

// Saver is the debounced persistence engine behind every editable field:
// row cells, the ledger name, the date. Each key runs the same state
// machine: (re)start a debounce timer on every keystroke, save when it
// fires, retry once after a fixed delay on transient failure, surface the
// error and go idle if the retry also fails.
type Saver struct {
	clock      Clock
	delay      time.Duration
	retryDelay time.Duration

	// onError receives the key and error after the single retry is
	// exhausted. May be nil.
	onError func(key string, err error)

	mu      sync.Mutex
	entries map[string]*saveEntry
}

// NewSaver creates a saver with the given debounce and retry delays.
func NewSaver(clock Clock, delay, retryDelay time.Duration, onError func(key string, err error)) *Saver {
	return &Saver{
		clock:      clock,
		delay:      delay,
		retryDelay: retryDelay,
		onError:    onError,
		entries:    make(map[string]*saveEntry),
	}
}

// Touch records a local edit for key and (re)starts its debounce timer.
// The supplied SaveFunc captures the value as of this keystroke; a later
// Touch replaces it. An in-flight save for an earlier value is allowed to
// complete, but its outcome no longer releases the key.
func (s *Saver) Touch(key string, save SaveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &saveEntry{}
		s.entries[key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = stateEditing
	e.save = save
	e.gen++
	gen := e.gen
	e.timer = s.clock.AfterFunc(s.delay, func() {
		s.fire(key, gen)
	})
}

// Editing reports whether key has an active edit intent (editing or saving,
// including the retry window). Remote updates for such keys must be dropped.
func (s *Saver) Editing(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Flush saves key immediately, bypassing the debounce. Success, retry, and
// failure behave exactly as a debounce-triggered save. No-op for idle keys.
func (s *Saver) Flush(ctx context.Context, key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = stateSaving
	gen, save := e.gen, e.save
	s.mu.Unlock()

	s.attempt(ctx, key, gen, save, false)
}

// ComposingKeys returns the keys whose text is actively being typed (not yet
// handed to a save). Snapshot application preserves these; keys mid-save are
// reconciled by their own canonical response instead.
func (s *Saver) ComposingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.entries {
		if e.state == stateEditing {
			keys = append(keys, k)
		}
	}
	return keys
}

// FlushAllSync makes one synchronous save attempt per pending key and goes
// idle regardless of outcome. Teardown path: best effort, errors swallowed,
// no retries.
func (s *Saver) FlushAllSync(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[string]SaveFunc, len(s.entries))
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		pending[key] = e.save
	}
	s.entries = make(map[string]*saveEntry)
	s.mu.Unlock()

	for _, save := range pending {
		_ = save(ctx)
	}
}

// Cancel discards key's edit intent without saving (blur without change).
func (s *Saver) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

// fire is the debounce timer callback.
func (s *Saver) fire(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen || e.state != stateEditing {
		// Superseded by a newer keystroke or an explicit flush.
		s.mu.Unlock()
		return
	}
	e.state = stateSaving
	save := e.save
	s.mu.Unlock()

	s.attempt(context.Background(), key, gen, save, false)
}

// attempt runs one save and resolves the state machine: release on success
// or validation skip, schedule the single retry on first transient failure,
// surface and release after the retry fails.
func (s *Saver) attempt(ctx context.Context, key string, gen uint64, save SaveFunc, isRetry bool) {
	err := save(ctx)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		// A newer edit owns this key now; its own save will resolve it.
		s.mu.Unlock()
		return
	}
	if err == nil || models.IsValidation(err) {
		delete(s.entries, key)
		s.mu.Unlock()
		return
	}
	if !isRetry {
		e.timer = s.clock.AfterFunc(s.retryDelay, func() {
			// The originating call may be long gone by retry time.
			s.attempt(context.Background(), key, gen, save, true)
		})
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	onError := s.onError
	s.mu.Unlock()

	if onError != nil {
		onError(key, err)
	}
}
