// Package hub maintains per-ledger rooms of live subscribers and relays
// events between them. One hub instance owns all rooms it serves; there is
// no cross-process fan-out.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// defaultBufferSize is the per-subscriber event buffer. A subscriber that
// falls this far behind starts losing events; it recovers on the next
// snapshot.
const defaultBufferSize = 64

// Hub relays events between subscribers of the same room. Rooms are keyed by
// ledger share token and come and go with their membership.
type Hub struct {
	store storage.LedgerStore

	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

// Subscriber is one live connection's membership in a room. Events arrive on
// the channel returned by Events; the channel closes when the subscriber
// leaves.
type Subscriber struct {
	token  string
	events chan Event
	closed bool
}

// Events returns the subscriber's incoming event stream.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Token returns the room's ledger token.
func (s *Subscriber) Token() string {
	return s.token
}

// New creates a hub backed by the given store.
func New(store storage.LedgerStore) *Hub {
	return &Hub{
		store: store,
		rooms: make(map[string]map[*Subscriber]struct{}),
	}
}

// Join validates the token, registers a new subscriber in the room, and
// delivers the current full ledger snapshot as the subscriber's first event.
// A transport-level reconnect calls Join again and is indistinguishable from
// an initial join.
func (h *Hub) Join(ctx context.Context, token string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Snapshot read and registration happen under the room lock, atomic
	// with Broadcast: every event committed before this point is in the
	// snapshot, every later one is delivered to the channel.
	ledger, err := h.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		token:  token,
		events: make(chan Event, defaultBufferSize),
	}

	room, ok := h.rooms[token]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[token] = room
		roomsGauge.Inc()
	}
	room[sub] = struct{}{}
	membersGauge.Inc()

	// The channel is freshly created and nothing can have been delivered
	// yet, so the snapshot is always the subscriber's first event.
	sub.events <- Event{
		ID:       ulid.Make().String(),
		Name:     EventSnapshot,
		Snapshot: ledger,
	}
	snapshotsTotal.Inc()

	slog.Debug("subscriber joined room", "token", token)
	return sub, nil
}

// Leave deregisters the subscriber and closes its event stream. Safe to call
// more than once.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if room, ok := h.rooms[sub.token]; ok {
		delete(room, sub)
		membersGauge.Dec()
		if len(room) == 0 {
			delete(h.rooms, sub.token)
			roomsGauge.Dec()
		}
	}
	close(sub.events)
	slog.Debug("subscriber left room", "token", sub.token)
}

// Broadcast relays an event from one subscriber to every other current
// member of its room. The sender never receives its own event.
func (h *Hub) Broadcast(from *Subscriber, ev Event) {
	ev.ID = ulid.Make().String()
	eventsTotal.WithLabelValues(ev.Name).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[from.token] {
		if sub == from {
			continue
		}
		h.deliver(sub, ev)
	}
}

// PublishSnapshot delivers the canonical ledger to every member of the room,
// sender included. Called after any successful persistence so all viewers
// converge on store state.
func (h *Hub) PublishSnapshot(token string, ledger *models.Ledger) {
	ev := Event{
		ID:       ulid.Make().String(),
		Name:     EventSnapshot,
		Snapshot: ledger,
	}
	snapshotsTotal.Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[token] {
		// Each member gets its own copy; sessions mutate what they receive.
		copied := ev
		copied.Snapshot = ledger.Clone()
		h.deliver(sub, copied)
	}
}

// deliver sends without blocking. A full buffer means the subscriber is not
// draining; dropping is safe because the next snapshot resynchronizes it.
func (h *Hub) deliver(sub *Subscriber, ev Event) {
	select {
	case sub.events <- ev:
	default:
		droppedTotal.Inc()
		slog.Warn("subscriber buffer full, dropping event",
			"token", sub.token,
			"event", ev.Name,
		)
	}
}
