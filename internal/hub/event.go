package hub

import "github.com/splitpot/splitpot/internal/models"

// Event names delivered to room members. Clients broadcast the in-progress
// form of an edit (field/name/date/row-action) for liveness; the server
// publishes the canonical snapshot after every successful persistence.
const (
	// EventFieldUpdated carries another member's in-progress field edit.
	EventFieldUpdated = "field-updated"

	// EventRowAction carries another member's row add or delete.
	EventRowAction = "row-action-updated"

	// EventNameUpdated carries another member's in-progress ledger rename.
	EventNameUpdated = "game-name-updated"

	// EventDateUpdated carries another member's date change.
	EventDateUpdated = "game-date-updated"

	// EventSnapshot carries the full canonical ledger. Sent to a member on
	// join and to the whole room after any successful persistence.
	EventSnapshot = "game-updated"
)

// RowAction distinguishes structural row events.
type RowAction string

const (
	RowActionAdd    RowAction = "add"
	RowActionDelete RowAction = "delete"
)

// Event is one message relayed through a room. Payload fields are populated
// per event name; unused fields stay zero.
type Event struct {
	// ID is a ULID assigned by the hub, sortable by creation time.
	ID string `json:"id"`

	// Name is one of the Event* constants.
	Name string `json:"event"`

	// Row is the zero-based row position for field and delete events.
	Row int `json:"row,omitempty"`

	// Field names the edited column for field events.
	Field models.Field `json:"field,omitempty"`

	// Value is the in-progress text for field/name/date events.
	Value string `json:"value,omitempty"`

	// Action is set for row-action events.
	Action RowAction `json:"action,omitempty"`

	// Snapshot is the full canonical ledger for snapshot events.
	Snapshot *models.Ledger `json:"snapshot,omitempty"`
}
