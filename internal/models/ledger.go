package models

// EmptyName is the reserved sentinel for a row that is structurally present
// but has no participant name yet. It is treated as empty in every
// user-facing context and in the balance calculation's "has a player" check.
// External collaborators speak this value on the wire, so it stays a string
// rather than a dedicated optional type.
const EmptyName = "__empty__"

// Field names a mutable column of a row.
type Field string

const (
	// FieldName is a row's participant display name.
	FieldName Field = "name"

	// FieldAmount is a row's signed amount.
	FieldAmount Field = "amount"
)

// Valid reports whether f is a known row field.
func (f Field) Valid() bool {
	return f == FieldName || f == FieldAmount
}

// Row is one participant's entry in a ledger.
type Row struct {
	// ID is the persistence-layer identifier (UUID format). The wire
	// protocol addresses rows by position, not by ID.
	ID string `json:"id,omitempty"`

	// Name is the participant's display name. Empty and EmptyName both
	// mean "unnamed".
	Name string `json:"name"`

	// Amount is the signed win/loss for this participant.
	Amount float64 `json:"amount"`
}

// HasName reports whether the row names a real participant, i.e. the name is
// non-empty and not the EmptyName sentinel.
func (r Row) HasName() bool {
	return r.Name != "" && r.Name != EmptyName
}

// DisplayName returns the name with the sentinel normalized to "".
func (r Row) DisplayName() string {
	if r.Name == EmptyName {
		return ""
	}
	return r.Name
}

// Ledger is the root aggregate for one game instance.
type Ledger struct {
	// Token is the opaque share token (UUID format). Possession of the
	// token grants edit access while the ledger is unsettled.
	Token string `json:"token"`

	// Name is the ledger's display name.
	Name string `json:"name"`

	// Date is the optional calendar date of the game. Zero value means
	// unset.
	Date Date `json:"date,omitempty"`

	// Settled freezes the ledger: while true, every row and field
	// mutation is rejected. Unsettling is an explicit reversible
	// transition.
	Settled bool `json:"settled"`

	// Rows is the ordered list of participant entries. A ledger never has
	// fewer than one row.
	Rows []Row `json:"rows"`

	// PasscodeHash is the bcrypt hash of the optional passcode guarding
	// reads of a private ledger. Empty means public. Never serialized.
	PasscodeHash string `json:"-"`

	// CreatedAt is the Unix timestamp when the ledger was created.
	CreatedAt int64 `json:"created_at"`
}

// HasPasscode reports whether reads require a passcode.
func (l *Ledger) HasPasscode() bool {
	return l.PasscodeHash != ""
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate canonical state through a shared slice.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.Rows = make([]Row, len(l.Rows))
	copy(out.Rows, l.Rows)
	return &out
}
