// Package models defines the core domain models for Splitpot.
//
// # Models
//
//   - Ledger: the per-game aggregate of name, date, settled flag, and an
//     ordered list of participant rows. Identified by an opaque share token;
//     possession of the token grants edit access.
//   - Row: one participant's (name, amount) entry. Rows are addressed by
//     zero-based position on the wire; the persistence layer backs each row
//     with a stable ID, but positions shift on deletion.
//   - Date: a calendar date with no time-of-day component, so a game played
//     on the 14th stays on the 14th in every timezone.
//
// # Design principles
//
//  1. Participants are display names (strings), not user accounts. A reserved
//     sentinel (EmptyName) marks a row that exists structurally but has no
//     name yet; helpers on Row keep the sentinel out of calling code.
//  2. Amounts are signed floats summing to zero for a settled game. Cents
//     precision is enforced at the storage layer, not here.
//  3. Error values live next to the models they describe so every layer
//     shares one taxonomy.
package models
