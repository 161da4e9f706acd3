package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Rows are addressed by (ledger_token, position); positions stay dense
// because every structural mutation rewrites the ledger's row set.
const schema = `
CREATE TABLE IF NOT EXISTS ledgers (
    token TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    date TEXT,
    settled INTEGER NOT NULL DEFAULT 0,
    passcode_hash TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rows (
    id TEXT PRIMARY KEY,
    ledger_token TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    amount REAL NOT NULL,
    FOREIGN KEY (ledger_token) REFERENCES ledgers(token) ON DELETE CASCADE,
    UNIQUE (ledger_token, position)
);

CREATE INDEX IF NOT EXISTS idx_rows_ledger_token ON rows(ledger_token);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
