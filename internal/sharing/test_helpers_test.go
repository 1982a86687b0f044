package sharing

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the directory and sharing
// schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "sharing-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE facilities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC'
		) STRICT;

		CREATE TABLE units (
			id TEXT PRIMARY KEY,
			facility_id TEXT NOT NULL,
			unit_number TEXT NOT NULL,
			FOREIGN KEY (facility_id) REFERENCES facilities(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE locks (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			name TEXT,
			FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			role TEXT NOT NULL DEFAULT 'tenant'
		) STRICT;

		CREATE TABLE unit_assignments (
			unit_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (unit_id, user_id)
		) STRICT;

		CREATE TABLE key_sharing_grants (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			primary_tenant_id TEXT NOT NULL,
			shared_with_user_id TEXT NOT NULL,
			access_level TEXT NOT NULL DEFAULT 'full',
			shared_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			expires_at TEXT,
			granted_by TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			notes TEXT,
			restrictions TEXT
		) STRICT;

		CREATE UNIQUE INDEX idx_key_sharing_grants_natural_key
			ON key_sharing_grants(unit_id, shared_with_user_id);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying sharing schema: %v", err)
	}

	return db
}

// seedDirectory inserts one facility, one unit with a primary tenant, one
// lock, and a second user to share with.
func seedDirectory(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []struct {
		query string
		args  []any
	}{
		{"INSERT INTO facilities (id, name) VALUES (?, ?)", []any{"fac-1", "Northside Storage"}},
		{"INSERT INTO units (id, facility_id, unit_number) VALUES (?, ?, ?)", []any{"unit-1", "fac-1", "A-101"}},
		{"INSERT INTO locks (id, unit_id, name) VALUES (?, ?, ?)", []any{"lock-1", "unit-1", "roller door"}},
		{"INSERT INTO users (id, display_name, email) VALUES (?, ?, ?)", []any{"user-owner", "Alex Owner", "alex@example.com"}},
		{"INSERT INTO users (id, display_name, email) VALUES (?, ?, ?)", []any{"user-friend", "Sam Friend", "sam@example.com"}},
		{"INSERT INTO users (id, display_name, role) VALUES (?, ?, ?)", []any{"user-admin", "Fay Admin", "facility_admin"}},
		{"INSERT INTO unit_assignments (unit_id, user_id, is_primary) VALUES (?, ?, 1)", []any{"unit-1", "user-owner"}},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("seeding directory: %v", err)
		}
	}
}
