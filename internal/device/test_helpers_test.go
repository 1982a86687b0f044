package device

import (
	"database/sql"
	"encoding/base64"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the device schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "device-test-*.db")
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
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			role TEXT NOT NULL DEFAULT 'tenant',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE device_identities (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			app_device_id TEXT NOT NULL,
			public_key TEXT NOT NULL,
			platform TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			device_name TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		) STRICT;

		CREATE UNIQUE INDEX idx_device_identities_natural_key
			ON device_identities(user_id, app_device_id) WHERE status = 'active';
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying device schema: %v", err)
	}

	return db
}

// seedTestUser inserts a user row and returns its id.
func seedTestUser(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	_, err := db.Exec("INSERT INTO users (id, display_name) VALUES (?, ?)", id, id)
	if err != nil {
		t.Fatalf("seeding test user %s: %v", id, err)
	}
	return id
}

// testPublicKey returns a valid base64-encoded 32-byte key, unique per seed.
func testPublicKey(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	return base64.StdEncoding.EncodeToString(raw)
}
