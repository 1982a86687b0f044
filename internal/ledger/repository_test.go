package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func testRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()

	f, err := os.CreateTemp("", "ledger-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE route_pass_issuances (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			audiences TEXT NOT NULL,
			jti TEXT NOT NULL UNIQUE,
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying ledger schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSQLiteRepository(db, logger), db
}

func testIssuance(userID, jti string, issuedAt time.Time, ttl time.Duration) *Issuance {
	return &Issuance{
		UserID:    userID,
		DeviceID:  "dev-1",
		Audiences: []string{"lock:lock-a", "shared_key:user-g:lock-b"},
		JTI:       jti,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}
}

func TestCreateAndGetLastForUser(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := testIssuance("user-1", "jti-1", now.Add(-2*time.Minute), 5*time.Minute)
	second := testIssuance("user-1", "jti-2", now, 5*time.Minute)
	for _, issuance := range []*Issuance{first, second} {
		if err := repo.Create(ctx, issuance); err != nil {
			t.Fatalf("creating issuance: %v", err)
		}
	}
	if first.ID == "" || second.ID == "" {
		t.Fatal("expected generated issuance ids")
	}

	last, err := repo.GetLastForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("getting last issuance: %v", err)
	}
	if last.JTI != "jti-2" {
		t.Errorf("expected most recent issuance jti-2, got %s", last.JTI)
	}
	if !reflect.DeepEqual(last.Audiences, []string{"lock:lock-a", "shared_key:user-g:lock-b"}) {
		t.Errorf("audiences did not round-trip: %v", last.Audiences)
	}

	if _, err := repo.GetLastForUser(ctx, "user-none"); !errors.Is(err, ErrNoIssuance) {
		t.Fatalf("expected ErrNoIssuance, got %v", err)
	}
}

func TestIsUserPassExpired(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// No issuance at all counts as expired.
	expired, err := repo.IsUserPassExpired(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("checking with empty ledger: %v", err)
	}
	if !expired {
		t.Error("user with no issuance should read as expired")
	}

	if err := repo.Create(ctx, testIssuance("user-1", "jti-1", now.Add(-time.Minute), 5*time.Minute)); err != nil {
		t.Fatalf("creating issuance: %v", err)
	}
	expired, err = repo.IsUserPassExpired(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("checking live pass: %v", err)
	}
	if expired {
		t.Error("pass with future expiry should not read as expired")
	}

	// Expiry exactly at now is already expired.
	expired, err = repo.IsUserPassExpired(ctx, "user-1", now.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("checking boundary: %v", err)
	}
	if !expired {
		t.Error("pass expiring exactly at now should read as expired")
	}
}

func TestHistoryPaginationAndWindow(t *testing.T) {
	repo, _ := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		issuance := testIssuance("user-1", "jti-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), 5*time.Minute)
		if err := repo.Create(ctx, issuance); err != nil {
			t.Fatalf("creating issuance %d: %v", i, err)
		}
	}
	if err := repo.Create(ctx, testIssuance("user-2", "jti-other", base, 5*time.Minute)); err != nil {
		t.Fatalf("creating other-user issuance: %v", err)
	}

	page, err := repo.ListForUser(ctx, "user-1", HistoryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("listing first page: %v", err)
	}
	if len(page) != 2 || page[0].JTI != "jti-e" || page[1].JTI != "jti-d" {
		t.Fatalf("expected newest two issuances, got %+v", page)
	}

	page, err = repo.ListForUser(ctx, "user-1", HistoryFilter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("listing last page: %v", err)
	}
	if len(page) != 1 || page[0].JTI != "jti-a" {
		t.Fatalf("expected oldest issuance, got %+v", page)
	}

	start := base.Add(time.Hour)
	end := base.Add(3 * time.Hour)
	windowed, err := repo.ListForUser(ctx, "user-1", HistoryFilter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("listing window: %v", err)
	}
	if len(windowed) != 3 {
		t.Fatalf("expected 3 issuances in window, got %d", len(windowed))
	}

	count, err := repo.CountForUser(ctx, "user-1", HistoryFilter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("counting window: %v", err)
	}
	if count != 3 {
		t.Errorf("expected window count 3, got %d", count)
	}
	total, err := repo.CountForUser(ctx, "user-1", HistoryFilter{})
	if err != nil {
		t.Fatalf("counting all: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total count 5, got %d", total)
	}
}

func TestParseAudiencesLegacyShapes(t *testing.T) {
	repo, db := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	// Raw rows as older schema versions wrote them.
	rows := []struct {
		jti  string
		raw  string
		want []string
	}{
		{"jti-array", `["lock:a","lock:b"]`, []string{"lock:a", "lock:b"}},
		{"jti-string", `"[\"lock:c\"]"`, []string{"lock:c"}},
		{"jti-mixed", `["lock:d", 42, null]`, []string{"lock:d"}},
		{"jti-garbage", `{{{not json`, []string{}},
		{"jti-empty", ``, []string{}},
	}
	for i, r := range rows {
		_, err := db.Exec(
			`INSERT INTO route_pass_issuances (id, user_id, device_id, audiences, jti, issued_at, expires_at)
			 VALUES (?, 'user-1', 'dev-1', ?, ?, ?, ?)`,
			"iss-legacy-"+r.jti, r.raw, r.jti, now, now)
		if err != nil {
			t.Fatalf("inserting legacy row %d: %v", i, err)
		}
	}

	history, err := repo.ListForUser(ctx, "user-1", HistoryFilter{})
	if err != nil {
		t.Fatalf("reading legacy rows must never fail: %v", err)
	}
	if len(history) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(history))
	}

	byJTI := make(map[string][]string, len(history))
	for _, h := range history {
		byJTI[h.JTI] = h.Audiences
	}
	for _, r := range rows {
		if !reflect.DeepEqual(byJTI[r.jti], r.want) {
			t.Errorf("%s: audiences = %v, want %v", r.jti, byJTI[r.jti], r.want)
		}
	}
}
