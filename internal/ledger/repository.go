package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the issuance ledger surface.
type Repository interface {
	Create(ctx context.Context, issuance *Issuance) error
	GetLastForUser(ctx context.Context, userID string) (*Issuance, error)
	IsUserPassExpired(ctx context.Context, userID string, now time.Time) (bool, error)
	ListForUser(ctx context.Context, userID string, filter HistoryFilter) ([]Issuance, error)
	CountForUser(ctx context.Context, userID string, filter HistoryFilter) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRepository creates a new issuance ledger repository.
func NewSQLiteRepository(db *sql.DB, logger *slog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: logger.With("component", "ledger")}
}

// Create appends an issuance record. Concurrent writers never contend: every
// row is keyed by a fresh id and jti.
func (r *SQLiteRepository) Create(ctx context.Context, issuance *Issuance) error {
	if issuance.ID == "" {
		issuance.ID = "iss-" + uuid.NewString()[:16]
	}

	audiences, err := json.Marshal(issuance.Audiences)
	if err != nil {
		return fmt.Errorf("marshalling audiences: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO route_pass_issuances (id, user_id, device_id, audiences, jti, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		issuance.ID, issuance.UserID, issuance.DeviceID, string(audiences),
		issuance.JTI,
		issuance.IssuedAt.UTC().Format(time.RFC3339),
		issuance.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending issuance: %w", err)
	}
	return nil
}

// GetLastForUser returns the user's most recent issuance.
func (r *SQLiteRepository) GetLastForUser(ctx context.Context, userID string) (*Issuance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, device_id, audiences, jti, issued_at, expires_at
		 FROM route_pass_issuances
		 WHERE user_id = ?
		 ORDER BY issued_at DESC, id DESC
		 LIMIT 1`, userID)

	issuance, err := r.scanIssuance(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoIssuance
		}
		return nil, err
	}
	return issuance, nil
}

// IsUserPassExpired reports whether the user's latest pass is already
// expired. No issuance at all counts as expired: a verifier may skip the
// denylist check either way.
func (r *SQLiteRepository) IsUserPassExpired(ctx context.Context, userID string, now time.Time) (bool, error) {
	last, err := r.GetLastForUser(ctx, userID)
	if err != nil {
		if err == ErrNoIssuance {
			return true, nil
		}
		return false, err
	}
	return !last.ExpiresAt.After(now), nil
}

// ListForUser returns a page of the user's issuance history, most recent
// first, optionally bounded to an issued-at window.
func (r *SQLiteRepository) ListForUser(ctx context.Context, userID string, filter HistoryFilter) ([]Issuance, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := historyWhere(userID, filter)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, user_id, device_id, audiences, jti, issued_at, expires_at
		 FROM route_pass_issuances
		 %s
		 ORDER BY issued_at DESC, id DESC
		 LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issuance history: %w", err)
	}
	defer rows.Close()

	var issuances []Issuance
	for rows.Next() {
		issuance, err := r.scanIssuance(rows.Scan)
		if err != nil {
			return nil, err
		}
		issuances = append(issuances, *issuance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating issuance history: %w", err)
	}

	if issuances == nil {
		issuances = []Issuance{}
	}
	return issuances, nil
}

// CountForUser returns the total history rows matching the filter.
func (r *SQLiteRepository) CountForUser(ctx context.Context, userID string, filter HistoryFilter) (int, error) {
	where, args := historyWhere(userID, filter)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT COUNT(*) FROM route_pass_issuances %s", where)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting issuance history: %w", err)
	}
	return count, nil
}

// historyWhere assembles the shared WHERE clause for history queries.
func historyWhere(userID string, filter HistoryFilter) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{userID}

	if filter.Start != nil {
		conditions = append(conditions, "issued_at >= ?")
		args = append(args, filter.Start.UTC().Format(time.RFC3339))
	}
	if filter.End != nil {
		conditions = append(conditions, "issued_at <= ?")
		args = append(args, filter.End.UTC().Format(time.RFC3339))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// scanIssuance scans an issuance row via the given scan function.
func (r *SQLiteRepository) scanIssuance(scan func(...any) error) (*Issuance, error) {
	var i Issuance
	var audiences, issuedAt, expiresAt string

	if err := scan(&i.ID, &i.UserID, &i.DeviceID, &audiences, &i.JTI, &issuedAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning issuance: %w", err)
	}

	i.Audiences = r.parseAudiences(i.ID, audiences)
	i.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
	i.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

	return &i, nil
}

// parseAudiences decodes a stored audiences payload. Older schema versions
// wrote inconsistent shapes, so decoding is tried variant by variant and
// never fails a read: a JSON array is taken as-is, a JSON string is parsed
// again for the array inside it, and anything else degrades to an empty
// list with a warning.
func (r *SQLiteRepository) parseAudiences(issuanceID, raw string) []string {
	if raw == "" {
		return []string{}
	}

	var direct []string
	if err := json.Unmarshal([]byte(raw), &direct); err == nil {
		if direct == nil {
			direct = []string{}
		}
		return direct
	}

	var wrapped string
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		var inner []string
		if err := json.Unmarshal([]byte(wrapped), &inner); err == nil && inner != nil {
			return inner
		}
	}

	var loose []any
	if err := json.Unmarshal([]byte(raw), &loose); err == nil {
		audiences := make([]string, 0, len(loose))
		for _, v := range loose {
			if s, ok := v.(string); ok {
				audiences = append(audiences, s)
			}
		}
		return audiences
	}

	r.logger.Warn("unparseable audiences payload in issuance ledger",
		"issuance_id", issuanceID)
	return []string{}
}
