package sharing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unitkey/unitkey-core/internal/access"
)

// Repository defines the persistence surface for sharing grants.
type Repository interface {
	Upsert(ctx context.Context, grant *Grant) error
	GetByID(ctx context.Context, id string) (*Grant, error)
	Update(ctx context.Context, grant *Grant) error
	Revoke(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	ListForUnit(ctx context.Context, unitID string, includeInactive bool, restrictToUser string) ([]GrantView, error)
	ListExpired(ctx context.Context, now time.Time) ([]Grant, error)
	HasActiveGrant(ctx context.Context, userID, unitID string, now time.Time) (bool, error)
	IsPrimaryTenant(ctx context.Context, userID, unitID string) (bool, error)
	ActiveGrantsForUser(ctx context.Context, userID string, now time.Time) ([]access.SharedGrant, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new sharing grant repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// grantColumns is the select list shared by grant queries.
const grantColumns = `id, unit_id, primary_tenant_id, shared_with_user_id, access_level,
	shared_at, expires_at, granted_by, is_active, notes, restrictions`

// Upsert writes a grant keyed on (unit_id, shared_with_user_id). When a row
// for the pair already exists, active or revoked, it is updated in place
// and reactivated, keeping its original id. The uniqueness constraint makes
// this atomic under concurrent invites.
func (r *SQLiteRepository) Upsert(ctx context.Context, grant *Grant) error {
	if grant.ID == "" {
		grant.ID = "shr-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC()
	if grant.SharedAt.IsZero() {
		grant.SharedAt = now
	}
	grant.IsActive = true

	restrictionsJSON, err := marshalRestrictions(grant.Restrictions)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO key_sharing_grants
		 (id, unit_id, primary_tenant_id, shared_with_user_id, access_level, shared_at, expires_at, granted_by, is_active, notes, restrictions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(unit_id, shared_with_user_id) DO UPDATE SET
			access_level = excluded.access_level,
			shared_at = excluded.shared_at,
			expires_at = excluded.expires_at,
			granted_by = excluded.granted_by,
			is_active = 1,
			notes = excluded.notes,
			restrictions = excluded.restrictions`,
		grant.ID, grant.UnitID, grant.PrimaryTenantID, grant.SharedWithUserID,
		string(grant.AccessLevel), grant.SharedAt.Format(time.RFC3339),
		nullTime(grant.ExpiresAt), nullString(grant.GrantedBy),
		nullString(grant.Notes), restrictionsJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting sharing grant: %w", err)
	}

	// On conflict the stored row keeps its original id; read it back so the
	// caller sees the canonical record.
	stored, err := r.getByNaturalKey(ctx, grant.UnitID, grant.SharedWithUserID)
	if err != nil {
		return err
	}
	*grant = *stored
	return nil
}

// GetByID retrieves a grant by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Grant, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+grantColumns+" FROM key_sharing_grants WHERE id = ?", id)
	grant, err := scanGrant(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return grant, nil
}

// getByNaturalKey retrieves the canonical grant for a (unit, grantee) pair.
func (r *SQLiteRepository) getByNaturalKey(ctx context.Context, unitID, granteeID string) (*Grant, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+grantColumns+" FROM key_sharing_grants WHERE unit_id = ? AND shared_with_user_id = ?",
		unitID, granteeID)
	grant, err := scanGrant(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return grant, nil
}

// Update rewrites the mutable fields of a grant (access level, expiry, notes,
// restrictions).
func (r *SQLiteRepository) Update(ctx context.Context, grant *Grant) error {
	restrictionsJSON, err := marshalRestrictions(grant.Restrictions)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE key_sharing_grants
		 SET access_level = ?, expires_at = ?, notes = ?, restrictions = ?
		 WHERE id = ?`,
		string(grant.AccessLevel), nullTime(grant.ExpiresAt),
		nullString(grant.Notes), restrictionsJSON, grant.ID)
	if err != nil {
		return fmt.Errorf("updating sharing grant: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// Revoke deactivates a grant. The row is never deleted.
func (r *SQLiteRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE key_sharing_grants SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoking sharing grant: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// List returns grants matching the filter, enriched with display fields,
// most recent first. A nil Filter.IsActive defaults to active grants only.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic WHERE assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.UnitID != "" {
		conditions = append(conditions, "g.unit_id = ?")
		args = append(args, filter.UnitID)
	}
	if filter.GrantorID != "" {
		conditions = append(conditions, "g.primary_tenant_id = ?")
		args = append(args, filter.GrantorID)
	}
	if filter.GranteeID != "" {
		conditions = append(conditions, "g.shared_with_user_id = ?")
		args = append(args, filter.GranteeID)
	}
	if filter.AccessLevel != "" {
		conditions = append(conditions, "g.access_level = ?")
		args = append(args, string(filter.AccessLevel))
	}

	// Default to active-only; revoked history is opt-in.
	active := true
	if filter.IsActive != nil {
		active = *filter.IsActive
	}
	conditions = append(conditions, "g.is_active = ?")
	args = append(args, boolToInt(active))

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT COUNT(*) FROM key_sharing_grants g %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting sharing grants: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT g.id, g.unit_id, g.primary_tenant_id, g.shared_with_user_id, g.access_level,
			g.shared_at, g.expires_at, g.granted_by, g.is_active, g.notes, g.restrictions,
			u.unit_number, f.name,
			grantor.display_name, grantor.email,
			grantee.display_name, grantee.email
		 FROM key_sharing_grants g
		 JOIN units u ON u.id = g.unit_id
		 JOIN facilities f ON f.id = u.facility_id
		 JOIN users grantor ON grantor.id = g.primary_tenant_id
		 JOIN users grantee ON grantee.id = g.shared_with_user_id
		 %s
		 ORDER BY g.shared_at DESC, g.id
		 LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	views, err := r.queryViews(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Grants: views,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// ListForUnit returns the sharing roster for a unit. When restrictToUser is
// non-empty only that user's grants are returned, the visibility narrowing
// applied for grantees.
func (r *SQLiteRepository) ListForUnit(ctx context.Context, unitID string, includeInactive bool, restrictToUser string) ([]GrantView, error) {
	conditions := []string{"g.unit_id = ?"}
	args := []any{unitID}

	if !includeInactive {
		conditions = append(conditions, "g.is_active = 1")
	}
	if restrictToUser != "" {
		conditions = append(conditions, "g.shared_with_user_id = ?")
		args = append(args, restrictToUser)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT g.id, g.unit_id, g.primary_tenant_id, g.shared_with_user_id, g.access_level,
			g.shared_at, g.expires_at, g.granted_by, g.is_active, g.notes, g.restrictions,
			u.unit_number, f.name,
			grantor.display_name, grantor.email,
			grantee.display_name, grantee.email
		 FROM key_sharing_grants g
		 JOIN units u ON u.id = g.unit_id
		 JOIN facilities f ON f.id = u.facility_id
		 JOIN users grantor ON grantor.id = g.primary_tenant_id
		 JOIN users grantee ON grantee.id = g.shared_with_user_id
		 WHERE %s
		 ORDER BY g.shared_at DESC, g.id`, strings.Join(conditions, " AND "))

	return r.queryViews(ctx, query, args...)
}

// ListExpired returns active grants whose expiry has passed. It does not
// revoke them; sweeping is an external scheduled job.
func (r *SQLiteRepository) ListExpired(ctx context.Context, now time.Time) ([]Grant, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+grantColumns+` FROM key_sharing_grants
		 WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at, id`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing expired grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		grant, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired grants: %w", err)
	}

	if grants == nil {
		grants = []Grant{}
	}
	return grants, nil
}

// HasActiveGrant reports whether the user holds an active, unexpired grant on
// the unit. A grant expiring exactly at now does not count.
func (r *SQLiteRepository) HasActiveGrant(ctx context.Context, userID, unitID string, now time.Time) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM key_sharing_grants
		 WHERE unit_id = ? AND shared_with_user_id = ? AND is_active = 1
		   AND (expires_at IS NULL OR expires_at > ?)`,
		unitID, userID, now.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking active grant: %w", err)
	}
	return count > 0, nil
}

// IsPrimaryTenant reports whether the user holds the primary assignment on
// the unit.
func (r *SQLiteRepository) IsPrimaryTenant(ctx context.Context, userID, unitID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM unit_assignments WHERE unit_id = ? AND user_id = ? AND is_primary = 1",
		unitID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking primary tenant: %w", err)
	}
	return count > 0, nil
}

// ActiveGrantsForUser returns the user's active, unexpired grants in the
// shape the access resolver consumes, ordered by unit id.
func (r *SQLiteRepository) ActiveGrantsForUser(ctx context.Context, userID string, now time.Time) ([]access.SharedGrant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT unit_id, primary_tenant_id FROM key_sharing_grants
		 WHERE shared_with_user_id = ? AND is_active = 1
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY unit_id`,
		userID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing grants for resolver: %w", err)
	}
	defer rows.Close()

	var grants []access.SharedGrant
	for rows.Next() {
		var g access.SharedGrant
		if err := rows.Scan(&g.UnitID, &g.GrantorID); err != nil {
			return nil, fmt.Errorf("scanning shared grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shared grants: %w", err)
	}

	return grants, nil
}

// queryViews runs an enriched grant query and scans the result rows.
func (r *SQLiteRepository) queryViews(ctx context.Context, query string, args ...any) ([]GrantView, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sharing grants: %w", err)
	}
	defer rows.Close()

	var views []GrantView
	for rows.Next() {
		var v GrantView
		var level string
		var sharedAt string
		var expiresAt, grantedBy, notes, restrictions sql.NullString
		var isActive int
		var grantorEmail, granteeEmail sql.NullString

		if err := rows.Scan(&v.ID, &v.UnitID, &v.PrimaryTenantID, &v.SharedWithUserID, &level,
			&sharedAt, &expiresAt, &grantedBy, &isActive, &notes, &restrictions,
			&v.UnitNumber, &v.FacilityName,
			&v.GrantorName, &grantorEmail,
			&v.GranteeName, &granteeEmail); err != nil {
			return nil, fmt.Errorf("scanning grant view: %w", err)
		}

		v.AccessLevel = AccessLevel(level)
		v.IsActive = isActive != 0
		v.SharedAt, _ = time.Parse(time.RFC3339, sharedAt) //nolint:errcheck // format is controlled
		if expiresAt.Valid {
			t, _ := time.Parse(time.RFC3339, expiresAt.String) //nolint:errcheck // format is controlled
			v.ExpiresAt = &t
		}
		if grantedBy.Valid {
			v.GrantedBy = grantedBy.String
		}
		if notes.Valid {
			v.Notes = notes.String
		}
		if restrictions.Valid {
			v.Restrictions = unmarshalRestrictions(restrictions.String)
		}
		if grantorEmail.Valid {
			v.GrantorEmail = grantorEmail.String
		}
		if granteeEmail.Valid {
			v.GranteeEmail = granteeEmail.String
		}

		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant views: %w", err)
	}

	if views == nil {
		views = []GrantView{}
	}
	return views, nil
}

// scanGrant scans a plain grant row via the given scan function.
func scanGrant(scan func(...any) error) (*Grant, error) {
	var g Grant
	var level, sharedAt string
	var expiresAt, grantedBy, notes, restrictions sql.NullString
	var isActive int

	if err := scan(&g.ID, &g.UnitID, &g.PrimaryTenantID, &g.SharedWithUserID, &level,
		&sharedAt, &expiresAt, &grantedBy, &isActive, &notes, &restrictions); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sharing grant: %w", err)
	}

	g.AccessLevel = AccessLevel(level)
	g.IsActive = isActive != 0
	g.SharedAt, _ = time.Parse(time.RFC3339, sharedAt) //nolint:errcheck // format is controlled
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String) //nolint:errcheck // format is controlled
		g.ExpiresAt = &t
	}
	if grantedBy.Valid {
		g.GrantedBy = grantedBy.String
	}
	if notes.Valid {
		g.Notes = notes.String
	}
	if restrictions.Valid {
		g.Restrictions = unmarshalRestrictions(restrictions.String)
	}

	return &g, nil
}

// marshalRestrictions serialises the restrictions map, nil for empty.
func marshalRestrictions(restrictions map[string]any) (any, error) {
	if len(restrictions) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(restrictions)
	if err != nil {
		return nil, fmt.Errorf("marshalling restrictions: %w", err)
	}
	return string(b), nil
}

// unmarshalRestrictions decodes a stored restrictions payload, tolerating
// malformed legacy values by returning nil.
func unmarshalRestrictions(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if json.Unmarshal([]byte(raw), &m) != nil {
		return nil
	}
	return m
}

// nullString returns nil for empty strings, for nullable TEXT columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns nil for nil times, else the RFC3339 string.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// boolToInt converts a bool to the 0/1 SQLite representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
