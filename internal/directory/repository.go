package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Repository defines the read-only directory surface consumed by this core.
type Repository interface {
	LocksForUnit(ctx context.Context, unitID string) ([]Lock, error)
	UnitsWherePrimary(ctx context.Context, userID string) ([]Unit, error)
	LocksForFacilities(ctx context.Context, facilityIDs []string) ([]Lock, error)
	AllLocks(ctx context.Context) ([]Lock, error)
	FacilityOfUnit(ctx context.Context, unitID string) (string, error)
	PrimaryTenantOfUnit(ctx context.Context, unitID string) (string, error)
	GetUnit(ctx context.Context, unitID string) (*Unit, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	FindUserByContact(ctx context.Context, contact string) (*User, error)
}

// SQLiteRepository implements Repository over the directory read-model tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new directory repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LocksForUnit returns the locks attached to a unit, ascending by lock id.
func (r *SQLiteRepository) LocksForUnit(ctx context.Context, unitID string) ([]Lock, error) {
	return r.queryLocks(ctx,
		"SELECT id, unit_id, name FROM locks WHERE unit_id = ? ORDER BY id", unitID)
}

// UnitsWherePrimary returns the units where the user holds the primary
// assignment, ascending by unit id.
func (r *SQLiteRepository) UnitsWherePrimary(ctx context.Context, userID string) ([]Unit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.facility_id, u.unit_number
		 FROM units u
		 JOIN unit_assignments ua ON ua.unit_id = u.id
		 WHERE ua.user_id = ? AND ua.is_primary = 1
		 ORDER BY u.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying primary units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.FacilityID, &u.UnitNumber); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating units: %w", err)
	}

	if units == nil {
		units = []Unit{}
	}
	return units, nil
}

// LocksForFacilities returns every lock behind a unit in any of the given
// facilities, ascending by lock id. An empty facility list yields no locks.
func (r *SQLiteRepository) LocksForFacilities(ctx context.Context, facilityIDs []string) ([]Lock, error) {
	if len(facilityIDs) == 0 {
		return []Lock{}, nil
	}

	placeholders := strings.Repeat("?,", len(facilityIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(facilityIDs))
	for i, id := range facilityIDs {
		args[i] = id
	}

	// IN clause is built from placeholders only; values are bound.
	query := fmt.Sprintf( //nolint:gosec // placeholders, not user input
		`SELECT l.id, l.unit_id, l.name
		 FROM locks l
		 JOIN units u ON u.id = l.unit_id
		 WHERE u.facility_id IN (%s)
		 ORDER BY l.id`, placeholders)

	return r.queryLocks(ctx, query, args...)
}

// AllLocks returns every lock in the system, ascending by lock id.
func (r *SQLiteRepository) AllLocks(ctx context.Context) ([]Lock, error) {
	return r.queryLocks(ctx, "SELECT id, unit_id, name FROM locks ORDER BY id")
}

// FacilityOfUnit returns the facility id a unit belongs to.
func (r *SQLiteRepository) FacilityOfUnit(ctx context.Context, unitID string) (string, error) {
	var facilityID string
	err := r.db.QueryRowContext(ctx,
		"SELECT facility_id FROM units WHERE id = ?", unitID).Scan(&facilityID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUnitNotFound
		}
		return "", fmt.Errorf("getting facility of unit: %w", err)
	}
	return facilityID, nil
}

// PrimaryTenantOfUnit returns the user id holding the primary assignment on
// the unit. ErrUserNotFound means the unit is vacant.
func (r *SQLiteRepository) PrimaryTenantOfUnit(ctx context.Context, unitID string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		"SELECT user_id FROM unit_assignments WHERE unit_id = ? AND is_primary = 1", unitID).
		Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("getting primary tenant of unit: %w", err)
	}
	return userID, nil
}

// GetUnit returns a unit by id.
func (r *SQLiteRepository) GetUnit(ctx context.Context, unitID string) (*Unit, error) {
	var u Unit
	err := r.db.QueryRowContext(ctx,
		"SELECT id, facility_id, unit_number FROM units WHERE id = ?", unitID).
		Scan(&u.ID, &u.FacilityID, &u.UnitNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by id.
func (r *SQLiteRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	var email, phone sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, display_name, email, phone, role FROM users WHERE id = ?", userID).
		Scan(&u.ID, &u.DisplayName, &email, &phone, &u.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if email.Valid {
		u.Email = email.String
	}
	if phone.Valid {
		u.Phone = phone.String
	}
	return &u, nil
}

// FindUserByContact resolves a user by phone number or email address.
// Used by share invites where the grantor knows a contact identifier
// rather than a user id.
func (r *SQLiteRepository) FindUserByContact(ctx context.Context, contact string) (*User, error) {
	var u User
	var email, phone sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, display_name, email, phone, role FROM users WHERE phone = ? OR email = ?",
		contact, contact).
		Scan(&u.ID, &u.DisplayName, &email, &phone, &u.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("finding user by contact: %w", err)
	}
	if email.Valid {
		u.Email = email.String
	}
	if phone.Valid {
		u.Phone = phone.String
	}
	return &u, nil
}

// queryLocks runs a lock query and scans the result rows.
func (r *SQLiteRepository) queryLocks(ctx context.Context, query string, args ...any) ([]Lock, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		var name sql.NullString
		if err := rows.Scan(&l.ID, &l.UnitID, &name); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		if name.Valid {
			l.Name = name.String
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locks: %w", err)
	}

	if locks == nil {
		locks = []Lock{}
	}
	return locks, nil
}
