package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence surface for device identities.
type Repository interface {
	Create(ctx context.Context, identity *Identity) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetActive(ctx context.Context, userID, appDeviceID string) (*Identity, error)
	UpdateKey(ctx context.Context, id, publicKey, deviceName string) error
	Revoke(ctx context.Context, id string) error
	CountActive(ctx context.Context, userID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]Identity, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new device identity repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new device identity. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = "dev-" + uuid.NewString()[:16]
	}
	if identity.Status == "" {
		identity.Status = StatusActive
	}

	now := time.Now().UTC().Format(time.RFC3339)
	identity.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	identity.UpdatedAt = identity.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_identities (id, user_id, app_device_id, public_key, platform, status, device_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.UserID, identity.AppDeviceID, identity.PublicKey,
		string(identity.Platform), string(identity.Status),
		nullString(identity.DeviceName), now, now,
	)
	if err != nil {
		return fmt.Errorf("creating device identity: %w", err)
	}

	return nil
}

// GetByID retrieves a device identity by its id, regardless of status.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	return r.queryOne(ctx,
		`SELECT id, user_id, app_device_id, public_key, platform, status, device_name, created_at, updated_at
		 FROM device_identities WHERE id = ?`, id)
}

// GetActive retrieves the active identity for a (user, app device) pair.
func (r *SQLiteRepository) GetActive(ctx context.Context, userID, appDeviceID string) (*Identity, error) {
	return r.queryOne(ctx,
		`SELECT id, user_id, app_device_id, public_key, platform, status, device_name, created_at, updated_at
		 FROM device_identities WHERE user_id = ? AND app_device_id = ? AND status = 'active'`,
		userID, appDeviceID)
}

// UpdateKey replaces the public key (and optionally the device name) of an
// existing identity. This is key rotation: the row keeps its id and natural
// key.
func (r *SQLiteRepository) UpdateKey(ctx context.Context, id, publicKey, deviceName string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var result sql.Result
	var err error
	if deviceName != "" {
		result, err = r.db.ExecContext(ctx,
			"UPDATE device_identities SET public_key = ?, device_name = ?, updated_at = ? WHERE id = ?",
			publicKey, deviceName, now, id)
	} else {
		result, err = r.db.ExecContext(ctx,
			"UPDATE device_identities SET public_key = ?, updated_at = ? WHERE id = ?",
			publicKey, now, id)
	}
	if err != nil {
		return fmt.Errorf("updating device key: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Revoke marks a device identity as revoked. Idempotent: revoking an
// already-revoked or unknown device is not an error.
func (r *SQLiteRepository) Revoke(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		"UPDATE device_identities SET status = 'revoked', updated_at = ? WHERE id = ? AND status != 'revoked'",
		now, id)
	if err != nil {
		return fmt.Errorf("revoking device: %w", err)
	}
	return nil
}

// CountActive returns the number of active device identities for a user.
func (r *SQLiteRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_identities WHERE user_id = ? AND status = 'active'",
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active devices: %w", err)
	}
	return count, nil
}

// ListActive returns all active device identities for a user, oldest first.
func (r *SQLiteRepository) ListActive(ctx context.Context, userID string) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, app_device_id, public_key, platform, status, device_name, created_at, updated_at
		 FROM device_identities
		 WHERE user_id = ? AND status = 'active'
		 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing active devices: %w", err)
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		identity, err := scanIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	if identities == nil {
		identities = []Identity{}
	}
	return identities, nil
}

// queryOne runs a single-row identity query.
func (r *SQLiteRepository) queryOne(ctx context.Context, query string, args ...any) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	identity, err := scanIdentity(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return identity, nil
}

// scanIdentity scans a device identity row via the given scan function.
func scanIdentity(scan func(...any) error) (*Identity, error) {
	var d Identity
	var platform, status string
	var deviceName sql.NullString
	var createdAt, updatedAt string

	if err := scan(&d.ID, &d.UserID, &d.AppDeviceID, &d.PublicKey,
		&platform, &status, &deviceName, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device identity: %w", err)
	}

	d.Platform = Platform(platform)
	d.Status = Status(status)
	if deviceName.Valid {
		d.DeviceName = deviceName.String
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &d, nil
}

// nullString returns nil for empty strings, for nullable TEXT columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
