package device

import (
	"context"
	"errors"
	"testing"
)

func TestStore_RegisterNewDevice(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	identity, err := store.RegisterOrRotate(ctx, user, "phone-abc", testPublicKey(1), PlatformIOS, "Alice's iPhone")
	if err != nil {
		t.Fatalf("RegisterOrRotate() error = %v", err)
	}

	if identity.ID == "" {
		t.Fatal("RegisterOrRotate() should generate an ID")
	}
	if identity.Status != StatusActive {
		t.Errorf("Status = %q, want active", identity.Status)
	}
	if identity.AppDeviceID != "phone-abc" {
		t.Errorf("AppDeviceID = %q, want phone-abc", identity.AppDeviceID)
	}
}

func TestStore_RegisterIsRotationForKnownDevice(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	first, err := store.RegisterOrRotate(ctx, user, "phone-abc", testPublicKey(1), PlatformIOS, "Alice's iPhone")
	if err != nil {
		t.Fatalf("first RegisterOrRotate() error = %v", err)
	}

	second, err := store.RegisterOrRotate(ctx, user, "phone-abc", testPublicKey(2), PlatformIOS, "Alice's iPhone")
	if err != nil {
		t.Fatalf("second RegisterOrRotate() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("rotation should reuse the record: got id %q, want %q", second.ID, first.ID)
	}
	if second.PublicKey != testPublicKey(2) {
		t.Error("rotation should replace the public key")
	}

	count, err := store.CountActive(ctx, user)
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountActive() = %d, want 1 after re-registering the same device", count)
	}
}

func TestStore_DeviceCapEnforced(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 2)
	ctx := context.Background()

	for i, deviceID := range []string{"phone-1", "phone-2"} {
		if _, err := store.RegisterOrRotate(ctx, user, deviceID, testPublicKey(byte(i+1)), PlatformAndroid, ""); err != nil {
			t.Fatalf("registering device %s: %v", deviceID, err)
		}
	}

	_, err := store.RegisterOrRotate(ctx, user, "phone-3", testPublicKey(9), PlatformAndroid, "")
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("third registration error = %v, want *LimitError", err)
	}

	if limitErr.Max != 2 {
		t.Errorf("LimitError.Max = %d, want 2", limitErr.Max)
	}
	if len(limitErr.Devices) != 2 {
		t.Errorf("LimitError.Devices has %d entries, want 2", len(limitErr.Devices))
	}
}

func TestStore_CapDoesNotBlockRotation(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 1)
	ctx := context.Background()

	if _, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(1), PlatformIOS, ""); err != nil {
		t.Fatalf("registering device: %v", err)
	}

	// Re-registering the same device is rotation, not a new registration.
	if _, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(2), PlatformIOS, ""); err != nil {
		t.Errorf("rotation with a full cap should succeed, got %v", err)
	}
}

func TestStore_CapZeroIsUnlimited(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	repo := &countingRepository{Repository: NewSQLiteRepository(db)}
	store := NewStore(repo, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		deviceID := "device-" + string(rune('a'+i))
		if _, err := store.RegisterOrRotate(ctx, user, deviceID, testPublicKey(byte(i+1)), PlatformWeb, ""); err != nil {
			t.Fatalf("registering device %s: %v", deviceID, err)
		}
	}

	// Cap 0 must skip both the count check and the device-listing side effect.
	if repo.countCalls != 0 {
		t.Errorf("CountActive called %d times, want 0 with cap disabled", repo.countCalls)
	}
	if repo.listCalls != 0 {
		t.Errorf("ListActive called %d times, want 0 with cap disabled", repo.listCalls)
	}
}

func TestStore_RotateKeyRequiresExistingDevice(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	_, err := store.RotateKey(ctx, user, "never-registered", testPublicKey(1))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("RotateKey() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStore_RotateKeyUpdatesInPlace(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	created, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(1), PlatformIOS, "phone")
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}

	rotated, err := store.RotateKey(ctx, user, "phone-1", testPublicKey(7))
	if err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}

	if rotated.ID != created.ID {
		t.Errorf("RotateKey() id = %q, want %q", rotated.ID, created.ID)
	}
	if rotated.PublicKey != testPublicKey(7) {
		t.Error("RotateKey() should replace the public key")
	}
}

func TestStore_RevokeIsIdempotent(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	identity, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(1), PlatformIOS, "")
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}

	if err := store.Revoke(ctx, identity.ID); err != nil {
		t.Fatalf("first Revoke() error = %v", err)
	}
	if err := store.Revoke(ctx, identity.ID); err != nil {
		t.Errorf("second Revoke() error = %v, want nil (idempotent)", err)
	}

	got, err := store.GetByID(ctx, identity.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusRevoked {
		t.Errorf("Status = %q, want revoked", got.Status)
	}
}

func TestStore_RevokedDeviceFreesNaturalKey(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	first, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(1), PlatformIOS, "")
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}
	if err := store.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("revoking device: %v", err)
	}

	// A fresh registration for the same app device id creates a new record;
	// the revoked one stays for audit.
	second, err := store.RegisterOrRotate(ctx, user, "phone-1", testPublicKey(2), PlatformIOS, "")
	if err != nil {
		t.Fatalf("re-registering after revoke: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-registration after revoke should create a new record")
	}
}

func TestStore_RejectsBadKeyAndPlatform(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "user-1")
	store := NewStore(NewSQLiteRepository(db), 5)
	ctx := context.Background()

	if _, err := store.RegisterOrRotate(ctx, user, "d1", "not-base64!!!", PlatformIOS, ""); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("bad encoding error = %v, want ErrInvalidPublicKey", err)
	}

	shortKey := testPublicKey(1)[:20]
	if _, err := store.RegisterOrRotate(ctx, user, "d1", shortKey, PlatformIOS, ""); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("short key error = %v, want ErrInvalidPublicKey", err)
	}

	if _, err := store.RegisterOrRotate(ctx, user, "d1", testPublicKey(1), Platform("windows"), ""); !errors.Is(err, ErrInvalidPlatform) {
		t.Errorf("bad platform error = %v, want ErrInvalidPlatform", err)
	}
}

// countingRepository wraps a Repository and counts cap-related calls.
type countingRepository struct {
	Repository
	countCalls int
	listCalls  int
}

func (r *countingRepository) CountActive(ctx context.Context, userID string) (int, error) {
	r.countCalls++
	return r.Repository.CountActive(ctx, userID)
}

func (r *countingRepository) ListActive(ctx context.Context, userID string) ([]Identity, error) {
	r.listCalls++
	return r.Repository.ListActive(ctx, userID)
}
