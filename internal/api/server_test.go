package api

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/unitkey/unitkey-core/internal/access"
	"github.com/unitkey/unitkey-core/internal/device"
	"github.com/unitkey/unitkey-core/internal/directory"
	"github.com/unitkey/unitkey-core/internal/infrastructure/config"
	"github.com/unitkey/unitkey-core/internal/infrastructure/logging"
	"github.com/unitkey/unitkey-core/internal/ledger"
	"github.com/unitkey/unitkey-core/internal/routepass"
	"github.com/unitkey/unitkey-core/internal/sharing"
)

const testSessionSecret = "test-session-secret-0123456789abcdef"

// testServer builds a server over a temp SQLite database with the full
// schema and seeded directory data.
func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
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
		CREATE TABLE facilities (id TEXT PRIMARY KEY, name TEXT NOT NULL, timezone TEXT NOT NULL DEFAULT 'UTC') STRICT;
		CREATE TABLE units (id TEXT PRIMARY KEY, facility_id TEXT NOT NULL, unit_number TEXT NOT NULL) STRICT;
		CREATE TABLE locks (id TEXT PRIMARY KEY, unit_id TEXT NOT NULL, name TEXT) STRICT;
		CREATE TABLE users (id TEXT PRIMARY KEY, display_name TEXT NOT NULL, email TEXT, phone TEXT, role TEXT NOT NULL DEFAULT 'tenant') STRICT;
		CREATE TABLE unit_assignments (unit_id TEXT NOT NULL, user_id TEXT NOT NULL, is_primary INTEGER NOT NULL DEFAULT 1, PRIMARY KEY (unit_id, user_id)) STRICT;
		CREATE TABLE device_identities (
			id TEXT PRIMARY KEY, user_id TEXT NOT NULL, app_device_id TEXT NOT NULL,
			public_key TEXT NOT NULL, platform TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'active',
			device_name TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE UNIQUE INDEX idx_device_identities_natural_key
			ON device_identities(user_id, app_device_id) WHERE status = 'active';
		CREATE TABLE key_sharing_grants (
			id TEXT PRIMARY KEY, unit_id TEXT NOT NULL, primary_tenant_id TEXT NOT NULL,
			shared_with_user_id TEXT NOT NULL, access_level TEXT NOT NULL DEFAULT 'full',
			shared_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			expires_at TEXT, granted_by TEXT, is_active INTEGER NOT NULL DEFAULT 1,
			notes TEXT, restrictions TEXT
		) STRICT;
		CREATE UNIQUE INDEX idx_key_sharing_grants_natural_key
			ON key_sharing_grants(unit_id, shared_with_user_id);
		CREATE TABLE route_pass_issuances (
			id TEXT PRIMARY KEY, user_id TEXT NOT NULL, device_id TEXT NOT NULL,
			audiences TEXT NOT NULL, jti TEXT NOT NULL UNIQUE,
			issued_at TEXT NOT NULL, expires_at TEXT NOT NULL
		) STRICT;

		INSERT INTO facilities (id, name) VALUES ('fac-1', 'Northside Storage');
		INSERT INTO units (id, facility_id, unit_number) VALUES ('unit-1', 'fac-1', 'A-101');
		INSERT INTO locks (id, unit_id) VALUES ('lock-1', 'unit-1');
		INSERT INTO users (id, display_name, email) VALUES ('user-owner', 'Alex Owner', 'alex@example.com');
		INSERT INTO users (id, display_name, email) VALUES ('user-friend', 'Sam Friend', 'sam@example.com');
		INSERT INTO unit_assignments (unit_id, user_id, is_primary) VALUES ('unit-1', 'user-owner', 1);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	logger := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
	dirRepo := directory.NewSQLiteRepository(db)
	deviceStore := device.NewStore(device.NewSQLiteRepository(db), 2)
	sharingRepo := sharing.NewSQLiteRepository(db)
	sharingLedger := sharing.NewLedger(sharingRepo, dirRepo, nil, logger.Logger)
	resolver := access.NewResolver(dirRepo, sharingRepo, nil, logger.Logger)
	historyRepo := ledger.NewSQLiteRepository(db, logger.Logger)

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 7
	}
	signer, err := routepass.NewSigner(seed)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	issuer := routepass.NewIssuer(signer, deviceStore, resolver, historyRepo, nil, nil, 5*time.Minute, logger.Logger)

	server, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{
			Session: config.SessionConfig{JWTSecret: testSessionSecret},
		},
		Logger:    logger,
		Devices:   deviceStore,
		Sharing:   sharingLedger,
		Issuer:    issuer,
		History:   historyRepo,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return server, server.buildRouter()
}

// sessionToken mints a platform session JWT for tests.
func sessionToken(t *testing.T, userID, role string, facilityIDs []string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role:        role,
		FacilityIDs: facilityIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSessionSecret))
	if err != nil {
		t.Fatalf("signing session token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func testKey(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestAuthRequired(t *testing.T) {
	_, handler := testServer(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	bad := sessionToken(t, "user-owner", "tenant", nil) + "tampered"
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/devices", bad, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", rec.Code)
	}
}

func TestDeviceRegistrationAndCap(t *testing.T) {
	_, handler := testServer(t)
	token := sessionToken(t, "user-owner", "tenant", nil)

	for i, name := range []string{"phone", "tablet"} {
		rec := doRequest(t, handler, http.MethodPost, "/api/v1/devices", token, registerDeviceRequest{
			AppDeviceID: name,
			PublicKey:   testKey(byte(i + 1)),
			Platform:    "ios",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("registering %s: expected 201, got %d: %s", name, rec.Code, rec.Body)
		}
	}

	// Cap is 2; a third distinct device conflicts with the current list.
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/devices", token, registerDeviceRequest{
		AppDeviceID: "laptop",
		PublicKey:   testKey(3),
		Platform:    "web",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 at cap, got %d", rec.Code)
	}
	var limit deviceLimitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &limit); err != nil {
		t.Fatalf("decoding conflict payload: %v", err)
	}
	if limit.MaxDevices != 2 || len(limit.Devices) != 2 {
		t.Errorf("conflict payload should list 2 devices with max 2, got %d/%d", len(limit.Devices), limit.MaxDevices)
	}

	// Same natural key is a rotation, not a new device.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/devices", token, registerDeviceRequest{
		AppDeviceID: "phone",
		PublicKey:   testKey(9),
		Platform:    "ios",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("rotation at cap should succeed, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRotateUnknownDevice(t *testing.T) {
	_, handler := testServer(t)
	token := sessionToken(t, "user-owner", "tenant", nil)

	rec := doRequest(t, handler, http.MethodPut, "/api/v1/devices/ghost/key", token,
		rotateKeyRequest{PublicKey: testKey(1)})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", rec.Code)
	}
}

func TestRequestPassFlow(t *testing.T) {
	server, handler := testServer(t)
	token := sessionToken(t, "user-owner", "tenant", nil)

	// No device registered yet.
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/passes", token, requestPassRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before device registration, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/devices", token, registerDeviceRequest{
		AppDeviceID: "phone",
		PublicKey:   testKey(1),
		Platform:    "ios",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("registering device: %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/passes", token, requestPassRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("requesting pass: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var pass passResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pass); err != nil {
		t.Fatalf("decoding pass: %v", err)
	}

	claims, err := server.issuer.Verify(pass.RoutePass)
	if err != nil {
		t.Fatalf("verifying issued pass: %v", err)
	}
	if claims.Subject != "user-owner" {
		t.Errorf("subject = %s, want user-owner", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "lock:lock-1" {
		t.Errorf("audiences = %v, want [lock:lock-1]", claims.Audience)
	}

	// History reflects the issuance.
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/passes/history", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reading history: %d", rec.Code)
	}
	var history struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if history.Total != 1 {
		t.Errorf("expected 1 history row, got %d", history.Total)
	}

	// Another user cannot read it.
	friendToken := sessionToken(t, "user-friend", "tenant", nil)
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/passes/history?user_id=user-owner", friendToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign history, got %d", rec.Code)
	}
}

func TestShareLifecycleOverHTTP(t *testing.T) {
	_, handler := testServer(t)
	ownerToken := sessionToken(t, "user-owner", "tenant", nil)
	friendToken := sessionToken(t, "user-friend", "tenant", nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shares", ownerToken, sharing.GrantRequest{
		UnitID:      "unit-1",
		GranteeID:   "user-friend",
		AccessLevel: sharing.AccessFull,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating share: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var grant sharing.Grant
	if err := json.Unmarshal(rec.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decoding grant: %v", err)
	}

	// The friend cannot grant on the owner's unit.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shares", friendToken, sharing.GrantRequest{
		UnitID:      "unit-1",
		GranteeID:   "user-owner",
		AccessLevel: sharing.AccessFull,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider grant, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/shares/"+grant.ID, ownerToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoking share: expected 204, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/shares?unit_id=unit-1", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("listing shares: %d", rec.Code)
	}
	var list sharing.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Total != 0 {
		t.Errorf("default listing should hide revoked grants, got %d", list.Total)
	}
}
