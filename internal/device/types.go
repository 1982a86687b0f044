package device

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Platform identifies the client platform a device identity belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// IsValidPlatform returns true for a known platform value.
func IsValidPlatform(p Platform) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// Status is the lifecycle state of a device identity.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Identity is a registered device: a public key bound to a user and an
// opaque client-supplied device identifier.
type Identity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AppDeviceID string    `json:"app_device_id"`
	PublicKey   string    `json:"public_key"`
	Platform    Platform  `json:"platform"`
	Status      Status    `json:"status"`
	DeviceName  string    `json:"device_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ed25519PublicKeySize is the raw byte length of an Ed25519 public key.
const ed25519PublicKeySize = 32

// ValidatePublicKey checks that a public key is base64-encoded raw Ed25519
// key material.
func ValidatePublicKey(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: not valid base64", ErrInvalidPublicKey)
	}
	if len(raw) != ed25519PublicKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), ed25519PublicKeySize)
	}
	return nil
}

// Sentinel errors for device operations.
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidPlatform  = errors.New("invalid platform")
)

// LimitError is returned when registering a new device would exceed the
// per-user cap. It carries the caller's current device list and the
// configured maximum so clients can prompt the user to revoke an old device.
type LimitError struct {
	Devices []Identity
	Max     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("device limit reached: %d of %d devices registered", len(e.Devices), e.Max)
}
