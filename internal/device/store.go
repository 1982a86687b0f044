package device

import (
	"context"
	"errors"
	"fmt"
)

// Store applies device registration policy on top of the repository:
// natural-key upsert semantics and the per-user device cap.
type Store struct {
	repo       Repository
	maxPerUser int
}

// NewStore creates a device identity store. maxPerUser of 0 disables the cap.
func NewStore(repo Repository, maxPerUser int) *Store {
	return &Store{repo: repo, maxPerUser: maxPerUser}
}

// RegisterOrRotate registers a device key, or rotates it if the (user, app
// device id) pair is already registered. Registration and rotation are the
// same operation keyed by the natural key.
//
// For a first-time registration with a positive cap, the active-device count
// is checked first; on breach the returned *LimitError carries the user's
// current devices and the cap. With cap 0 neither the count nor the listing
// query runs.
//
// The cap is a soft limit: concurrent first-time registrations may slip one
// device past it. The security boundary is key possession, not the count.
func (s *Store) RegisterOrRotate(ctx context.Context, userID, appDeviceID, publicKey string, platform Platform, deviceName string) (*Identity, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	if !IsValidPlatform(platform) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatform, platform)
	}

	existing, err := s.repo.GetActive(ctx, userID, appDeviceID)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	if existing != nil {
		if err := s.repo.UpdateKey(ctx, existing.ID, publicKey, deviceName); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, existing.ID)
	}

	if s.maxPerUser > 0 {
		count, err := s.repo.CountActive(ctx, userID)
		if err != nil {
			return nil, err
		}
		if count >= s.maxPerUser {
			devices, err := s.repo.ListActive(ctx, userID)
			if err != nil {
				return nil, err
			}
			return nil, &LimitError{Devices: devices, Max: s.maxPerUser}
		}
	}

	identity := &Identity{
		UserID:      userID,
		AppDeviceID: appDeviceID,
		PublicKey:   publicKey,
		Platform:    platform,
		Status:      StatusActive,
		DeviceName:  deviceName,
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// RotateKey replaces the key of an existing registration. Unlike
// RegisterOrRotate it never creates: an unknown (user, app device id) pair
// fails with ErrDeviceNotFound.
func (s *Store) RotateKey(ctx context.Context, userID, appDeviceID, newPublicKey string) (*Identity, error) {
	if err := ValidatePublicKey(newPublicKey); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetActive(ctx, userID, appDeviceID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateKey(ctx, existing.ID, newPublicKey, ""); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, existing.ID)
}

// Revoke marks a device as revoked. Idempotent.
func (s *Store) Revoke(ctx context.Context, deviceID string) error {
	return s.repo.Revoke(ctx, deviceID)
}

// GetByID returns a device identity by id.
func (s *Store) GetByID(ctx context.Context, deviceID string) (*Identity, error) {
	return s.repo.GetByID(ctx, deviceID)
}

// GetActive returns the active identity for a (user, app device id) pair.
func (s *Store) GetActive(ctx context.Context, userID, appDeviceID string) (*Identity, error) {
	return s.repo.GetActive(ctx, userID, appDeviceID)
}

// ListForUser returns the user's active devices.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Identity, error) {
	return s.repo.ListActive(ctx, userID)
}

// CountActive returns the number of active devices for a user.
func (s *Store) CountActive(ctx context.Context, userID string) (int, error) {
	return s.repo.CountActive(ctx, userID)
}
