package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unitkey/unitkey-core/internal/access"
	"github.com/unitkey/unitkey-core/internal/directory"
)

// Notifier delivers out-of-band share invites for contacts that do not
// resolve to a platform account yet.
type Notifier interface {
	SendShareInvite(ctx context.Context, contact, unitNumber, grantorName string) error
}

// Ledger is the key-sharing service: authorisation, invite resolution, and
// grant lifecycle on top of the repository.
type Ledger struct {
	repo      Repository
	directory directory.Repository
	notifier  Notifier
	logger    *slog.Logger
}

// NewLedger creates a sharing ledger. notifier may be nil, in which case
// invites for unknown contacts fail.
func NewLedger(repo Repository, dir directory.Repository, notifier Notifier, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:      repo,
		directory: dir,
		notifier:  notifier,
		logger:    logger.With("component", "sharing"),
	}
}

// GrantRequest carries the fields of a new or reactivated grant.
type GrantRequest struct {
	UnitID       string         `json:"unit_id"`
	GranteeID    string         `json:"grantee_id"`
	AccessLevel  AccessLevel    `json:"access_level"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Restrictions map[string]any `json:"restrictions,omitempty"`
}

// InviteRequest carries a contact-addressed invite.
type InviteRequest struct {
	UnitID       string         `json:"unit_id"`
	Contact      string         `json:"contact"`
	AccessLevel  AccessLevel    `json:"access_level"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Restrictions map[string]any `json:"restrictions,omitempty"`
}

// UpdateRequest carries the mutable fields of an existing grant. Nil fields
// are left unchanged; ClearExpiry removes an expiry.
type UpdateRequest struct {
	AccessLevel  *AccessLevel   `json:"access_level,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	ClearExpiry  bool           `json:"clear_expiry,omitempty"`
	Notes        *string        `json:"notes,omitempty"`
	Restrictions map[string]any `json:"restrictions,omitempty"`
}

// Grant creates or reactivates a sharing grant on a unit. The caller must be
// the unit's primary tenant or an administrator whose scope covers the
// facility. Inviting a pair that already has a revoked row reactivates that
// row under its original id.
func (l *Ledger) Grant(ctx context.Context, identity access.Identity, req GrantRequest) (*Grant, error) {
	if !IsValidAccessLevel(req.AccessLevel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccessLevel, req.AccessLevel)
	}

	primaryTenantID, err := l.authorizeManage(ctx, identity, req.UnitID)
	if err != nil {
		return nil, err
	}

	if req.GranteeID == primaryTenantID {
		return nil, ErrSelfShare
	}
	if _, err := l.directory.GetUser(ctx, req.GranteeID); err != nil {
		return nil, err
	}

	grant := &Grant{
		UnitID:           req.UnitID,
		PrimaryTenantID:  primaryTenantID,
		SharedWithUserID: req.GranteeID,
		AccessLevel:      req.AccessLevel,
		ExpiresAt:        req.ExpiresAt,
		Notes:            req.Notes,
		Restrictions:     req.Restrictions,
	}
	if identity.UserID != primaryTenantID {
		grant.GrantedBy = identity.UserID
	}

	if err := l.repo.Upsert(ctx, grant); err != nil {
		return nil, err
	}

	l.logger.Info("sharing grant written",
		"grant_id", grant.ID,
		"unit_id", grant.UnitID,
		"grantee_id", grant.SharedWithUserID,
		"access_level", grant.AccessLevel)

	return grant, nil
}

// Invite shares a unit with a contact identifier. When the contact resolves
// to an existing user the grant is written immediately; otherwise the invite
// is handed to the notification collaborator and reported as pending.
func (l *Ledger) Invite(ctx context.Context, identity access.Identity, req InviteRequest) (*InviteResult, error) {
	if !IsValidAccessLevel(req.AccessLevel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccessLevel, req.AccessLevel)
	}

	grantee, err := l.directory.FindUserByContact(ctx, req.Contact)
	if err == nil {
		grant, err := l.Grant(ctx, identity, GrantRequest{
			UnitID:       req.UnitID,
			GranteeID:    grantee.ID,
			AccessLevel:  req.AccessLevel,
			ExpiresAt:    req.ExpiresAt,
			Notes:        req.Notes,
			Restrictions: req.Restrictions,
		})
		if err != nil {
			return nil, err
		}
		return &InviteResult{Grant: grant}, nil
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return nil, err
	}

	// Unknown contact: authorisation still runs before any side effect.
	if _, err := l.authorizeManage(ctx, identity, req.UnitID); err != nil {
		return nil, err
	}

	if l.notifier == nil {
		return nil, fmt.Errorf("inviting %s: no notification channel configured", req.Contact)
	}

	unit, err := l.directory.GetUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	grantor, err := l.directory.GetUser(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	if err := l.notifier.SendShareInvite(ctx, req.Contact, unit.UnitNumber, grantor.DisplayName); err != nil {
		return nil, fmt.Errorf("sending share invite: %w", err)
	}

	l.logger.Info("share invite sent out-of-band",
		"unit_id", req.UnitID,
		"contact", req.Contact)

	return &InviteResult{Pending: true, Contact: req.Contact}, nil
}

// Update modifies an existing grant's access level, expiry, notes, or
// restrictions. Managers only.
func (l *Ledger) Update(ctx context.Context, identity access.Identity, grantID string, req UpdateRequest) (*Grant, error) {
	grant, err := l.repo.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	if _, err := l.authorizeManage(ctx, identity, grant.UnitID); err != nil {
		return nil, err
	}

	if req.AccessLevel != nil {
		if !IsValidAccessLevel(*req.AccessLevel) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAccessLevel, *req.AccessLevel)
		}
		grant.AccessLevel = *req.AccessLevel
	}
	switch {
	case req.ClearExpiry:
		grant.ExpiresAt = nil
	case req.ExpiresAt != nil:
		grant.ExpiresAt = req.ExpiresAt
	}
	if req.Notes != nil {
		grant.Notes = *req.Notes
	}
	if req.Restrictions != nil {
		grant.Restrictions = req.Restrictions
	}

	if err := l.repo.Update(ctx, grant); err != nil {
		return nil, err
	}

	l.logger.Info("sharing grant updated", "grant_id", grant.ID, "unit_id", grant.UnitID)
	return grant, nil
}

// Revoke deactivates a grant. The unit's managers may revoke, and a grantee
// may revoke their own access.
func (l *Ledger) Revoke(ctx context.Context, identity access.Identity, grantID string) (*Grant, error) {
	grant, err := l.repo.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	if identity.UserID != grant.SharedWithUserID {
		if _, err := l.authorizeManage(ctx, identity, grant.UnitID); err != nil {
			return nil, err
		}
	}

	if err := l.repo.Revoke(ctx, grantID); err != nil {
		return nil, err
	}
	grant.IsActive = false

	l.logger.Info("sharing grant revoked",
		"grant_id", grant.ID,
		"unit_id", grant.UnitID,
		"grantee_id", grant.SharedWithUserID,
		"revoked_by", identity.UserID)

	return grant, nil
}

// List returns grants visible to the caller. Administrators see everything in
// scope; tenants are pinned to grants where they are grantor or grantee.
func (l *Ledger) List(ctx context.Context, identity access.Identity, filter Filter) (*ListResult, error) {
	if !identity.IsAdmin() && identity.Role != access.RoleFacilityAdmin {
		if filter.GrantorID == "" && filter.GranteeID == "" {
			filter.GrantorID = identity.UserID
		}
		if filter.GrantorID != identity.UserID && filter.GranteeID != identity.UserID {
			return nil, ErrAccessDenied
		}
	}
	return l.repo.List(ctx, filter)
}

// GetUnitRoster returns who holds access on a unit. Managers see the full
// roster; a grantee sees only their own grant rows.
func (l *Ledger) GetUnitRoster(ctx context.Context, identity access.Identity, unitID string, includeInactive bool) ([]GrantView, error) {
	_, err := l.authorizeManage(ctx, identity, unitID)
	if err == nil {
		return l.repo.ListForUnit(ctx, unitID, includeInactive, "")
	}
	if !errors.Is(err, ErrAccessDenied) {
		return nil, err
	}

	views, err := l.repo.ListForUnit(ctx, unitID, includeInactive, identity.UserID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrAccessDenied
	}
	return views, nil
}

// CheckAccess reports whether the user may open the unit right now: primary
// assignment, or an active grant that has not yet expired. A grant expiring
// exactly at now does not admit.
func (l *Ledger) CheckAccess(ctx context.Context, userID, unitID string, now time.Time) (bool, error) {
	primary, err := l.repo.IsPrimaryTenant(ctx, userID, unitID)
	if err != nil {
		return false, err
	}
	if primary {
		return true, nil
	}
	return l.repo.HasActiveGrant(ctx, userID, unitID, now)
}

// ListExpired returns active grants whose expiry has passed, for the external
// sweep job. Administrators only.
func (l *Ledger) ListExpired(ctx context.Context, identity access.Identity, now time.Time) ([]Grant, error) {
	if !identity.IsAdmin() {
		return nil, ErrAccessDenied
	}
	return l.repo.ListExpired(ctx, now)
}

// GetByID returns a grant visible to the caller: managers, the grantor, or
// the grantee.
func (l *Ledger) GetByID(ctx context.Context, identity access.Identity, grantID string) (*Grant, error) {
	grant, err := l.repo.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	if identity.UserID == grant.PrimaryTenantID || identity.UserID == grant.SharedWithUserID {
		return grant, nil
	}
	if _, err := l.authorizeManage(ctx, identity, grant.UnitID); err != nil {
		return nil, err
	}
	return grant, nil
}

// authorizeManage checks the caller may manage sharing on the unit and
// returns the unit's primary tenant id. Managers are the primary tenant and
// administrators whose scope covers the unit's facility.
func (l *Ledger) authorizeManage(ctx context.Context, identity access.Identity, unitID string) (string, error) {
	unit, err := l.directory.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}

	primaryTenantID, err := l.directory.PrimaryTenantOfUnit(ctx, unitID)
	if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
		return "", err
	}

	if primaryTenantID != "" && identity.UserID == primaryTenantID {
		return primaryTenantID, nil
	}
	if identity.AdminScopeCovers(unit.FacilityID) {
		if primaryTenantID == "" {
			return "", fmt.Errorf("unit %s has no primary tenant: %w", unitID, directory.ErrUserNotFound)
		}
		return primaryTenantID, nil
	}
	return "", ErrAccessDenied
}
