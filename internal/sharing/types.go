package sharing

import (
	"errors"
	"time"
)

// AccessLevel describes the breadth of a sharing grant.
type AccessLevel string

const (
	AccessFull      AccessLevel = "full"
	AccessLimited   AccessLevel = "limited"
	AccessTemporary AccessLevel = "temporary"
)

// IsValidAccessLevel returns true for a known access level.
func IsValidAccessLevel(l AccessLevel) bool {
	switch l {
	case AccessFull, AccessLimited, AccessTemporary:
		return true
	}
	return false
}

// Grant is a delegation of unit access from the primary tenant (or an
// administrator acting for them) to another user.
type Grant struct {
	ID               string         `json:"id"`
	UnitID           string         `json:"unit_id"`
	PrimaryTenantID  string         `json:"primary_tenant_id"`
	SharedWithUserID string         `json:"shared_with_user_id"`
	AccessLevel      AccessLevel    `json:"access_level"`
	SharedAt         time.Time      `json:"shared_at"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	GrantedBy        string         `json:"granted_by,omitempty"`
	IsActive         bool           `json:"is_active"`
	Notes            string         `json:"notes,omitempty"`
	Restrictions     map[string]any `json:"restrictions,omitempty"`
}

// ExpiredAt reports whether the grant's expiry has passed at the given
// instant. A grant expiring exactly at now is already expired; a nil expiry
// never expires.
func (g *Grant) ExpiredAt(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// GrantView is a grant enriched with display fields joined from the
// directory, for listing endpoints.
type GrantView struct {
	Grant
	UnitNumber   string `json:"unit_number"`
	FacilityName string `json:"facility_name"`
	GrantorName  string `json:"grantor_name"`
	GrantorEmail string `json:"grantor_email,omitempty"`
	GranteeName  string `json:"grantee_name"`
	GranteeEmail string `json:"grantee_email,omitempty"`
}

// Filter controls which grants List returns.
type Filter struct {
	UnitID      string
	GrantorID   string
	GranteeID   string
	AccessLevel AccessLevel

	// IsActive filters on the active flag. Nil applies the default:
	// active grants only. Callers must ask explicitly for revoked history.
	IsActive *bool

	Limit  int // default 50, max 200
	Offset int
}

// ListResult contains a page of grants.
type ListResult struct {
	Grants []GrantView `json:"grants"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// InviteResult is the outcome of a contact-based invite. Either the contact
// resolved to an existing user and a grant was written, or the invite was
// handed to the notification collaborator for out-of-band delivery.
type InviteResult struct {
	Grant   *Grant `json:"grant,omitempty"`
	Pending bool   `json:"pending"`
	Contact string `json:"contact,omitempty"`
}

// Sentinel errors for sharing operations.
var (
	ErrGrantNotFound      = errors.New("sharing grant not found")
	ErrAccessDenied       = errors.New("not authorised to manage sharing for this unit")
	ErrInvalidAccessLevel = errors.New("invalid access level")
	ErrSelfShare          = errors.New("cannot share a unit with its primary tenant")
)
