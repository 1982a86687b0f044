package access

// Role is the authorisation tier of a caller, carried in the session context
// minted by the platform's identity service.
type Role string

const (
	// RoleAdmin has global reach: every lock in every facility.
	RoleAdmin Role = "admin"

	// RoleFacilityAdmin is scoped to the facilities in Identity.FacilityIDs.
	RoleFacilityAdmin Role = "facility_admin"

	// RoleTenant sees locks through unit assignments and sharing grants.
	RoleTenant Role = "tenant"

	// RoleMaintenance is facility-scoped service staff.
	RoleMaintenance Role = "maintenance"
)

// IsValidRole returns true for a known role value.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleFacilityAdmin, RoleTenant, RoleMaintenance:
		return true
	}
	return false
}

// Identity is the session context of a caller: who they are, their role,
// and the facilities their role is scoped to. It is consumed from the
// platform session token, never derived here.
type Identity struct {
	UserID      string
	Role        Role
	FacilityIDs []string
}

// IsAdmin returns true for the global administrator role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// AdminScopeCovers returns true if the identity is a global admin, or a
// facility admin whose scope includes the given facility.
func (id Identity) AdminScopeCovers(facilityID string) bool {
	if id.Role == RoleAdmin {
		return true
	}
	if id.Role != RoleFacilityAdmin {
		return false
	}
	for _, f := range id.FacilityIDs {
		if f == facilityID {
			return true
		}
	}
	return false
}
