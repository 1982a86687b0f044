package directory

import "errors"

// Unit is a storage unit inside a facility.
type Unit struct {
	ID         string `json:"id"`
	FacilityID string `json:"facility_id"`
	UnitNumber string `json:"unit_number"`
}

// Lock is a physical lock controller attached to a unit.
type Lock struct {
	ID     string `json:"id"`
	UnitID string `json:"unit_id"`
	Name   string `json:"name,omitempty"`
}

// User is a platform account as seen by this core: display data plus the
// contact identifiers used to resolve share invites.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Role        string `json:"role"`
}

// Sentinel errors for directory lookups.
var (
	ErrUnitNotFound = errors.New("unit not found")
	ErrUserNotFound = errors.New("user not found")
)
