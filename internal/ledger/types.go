package ledger

import (
	"errors"
	"time"
)

// Issuance is one route pass issuance event. Immutable once written.
type Issuance struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Audiences []string  `json:"audiences"`
	JTI       string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HistoryFilter bounds a history query.
type HistoryFilter struct {
	Start  *time.Time
	End    *time.Time
	Limit  int // default 50, max 200
	Offset int
}

// ErrNoIssuance is returned when a user has no issuance on record.
var ErrNoIssuance = errors.New("no issuance recorded for user")
