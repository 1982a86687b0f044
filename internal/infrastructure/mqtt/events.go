package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Events publishes the typed security events this core emits. A nil *Events
// (bus disabled) is valid: every method becomes a no-op.
type Events struct {
	client *Client
}

// NewEvents wraps a connected client. client may be nil.
func NewEvents(client *Client) *Events {
	return &Events{client: client}
}

// DeviceRevokedEvent announces a revoked device identity.
type DeviceRevokedEvent struct {
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id"`
	RevokedBy string    `json:"revoked_by"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ShareRevokedEvent announces a revoked sharing grant.
type ShareRevokedEvent struct {
	GrantID   string    `json:"grant_id"`
	UnitID    string    `json:"unit_id"`
	GranteeID string    `json:"grantee_id"`
	RevokedBy string    `json:"revoked_by"`
	RevokedAt time.Time `json:"revoked_at"`
}

// PassIssuedEvent announces a route pass issuance.
type PassIssuedEvent struct {
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PublishDeviceRevoked emits a device revocation notice.
func (e *Events) PublishDeviceRevoked(_ context.Context, deviceID, userID, revokedBy string) error {
	return e.publish(TopicDeviceRevoked, DeviceRevokedEvent{
		DeviceID:  deviceID,
		UserID:    userID,
		RevokedBy: revokedBy,
		RevokedAt: time.Now().UTC(),
	})
}

// PublishShareRevoked emits a share revocation notice.
func (e *Events) PublishShareRevoked(_ context.Context, grantID, unitID, granteeID, revokedBy string) error {
	return e.publish(TopicShareRevoked, ShareRevokedEvent{
		GrantID:   grantID,
		UnitID:    unitID,
		GranteeID: granteeID,
		RevokedBy: revokedBy,
		RevokedAt: time.Now().UTC(),
	})
}

// PublishPassIssued emits an issuance notice. Satisfies the issuer's event
// sink.
func (e *Events) PublishPassIssued(_ context.Context, userID, deviceID, jti string, expiresAt time.Time) error {
	return e.publish(TopicPassIssued, PassIssuedEvent{
		UserID:    userID,
		DeviceID:  deviceID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	})
}

func (e *Events) publish(topic string, event any) error {
	if e == nil || e.client == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", topic, err)
	}
	return e.client.Publish(topic, payload, false)
}
