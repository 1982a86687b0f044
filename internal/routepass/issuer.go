package routepass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/unitkey/unitkey-core/internal/access"
	"github.com/unitkey/unitkey-core/internal/device"
	"github.com/unitkey/unitkey-core/internal/ledger"
)

// DeviceSource supplies the caller's registered devices. Implemented by the
// device store.
type DeviceSource interface {
	GetActive(ctx context.Context, userID, appDeviceID string) (*device.Identity, error)
	ListForUser(ctx context.Context, userID string) ([]device.Identity, error)
}

// AudienceResolver computes the audiences an identity may hold. Implemented
// by the access resolver.
type AudienceResolver interface {
	Resolve(ctx context.Context, identity access.Identity, now time.Time) ([]string, error)
}

// Recorder appends issuance records to the audit ledger.
type Recorder interface {
	Create(ctx context.Context, issuance *ledger.Issuance) error
}

// EventSink publishes issuance notices for external consumers (denylist
// distribution, monitoring). Nil-safe at the Issuer level.
type EventSink interface {
	PublishPassIssued(ctx context.Context, userID, deviceID, jti string, expiresAt time.Time) error
}

// MetricSink records issuance measurements. Nil-safe at the Issuer level.
type MetricSink interface {
	RecordIssuance(userID, role string, audienceCount int)
}

// Issuer signs route passes over resolved audiences and a bound device key.
type Issuer struct {
	signer   *Signer
	devices  DeviceSource
	resolver AudienceResolver
	recorder Recorder
	events   EventSink
	metrics  MetricSink
	ttl      time.Duration
	logger   *slog.Logger
}

// NewIssuer creates a capability issuer. events and metrics may be nil.
func NewIssuer(signer *Signer, devices DeviceSource, resolver AudienceResolver,
	recorder Recorder, events EventSink, metrics MetricSink,
	ttl time.Duration, logger *slog.Logger,
) *Issuer {
	return &Issuer{
		signer:   signer,
		devices:  devices,
		resolver: resolver,
		recorder: recorder,
		events:   events,
		metrics:  metrics,
		ttl:      ttl,
		logger:   logger.With("component", "routepass"),
	}
}

// Issue signs a route pass for the identity. targetAppDeviceID selects one
// of the caller's registered devices; empty selects the most recently used
// one. The device must exist before any resolution runs. An empty audience
// list still yields a valid token.
//
// Side effects after signing (the ledger append, the issuance event, the
// metric) are logged on failure but never fail the call: the token is
// already signed and belongs to the caller.
func (i *Issuer) Issue(ctx context.Context, identity access.Identity, targetAppDeviceID string) (*Pass, error) {
	dev, err := i.selectDevice(ctx, identity.UserID, targetAppDeviceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	audiences, err := i.resolver.Resolve(ctx, identity, now)
	if err != nil {
		return nil, fmt.Errorf("resolving audiences: %w", err)
	}

	expiresAt := now.Add(i.ttl)
	claims := Claims{
		DevicePublicKey: dev.PublicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Audience:  audiences,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.signer.Private())
	if err != nil {
		return nil, fmt.Errorf("signing route pass: %w", err)
	}

	i.recordIssuance(ctx, identity, dev, claims, audiences, now, expiresAt)

	return &Pass{
		Token:     token,
		Claims:    claims,
		DeviceID:  dev.ID,
		Audiences: len(audiences),
	}, nil
}

// Verify checks a route pass signature and expiry and returns its claims.
// Stateless: the issuance ledger and any denylist are not consulted.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrMalformed, t.Header["alg"])
		}
		return i.signer.Public(), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return claims, nil
}

// selectDevice pins the device a pass is issued for. An explicit target that
// misses is ErrUnknownDevice; no registered device at all is
// ErrDeviceNotRegistered. Both abort before resolution.
func (i *Issuer) selectDevice(ctx context.Context, userID, targetAppDeviceID string) (*device.Identity, error) {
	if targetAppDeviceID != "" {
		dev, err := i.devices.GetActive(ctx, userID, targetAppDeviceID)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, targetAppDeviceID)
			}
			return nil, err
		}
		return dev, nil
	}

	devices, err := i.devices.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotRegistered
	}

	latest := devices[0]
	for _, d := range devices[1:] {
		if d.UpdatedAt.After(latest.UpdatedAt) {
			latest = d
		}
	}
	return &latest, nil
}

// recordIssuance runs the post-signing side effects. Failures are logged,
// never returned.
func (i *Issuer) recordIssuance(ctx context.Context, identity access.Identity, dev *device.Identity,
	claims Claims, audiences []string, issuedAt, expiresAt time.Time,
) {
	err := i.recorder.Create(ctx, &ledger.Issuance{
		UserID:    identity.UserID,
		DeviceID:  dev.ID,
		Audiences: audiences,
		JTI:       claims.ID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		i.logger.Error("issuance ledger write failed",
			"user_id", identity.UserID,
			"jti", claims.ID,
			"error", err)
	}

	if i.events != nil {
		if err := i.events.PublishPassIssued(ctx, identity.UserID, dev.ID, claims.ID, expiresAt); err != nil {
			i.logger.Warn("issuance event publish failed",
				"jti", claims.ID,
				"error", err)
		}
	}
	if i.metrics != nil {
		i.metrics.RecordIssuance(identity.UserID, string(identity.Role), len(audiences))
	}
}
