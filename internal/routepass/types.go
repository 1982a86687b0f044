package routepass

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the route pass claim set. The device public key is pinned at
// issuance so lock controllers can challenge the holder without a directory
// lookup.
type Claims struct {
	DevicePublicKey string `json:"device_pubkey"`
	jwt.RegisteredClaims
}

// Pass is an issued route pass: the signed token plus the claims it carries.
type Pass struct {
	Token     string `json:"route_pass"`
	Claims    Claims `json:"-"`
	DeviceID  string `json:"device_id"`
	Audiences int    `json:"audience_count"`
}

// Sentinel errors for issuance and verification.
var (
	ErrDeviceNotRegistered = errors.New("no registered device for user")
	ErrUnknownDevice       = errors.New("targeted device is not registered")
	ErrInvalidSignature    = errors.New("route pass signature is invalid")
	ErrExpired             = errors.New("route pass has expired")
	ErrMalformed           = errors.New("route pass is malformed")
)
