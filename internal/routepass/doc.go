// Package routepass issues and verifies route pass capability tokens:
// short-lived Ed25519-signed JWTs binding a user, their device public key,
// and the audience list resolved at issuance time.
//
// The signing key is process-wide state loaded once at startup and injected
// as an explicit Signer. Verification is stateless; it checks signature and
// expiry only, and leaves denylist consultation to the caller.
package routepass
