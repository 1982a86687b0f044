// Package device owns device identity registration for UnitKey Core.
//
// A device identity binds a user, an opaque client-supplied device id, and an
// Ed25519 public key. Route passes are pinned to the registered key, so
// possession of the matching private key is the real security boundary; the
// per-user device cap is a soft limit for hygiene, not enforcement.
//
// Registration and key rotation are the same operation keyed by
// (user, app device id): registering an already-known device updates its key
// in place. Revocation is terminal.
package device
