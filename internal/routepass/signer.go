package routepass

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Signer holds the process-wide Ed25519 signing key pair. Constructed once
// at startup and injected into the Issuer; lifecycle equals process lifetime.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// LoadSigner reads a base64-encoded raw 32-byte Ed25519 seed from the given
// file and derives the key pair.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("reading signing key %s: %w", path, err)
	}

	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding signing key %s: %w", path, err)
	}
	return NewSigner(seed)
}

// NewSigner derives the key pair from a raw Ed25519 seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	private := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey), //nolint:forcetypeassert // ed25519 public key by construction
	}, nil
}

// Private returns the signing key.
func (s *Signer) Private() ed25519.PrivateKey {
	return s.private
}

// Public returns the verification key, for distribution to lock controllers.
func (s *Signer) Public() ed25519.PublicKey {
	return s.public
}

// PublicBase64 returns the verification key as base64 raw bytes, the format
// used for device keys throughout the system.
func (s *Signer) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}
