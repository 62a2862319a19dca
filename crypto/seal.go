package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Seal is the private half of a rotatable signing authority. The private key
// never crosses the engine boundary; only public bytes and signatures do.
type Seal struct {
	priv ed25519.PrivateKey
}

// GenerateSeal creates a fresh ed25519 seal keypair.
func GenerateSeal() (*Seal, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Seal{priv: priv}, nil
}

// SealFromSeed derives a deterministic seal from arbitrary seed bytes. Seeds
// shorter than 32 bytes are stretched with SHA-256 first.
func SealFromSeed(seed []byte) *Seal {
	if len(seed) != ed25519.SeedSize {
		sum := sha256.Sum256(seed)
		seed = sum[:]
	}
	return &Seal{priv: ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])}
}

// SealFromPrivateBytes restores a seal from an exported private key.
func SealFromPrivateBytes(b []byte) (*Seal, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return &Seal{priv: ed25519.NewKeyFromSeed(b)}, nil
	case ed25519.PrivateKeySize:
		return &Seal{priv: ed25519.PrivateKey(append([]byte(nil), b...))}, nil
	default:
		return nil, fmt.Errorf("seal private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// PublicKeyBytes returns the raw 32-byte public half.
func (s *Seal) PublicKeyBytes() []byte {
	pub := s.priv.Public().(ed25519.PublicKey)
	return append([]byte(nil), pub...)
}

// Fingerprint returns the seal's stable public reference.
func (s *Seal) Fingerprint() string {
	return SealFingerprint(s.PublicKeyBytes())
}

// Sign produces a detached signature over the given message bytes.
func (s *Seal) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// ExportPrivate returns the seed bytes for secure storage.
func (s *Seal) ExportPrivate() []byte {
	return append([]byte(nil), s.priv.Seed()...)
}
