package crypto

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// KeyType enumerates the public key algorithms an identity may register with.
type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeEd25519 KeyType = "ed25519"
)

const (
	// IdentityFingerprintPrefix tags identity fingerprints on the wire.
	IdentityFingerprintPrefix = "veilpk:"
	// SealFingerprintPrefix tags seal fingerprints on the wire.
	SealFingerprintPrefix = "veilseal:"

	fingerprintHexLen = 16
)

// ParseKeyType normalises a key type string, rejecting unknown algorithms.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(strings.ToLower(strings.TrimSpace(s))) {
	case KeyTypeRSA:
		return KeyTypeRSA, nil
	case KeyTypeEd25519:
		return KeyTypeEd25519, nil
	default:
		return "", fmt.Errorf("unsupported key type %q", s)
	}
}

// IdentityFingerprint derives the permanent identity fingerprint from raw
// public key bytes. The derivation is a pure function of the input: the same
// key bytes always produce the same fingerprint.
func IdentityFingerprint(publicKeyBytes []byte) string {
	sum := sha256.Sum256(publicKeyBytes)
	return IdentityFingerprintPrefix + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// SealFingerprint derives a seal's stable reference from its public key
// bytes. Seals use a double hash so a seal fingerprint can never collide with
// an identity fingerprint computed over the same bytes.
func SealFingerprint(sealPublicKeyBytes []byte) string {
	first := sha256.Sum256(sealPublicKeyBytes)
	second := sha256.Sum256(first[:])
	return SealFingerprintPrefix + hex.EncodeToString(second[:])[:fingerprintHexLen]
}

// ValidatePublicKey checks that the raw key bytes parse under the declared
// algorithm. Ed25519 keys are raw 32-byte points; RSA keys are PKIX DER.
func ValidatePublicKey(publicKeyBytes []byte, keyType KeyType) error {
	switch keyType {
	case KeyTypeEd25519:
		if len(publicKeyBytes) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
		}
		return nil
	case KeyTypeRSA:
		parsed, err := x509.ParsePKIXPublicKey(publicKeyBytes)
		if err != nil {
			return fmt.Errorf("parse rsa public key: %w", err)
		}
		if _, ok := parsed.(*rsa.PublicKey); !ok {
			return fmt.Errorf("public key is not rsa")
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type %q", keyType)
	}
}

// --- Display addresses ---

// AddressHRP is the human-readable prefix for bech32 display addresses.
const AddressHRP = "veil"

// Address is a 20-byte display handle derived from an identity's public key.
// It is presentation only; the fingerprint remains the canonical reference.
type Address struct {
	bytes []byte
}

func NewAddress(b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{bytes: b}
}

// AddressFromPublicKey derives the display address for raw public key bytes.
func AddressFromPublicKey(publicKeyBytes []byte) Address {
	sum := sha256.Sum256(publicKeyBytes)
	return NewAddress(sum[:20])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

func DecodeAddress(addrStr string) (Address, error) {
	hrp, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if hrp != AddressHRP {
		return Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(conv), nil
}
