package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
)

// Verify reports whether signature is a valid signature over message under
// the seal public key. It is pure: no storage, no network, no clock. Invalid
// keys and malformed signatures report false rather than erroring so callers
// get a single verdict regardless of how the input is broken.
func Verify(message, signature, sealPublicKeyBytes []byte, keyType KeyType) bool {
	switch keyType {
	case KeyTypeEd25519:
		if len(sealPublicKeyBytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(sealPublicKeyBytes), message, signature)
	case KeyTypeRSA:
		parsed, err := x509.ParsePKIXPublicKey(sealPublicKeyBytes)
		if err != nil {
			return false
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha256.Sum256(message)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
	default:
		return false
	}
}
