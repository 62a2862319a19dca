package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	encryptionKeySize = 32
	gcmNonceSize      = 12
	gcmTagSize        = 16
)

var (
	encryptionSalt = []byte("veilnet-encryption-salt")
	encryptionInfo = []byte("payload-encryption-key")
)

// DeriveEncryptionKey stretches raw seal private bytes into a stable AES-256
// key via HKDF-SHA256. The same seal always derives the same key, so a seal
// holder can decrypt payloads long after submission.
func DeriveEncryptionKey(sealPrivateBytes []byte) []byte {
	r := hkdf.New(sha256.New, sealPrivateBytes, encryptionSalt, encryptionInfo)
	key := make([]byte, encryptionKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(err)
	}
	return key
}

// EncryptionKey derives the payload encryption key bound to this seal.
func (s *Seal) EncryptionKey() []byte {
	return DeriveEncryptionKey(s.ExportPrivate())
}

// EncryptPayload seals plaintext with AES-256-GCM. The envelope layout is
// nonce || ciphertext || tag, which DecryptPayload expects back unchanged.
func EncryptPayload(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptPayload opens a nonce || ciphertext || tag envelope. A truncated
// buffer, a wrong key, or any bit flip reports an error.
func DecryptPayload(key, envelope []byte) ([]byte, error) {
	if len(envelope) < gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("encrypted payload too short: %d bytes", len(envelope))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, envelope[:gcmNonceSize], envelope[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}
