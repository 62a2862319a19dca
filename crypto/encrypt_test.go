package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveEncryptionKeyDeterministic(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	first := DeriveEncryptionKey(seed)
	second := DeriveEncryptionKey(seed)
	if len(first) != 32 {
		t.Fatalf("key length = %d, want 32", len(first))
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("same seed derived different keys")
	}
	other := DeriveEncryptionKey([]byte("a different private seed entirely"))
	if bytes.Equal(first, other) {
		t.Fatalf("different seeds derived the same key")
	}
}

func TestSealEncryptionKeyMatchesExportedPrivate(t *testing.T) {
	seal := SealFromSeed([]byte("stable-test-seed"))
	if !bytes.Equal(seal.EncryptionKey(), DeriveEncryptionKey(seal.ExportPrivate())) {
		t.Fatalf("seal encryption key does not match derivation from exported private bytes")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveEncryptionKey([]byte("round-trip-seed"))
	plaintext := []byte(`{"note":"sealed contents"}`)

	envelope, err := EncryptPayload(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(envelope, plaintext) {
		t.Fatalf("plaintext visible in envelope")
	}

	decrypted, err := DecryptPayload(key, envelope)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	key := DeriveEncryptionKey([]byte("nonce-seed"))
	first, err := EncryptPayload(key, []byte("same message"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := EncryptPayload(key, []byte("same message"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("two encryptions of the same message produced identical envelopes")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := DeriveEncryptionKey([]byte("tamper-seed"))
	envelope, err := EncryptPayload(key, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flipped := append([]byte(nil), envelope...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := DecryptPayload(key, flipped); err == nil {
		t.Fatalf("tampered envelope decrypted")
	}

	wrongKey := DeriveEncryptionKey([]byte("another-seed"))
	if _, err := DecryptPayload(wrongKey, envelope); err == nil {
		t.Fatalf("wrong key decrypted the envelope")
	}

	if _, err := DecryptPayload(key, envelope[:10]); err == nil {
		t.Fatalf("truncated envelope decrypted")
	}
}
