package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"testing"
)

func TestIdentityFingerprintDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	first := IdentityFingerprint(pub)
	second := IdentityFingerprint(pub)
	if first != second {
		t.Fatalf("fingerprint not deterministic: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, IdentityFingerprintPrefix) {
		t.Fatalf("fingerprint %q missing %q prefix", first, IdentityFingerprintPrefix)
	}
	if got := len(first) - len(IdentityFingerprintPrefix); got != 16 {
		t.Fatalf("fingerprint hex length = %d, want 16", got)
	}
}

func TestSealFingerprintDistinctFromIdentity(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	idFP := IdentityFingerprint(pub)
	sealFP := SealFingerprint(pub)
	if !strings.HasPrefix(sealFP, SealFingerprintPrefix) {
		t.Fatalf("seal fingerprint %q missing %q prefix", sealFP, SealFingerprintPrefix)
	}
	// Seal fingerprints double-hash, so the same key material must never
	// collide with its identity fingerprint.
	if strings.TrimPrefix(idFP, IdentityFingerprintPrefix) == strings.TrimPrefix(sealFP, SealFingerprintPrefix) {
		t.Fatalf("identity and seal fingerprints collide for the same key")
	}
}

func TestValidatePublicKey(t *testing.T) {
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519: %v", err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa: %v", err)
	}
	rsaDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal rsa: %v", err)
	}

	cases := []struct {
		name    string
		pub     []byte
		keyType KeyType
		wantErr bool
	}{
		{"ed25519 ok", edPub, KeyTypeEd25519, false},
		{"rsa ok", rsaDER, KeyTypeRSA, false},
		{"ed25519 wrong size", edPub[:16], KeyTypeEd25519, true},
		{"rsa garbage", []byte("not a key"), KeyTypeRSA, true},
		{"empty", nil, KeyTypeEd25519, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePublicKey(tc.pub, tc.keyType)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseKeyType(t *testing.T) {
	if kt, err := ParseKeyType("ed25519"); err != nil || kt != KeyTypeEd25519 {
		t.Fatalf("ParseKeyType(ed25519) = %v, %v", kt, err)
	}
	if kt, err := ParseKeyType("RSA"); err != nil || kt != KeyTypeRSA {
		t.Fatalf("ParseKeyType(RSA) = %v, %v", kt, err)
	}
	if _, err := ParseKeyType("dsa"); err == nil {
		t.Fatalf("expected error for unsupported key type")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	addr := AddressFromPublicKey(pub)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressHRP+"1") {
		t.Fatalf("address %q missing %q prefix", encoded, AddressHRP)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip mismatch: %x vs %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("veil1notanaddress"); err == nil {
		t.Fatalf("expected decode failure")
	}
	if _, err := DecodeAddress(""); err == nil {
		t.Fatalf("expected decode failure for empty string")
	}
}
