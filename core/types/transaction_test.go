package types

import (
	"bytes"
	"strings"
	"testing"
)

func buildTransfer(nonce uint64, data map[string]any) *Transaction {
	return &Transaction{
		Nonce: nonce,
		Payload: Payload{
			Type:      PayloadTokenTransfer,
			Data:      data,
			Timestamp: 1700000000,
		},
		PublicKey:       "veilpk:0011223344556677",
		SealFingerprint: "veilseal:8899aabbccddeeff",
		Version:         ProtocolVersion,
	}
}

func TestSigningBytesCanonical(t *testing.T) {
	// Two maps built in opposite insertion order must serialize identically.
	first := map[string]any{}
	first["recipient"] = "veilpk:ffeeddccbbaa9988"
	first["amount"] = int64(25)

	second := map[string]any{}
	second["amount"] = int64(25)
	second["recipient"] = "veilpk:ffeeddccbbaa9988"

	a, err := buildTransfer(1, first).SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	b, err := buildTransfer(1, second).SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical encodings differ:\n%s\n%s", a, b)
	}
}

func TestSigningBytesExcludeSignature(t *testing.T) {
	tx := buildTransfer(1, map[string]any{"amount": int64(1), "recipient": "veilpk:ffeeddccbbaa9988"})
	unsigned, err := tx.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	tx.Signature = []byte("a signature")
	signed, err := tx.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	if !bytes.Equal(unsigned, signed) {
		t.Fatalf("signature leaked into the signing bytes")
	}
}

func TestTransactionID(t *testing.T) {
	tx := buildTransfer(1, map[string]any{"amount": int64(5), "recipient": "veilpk:ffeeddccbbaa9988"})
	id, err := tx.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if !strings.HasPrefix(id, TxIDPrefix) {
		t.Fatalf("id %q missing %q prefix", id, TxIDPrefix)
	}
	if len(id) != len(TxIDPrefix)+64 {
		t.Fatalf("id length = %d, want prefix + 64 hex chars", len(id))
	}

	again, err := tx.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if id != again {
		t.Fatalf("id not deterministic: %q vs %q", id, again)
	}

	other, err := buildTransfer(2, map[string]any{"amount": int64(5), "recipient": "veilpk:ffeeddccbbaa9988"}).ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if id == other {
		t.Fatalf("distinct transactions share an id")
	}
}

func TestPayloadTypeRecognized(t *testing.T) {
	for _, p := range []PayloadType{PayloadData, PayloadTokenTransfer, PayloadSealRotation, PayloadContractDeploy, PayloadContractExecute} {
		if !p.Recognized() {
			t.Fatalf("%q should be recognized", p)
		}
	}
	if PayloadType("mint").Recognized() {
		t.Fatalf("unknown payload type recognized")
	}
}
