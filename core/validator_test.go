package core

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"
	"veilnet/storage"
)

func newTestValidator(t *testing.T) (*Validator, *Registry, *SealLedger) {
	t.Helper()
	store := ledger.NewKV(storage.NewMemDB())
	t.Cleanup(func() { _ = store.Close() })
	registry := NewRegistry(store)
	seals := NewSealLedger(store, 1)
	return NewValidator(registry, seals, DefaultPolicy()), registry, seals
}

func validTransfer() *types.Transaction {
	return &types.Transaction{
		Nonce: 1,
		Payload: types.Payload{
			Type: types.PayloadTokenTransfer,
			Data: map[string]any{
				types.TransferFieldRecipient: "veilpk:ffeeddccbbaa9988",
				types.TransferFieldAmount:    int64(10),
			},
			Timestamp: time.Now().Unix(),
		},
		PublicKey:       "veilpk:0011223344556677",
		SealFingerprint: "veilseal:8899aabbccddeeff",
		Signature:       []byte("sig"),
		Version:         types.ProtocolVersion,
	}
}

func TestCheckStructure(t *testing.T) {
	v, _, _ := newTestValidator(t)

	cases := []struct {
		name   string
		mutate func(tx *types.Transaction)
		want   string
	}{
		{"wrong version", func(tx *types.Transaction) { tx.Version = "2.0" }, "version"},
		{"bad identity prefix", func(tx *types.Transaction) { tx.PublicKey = "pk:abc" }, "identity fingerprint"},
		{"bad seal prefix", func(tx *types.Transaction) { tx.SealFingerprint = "seal:abc" }, "seal fingerprint"},
		{"no signature", func(tx *types.Transaction) { tx.Signature = nil }, "signature"},
		{"unknown payload type", func(tx *types.Transaction) { tx.Payload.Type = "mint" }, "payload type"},
		{"zero timestamp", func(tx *types.Transaction) { tx.Payload.Timestamp = 0 }, "timestamp"},
		{"transfer missing amount", func(tx *types.Transaction) { delete(tx.Payload.Data, types.TransferFieldAmount) }, "amount"},
		{"transfer missing recipient", func(tx *types.Transaction) { delete(tx.Payload.Data, types.TransferFieldRecipient) }, "recipient"},
		{"fractional amount", func(tx *types.Transaction) { tx.Payload.Data[types.TransferFieldAmount] = 1.5 }, "integral"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := validTransfer()
			tc.mutate(tx)
			err := v.checkStructure(tx)
			if !errors.Is(err, coreerrors.ErrStructural) {
				t.Fatalf("expected ErrStructural, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	if err := v.checkStructure(validTransfer()); err != nil {
		t.Fatalf("valid transaction flagged: %v", err)
	}
}

func TestCheckStructureEmptyDataPayload(t *testing.T) {
	v, _, _ := newTestValidator(t)
	tx := validTransfer()
	tx.Payload.Type = types.PayloadData
	tx.Payload.Data = nil
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for empty data payload, got %v", err)
	}

	// An encrypted envelope alone is a complete data payload.
	tx.Payload.EncryptedData = []byte("nonce-and-ciphertext")
	if err := v.checkStructure(tx); err != nil {
		t.Fatalf("encrypted-only data payload flagged: %v", err)
	}
}

func TestCheckStructureRotationVariants(t *testing.T) {
	v, _, _ := newTestValidator(t)

	tx := validTransfer()
	tx.Payload.Type = types.PayloadSealRotation
	tx.Payload.Data = map[string]any{types.RotationFieldRetire: true}
	if err := v.checkStructure(tx); err != nil {
		t.Fatalf("retire rotation flagged: %v", err)
	}

	tx.Payload.Data = map[string]any{types.RotationFieldNewSealPublicKey: "%%%not-base64"}
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for bad base64, got %v", err)
	}

	tx.Payload.Data = map[string]any{}
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for empty rotation, got %v", err)
	}

	encoded := base64.StdEncoding.EncodeToString(make([]byte, 32))
	tx.Payload.Data = map[string]any{
		types.RotationFieldNewSealPublicKey: encoded,
		types.RotationFieldKeyType:          "rsa",
	}
	if err := v.checkStructure(tx); err != nil {
		t.Fatalf("rsa rotation flagged: %v", err)
	}

	tx.Payload.Data = map[string]any{
		types.RotationFieldNewSealPublicKey: encoded,
		types.RotationFieldKeyType:          "dsa",
	}
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for unsupported key type, got %v", err)
	}

	tx.Payload.Data = map[string]any{
		types.RotationFieldNewSealPublicKey: encoded,
		types.RotationFieldKeyType:          7,
	}
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for non-string key type, got %v", err)
	}
}

func TestCheckStructurePayloadSizeCap(t *testing.T) {
	store := ledger.NewKV(storage.NewMemDB())
	t.Cleanup(func() { _ = store.Close() })
	policy := DefaultPolicy()
	policy.MaxPayloadBytes = 128
	v := NewValidator(NewRegistry(store), NewSealLedger(store, 1), policy)

	tx := validTransfer()
	tx.Payload.Type = types.PayloadData
	tx.Payload.Data = map[string]any{"blob": strings.Repeat("x", 256)}
	if err := v.checkStructure(tx); !errors.Is(err, coreerrors.ErrStructural) {
		t.Fatalf("expected ErrStructural for oversized payload, got %v", err)
	}
}

func TestValidateUnknownIdentity(t *testing.T) {
	v, _, _ := newTestValidator(t)
	if _, _, err := v.Validate(context.Background(), validTransfer()); !errors.Is(err, coreerrors.ErrUnknownIdentity) {
		t.Fatalf("expected ErrUnknownIdentity, got %v", err)
	}
}

func TestValidateReturnsStateSnapshot(t *testing.T) {
	v, registry, seals := newTestValidator(t)
	ctx := context.Background()

	key, err := crypto.GenerateSeal()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity, err := registry.Register(ctx, key.PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	seal, err := crypto.GenerateSeal()
	if err != nil {
		t.Fatalf("generate seal: %v", err)
	}
	if _, err := seals.Authorize(ctx, identity.Fingerprint, seal.PublicKeyBytes(), crypto.KeyTypeEd25519); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	tx := &types.Transaction{
		Nonce:           1,
		Payload:         types.NewPayload(types.PayloadData, map[string]any{"k": "v"}),
		PublicKey:       identity.Fingerprint,
		SealFingerprint: seal.Fingerprint(),
		Version:         types.ProtocolVersion,
	}
	message, err := tx.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	tx.Signature = seal.Sign(message)

	_, snapshot, err := v.Validate(ctx, tx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	// Mutating the snapshot must not touch the store.
	snapshot.Balance = 999
	snapshot.Nonce = 42
	stored, err := registry.store.GetState(ctx, identity.Fingerprint)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if stored.Balance != 0 || stored.Nonce != 0 {
		t.Fatalf("snapshot aliased the stored state: %+v", stored)
	}
}
