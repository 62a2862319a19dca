package core

import (
	"context"
	"errors"
	"testing"

	coreerrors "veilnet/core/errors"
	"veilnet/crypto"
	"veilnet/ledger"
	"veilnet/storage"
)

func newTestSealLedger(t *testing.T, maxActive int) (*SealLedger, *Registry) {
	t.Helper()
	store := ledger.NewKV(storage.NewMemDB())
	t.Cleanup(func() { _ = store.Close() })
	return NewSealLedger(store, maxActive), NewRegistry(store)
}

func registerTestIdentity(t *testing.T, registry *Registry) string {
	t.Helper()
	key, err := crypto.GenerateSeal()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity, err := registry.Register(context.Background(), key.PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return identity.Fingerprint
}

func newSealKey(t *testing.T) *crypto.Seal {
	t.Helper()
	seal, err := crypto.GenerateSeal()
	if err != nil {
		t.Fatalf("generate seal: %v", err)
	}
	return seal
}

func TestAuthorizeAssignsVersions(t *testing.T) {
	sl, registry := newTestSealLedger(t, 3)
	ctx := context.Background()
	identity := registerTestIdentity(t, registry)

	for want := uint64(1); want <= 3; want++ {
		seal, err := sl.Authorize(ctx, identity, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
		if err != nil {
			t.Fatalf("authorize %d: %v", want, err)
		}
		if seal.Version != want {
			t.Fatalf("version = %d, want %d", seal.Version, want)
		}
	}
}

func TestAuthorizeUnknownIdentity(t *testing.T) {
	sl, _ := newTestSealLedger(t, 1)
	_, err := sl.Authorize(context.Background(), "veilpk:0000000000000000", newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
	if !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorizeDuplicateSeal(t *testing.T) {
	sl, registry := newTestSealLedger(t, 3)
	ctx := context.Background()
	identity := registerTestIdentity(t, registry)
	key := newSealKey(t)

	if _, err := sl.Authorize(ctx, identity, key.PublicKeyBytes(), crypto.KeyTypeEd25519); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := sl.Authorize(ctx, identity, key.PublicKeyBytes(), crypto.KeyTypeEd25519); !errors.Is(err, coreerrors.ErrDuplicateSeal) {
		t.Fatalf("expected ErrDuplicateSeal, got %v", err)
	}
}

func TestAuthorizeCapExceeded(t *testing.T) {
	sl, registry := newTestSealLedger(t, 1)
	ctx := context.Background()
	identity := registerTestIdentity(t, registry)

	if _, err := sl.Authorize(ctx, identity, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := sl.Authorize(ctx, identity, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519); !errors.Is(err, coreerrors.ErrSealCapExceeded) {
		t.Fatalf("expected ErrSealCapExceeded, got %v", err)
	}
}

func TestDeactivateLastActiveSeal(t *testing.T) {
	sl, registry := newTestSealLedger(t, 1)
	ctx := context.Background()
	identity := registerTestIdentity(t, registry)

	seal, err := sl.Authorize(ctx, identity, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if err := sl.Deactivate(ctx, seal.Fingerprint, false); !errors.Is(err, coreerrors.ErrLastActiveSeal) {
		t.Fatalf("expected ErrLastActiveSeal, got %v", err)
	}

	// Retire overrides the last-seal guard.
	if err := sl.Deactivate(ctx, seal.Fingerprint, true); err != nil {
		t.Fatalf("retire deactivation: %v", err)
	}
	if err := sl.Deactivate(ctx, seal.Fingerprint, true); !errors.Is(err, coreerrors.ErrAlreadyInactive) {
		t.Fatalf("expected ErrAlreadyInactive, got %v", err)
	}
}

func TestRotateSwapsAuthority(t *testing.T) {
	sl, registry := newTestSealLedger(t, 1)
	ctx := context.Background()
	identity := registerTestIdentity(t, registry)

	old, err := sl.Authorize(ctx, identity, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Even at the cap of one, rotation swaps: the outgoing seal does not
	// count against the active limit.
	next := newSealKey(t)
	rotated, err := sl.Rotate(ctx, identity, old.Fingerprint, next.PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.Version != 2 || !rotated.Active {
		t.Fatalf("rotated seal = %+v", rotated)
	}

	active, err := sl.ActiveSeals(ctx, identity)
	if err != nil {
		t.Fatalf("active seals: %v", err)
	}
	if len(active) != 1 || active[0].Fingerprint != next.Fingerprint() {
		t.Fatalf("active set after rotation = %+v", active)
	}

	stale, err := sl.store.GetSeal(ctx, old.Fingerprint)
	if err != nil {
		t.Fatalf("get old seal: %v", err)
	}
	if stale.Active || stale.DeactivatedAt == 0 {
		t.Fatalf("old seal not retired: %+v", stale)
	}
}

func TestActiveSealRejectsForeignAndInactive(t *testing.T) {
	sl, registry := newTestSealLedger(t, 2)
	ctx := context.Background()
	alice := registerTestIdentity(t, registry)
	bob := registerTestIdentity(t, registry)

	aliceSeal, err := sl.Authorize(ctx, alice, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Unknown seal.
	if _, err := sl.ActiveSeal(ctx, alice, "veilseal:0000000000000000"); !errors.Is(err, coreerrors.ErrUnauthorizedSeal) {
		t.Fatalf("expected ErrUnauthorizedSeal for unknown seal, got %v", err)
	}
	// Another identity's seal.
	if _, err := sl.ActiveSeal(ctx, bob, aliceSeal.Fingerprint); !errors.Is(err, coreerrors.ErrUnauthorizedSeal) {
		t.Fatalf("expected ErrUnauthorizedSeal for foreign seal, got %v", err)
	}

	// A deactivated seal.
	second, err := sl.Authorize(ctx, alice, newSealKey(t).PublicKeyBytes(), crypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("authorize second: %v", err)
	}
	if err := sl.Deactivate(ctx, second.Fingerprint, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := sl.ActiveSeal(ctx, alice, second.Fingerprint); !errors.Is(err, coreerrors.ErrUnauthorizedSeal) {
		t.Fatalf("expected ErrUnauthorizedSeal for inactive seal, got %v", err)
	}
}
