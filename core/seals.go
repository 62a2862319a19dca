package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"
)

// SealLedger owns the versioned seal set per identity: who may sign, since
// when, and the full rotation history. An active identity must always keep at
// least one active seal unless it is explicitly retired.
type SealLedger struct {
	store     ledger.Store
	maxActive int
	now       func() time.Time
}

func NewSealLedger(store ledger.Store, maxActive int) *SealLedger {
	if maxActive <= 0 {
		maxActive = 1
	}
	return &SealLedger{store: store, maxActive: maxActive, now: time.Now}
}

// ActiveSeals returns the currently active seals for an identity in version
// order.
func (sl *SealLedger) ActiveSeals(ctx context.Context, identityFingerprint string) ([]*types.SealAuthorization, error) {
	seals, err := sl.store.SealsByIdentity(ctx, identityFingerprint)
	if err != nil {
		return nil, err
	}
	active := make([]*types.SealAuthorization, 0, len(seals))
	for _, seal := range seals {
		if seal.Active {
			active = append(active, seal)
		}
	}
	return active, nil
}

// ActiveSeal resolves one seal fingerprint within an identity's active set.
// Anything else — unknown seal, deactivated seal, a seal owned by another
// identity — is ErrUnauthorizedSeal; callers get no finer detail because the
// distinction would leak which seals exist.
func (sl *SealLedger) ActiveSeal(ctx context.Context, identityFingerprint, sealFingerprint string) (*types.SealAuthorization, error) {
	seal, err := sl.store.GetSeal(ctx, sealFingerprint)
	if errors.Is(err, coreerrors.ErrNotFound) {
		return nil, coreerrors.ErrUnauthorizedSeal
	}
	if err != nil {
		return nil, err
	}
	if seal.Identity != identityFingerprint || !seal.Active {
		return nil, coreerrors.ErrUnauthorizedSeal
	}
	return seal, nil
}

// Authorize registers a new seal public key for an identity.
func (sl *SealLedger) Authorize(ctx context.Context, identityFingerprint string, sealPublicKeyBytes []byte, keyType crypto.KeyType) (*types.SealAuthorization, error) {
	seal, err := sl.newAuthorization(ctx, identityFingerprint, sealPublicKeyBytes, keyType, false)
	if err != nil {
		return nil, err
	}
	if err := sl.store.Commit(ctx, &ledger.ChangeSet{Seals: []*types.SealAuthorization{seal}}); err != nil {
		return nil, err
	}
	return seal, nil
}

// Deactivate retires a single seal. Refused with ErrLastActiveSeal when it is
// the identity's only active seal, unless retire is set.
func (sl *SealLedger) Deactivate(ctx context.Context, sealFingerprint string, retire bool) error {
	seal, err := sl.store.GetSeal(ctx, sealFingerprint)
	if err != nil {
		return err
	}
	if !seal.Active {
		return coreerrors.ErrAlreadyInactive
	}
	active, err := sl.ActiveSeals(ctx, seal.Identity)
	if err != nil {
		return err
	}
	if len(active) <= 1 && !retire {
		return coreerrors.ErrLastActiveSeal
	}
	seal.Active = false
	seal.DeactivatedAt = sl.now().Unix()
	return sl.store.Commit(ctx, &ledger.ChangeSet{Seals: []*types.SealAuthorization{seal}})
}

// Rotate atomically deactivates the old seal and authorizes the new one.
// Either both land or neither does.
func (sl *SealLedger) Rotate(ctx context.Context, identityFingerprint, oldSealFingerprint string, newSealPublicKeyBytes []byte, keyType crypto.KeyType) (*types.SealAuthorization, error) {
	seals, err := sl.rotationChanges(ctx, identityFingerprint, oldSealFingerprint, newSealPublicKeyBytes, keyType)
	if err != nil {
		return nil, err
	}
	if err := sl.store.Commit(ctx, &ledger.ChangeSet{Seals: seals}); err != nil {
		return nil, err
	}
	return seals[len(seals)-1], nil
}

// rotationChanges builds the seal mutations for a rotation without committing
// them, so the rotation coordinator can fold them into the same change set as
// the nonce bump and status flip.
func (sl *SealLedger) rotationChanges(ctx context.Context, identityFingerprint, oldSealFingerprint string, newSealPublicKeyBytes []byte, keyType crypto.KeyType) ([]*types.SealAuthorization, error) {
	old, err := sl.ActiveSeal(ctx, identityFingerprint, oldSealFingerprint)
	if err != nil {
		return nil, err
	}
	newSeal, err := sl.newAuthorization(ctx, identityFingerprint, newSealPublicKeyBytes, keyType, true)
	if err != nil {
		return nil, err
	}
	old.Active = false
	old.DeactivatedAt = sl.now().Unix()
	return []*types.SealAuthorization{old, newSeal}, nil
}

// newAuthorization validates and constructs a seal record. replacing marks a
// rotation, where the outgoing seal does not count against the active cap.
func (sl *SealLedger) newAuthorization(ctx context.Context, identityFingerprint string, publicKeyBytes []byte, keyType crypto.KeyType, replacing bool) (*types.SealAuthorization, error) {
	if err := crypto.ValidatePublicKey(publicKeyBytes, keyType); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
	}
	if _, err := sl.store.GetIdentity(ctx, identityFingerprint); err != nil {
		return nil, err
	}
	fingerprint := crypto.SealFingerprint(publicKeyBytes)
	if _, err := sl.store.GetSeal(ctx, fingerprint); err == nil {
		return nil, coreerrors.ErrDuplicateSeal
	} else if !errors.Is(err, coreerrors.ErrNotFound) {
		return nil, err
	}

	seals, err := sl.store.SealsByIdentity(ctx, identityFingerprint)
	if err != nil {
		return nil, err
	}
	activeCount := 0
	maxVersion := uint64(0)
	for _, seal := range seals {
		if seal.Active {
			activeCount++
		}
		if seal.Version > maxVersion {
			maxVersion = seal.Version
		}
	}
	if replacing {
		activeCount--
	}
	if activeCount >= sl.maxActive {
		return nil, coreerrors.ErrSealCapExceeded
	}

	return &types.SealAuthorization{
		Fingerprint: fingerprint,
		Identity:    identityFingerprint,
		KeyType:     keyType,
		PublicKey:   append([]byte(nil), publicKeyBytes...),
		Active:      true,
		Version:     maxVersion + 1,
		AddedAt:     sl.now().Unix(),
	}, nil
}
