package core

import (
	"context"
	"time"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
)

// RotationCoordinator turns an accepted seal_rotation transaction into seal
// ledger mutations. The transaction was validated under the old seal's
// authority, never the new seal's: a rotation can only be signed by a seal
// that is active right now, so an attacker holding a fresh keypair cannot
// self-authorize.
type RotationCoordinator struct {
	seals    *SealLedger
	registry *Registry
	now      func() time.Time
}

func NewRotationCoordinator(seals *SealLedger, registry *Registry) *RotationCoordinator {
	return &RotationCoordinator{seals: seals, registry: registry, now: time.Now}
}

// rotationOutcome collects the records a rotation needs to flip in the same
// atomic commit as the nonce bump.
type rotationOutcome struct {
	seals      []*types.SealAuthorization
	identities []*types.Identity
}

// changes computes the ledger mutations for a validated rotation transaction.
// A retire rotation deactivates the signing seal with no replacement and
// retires the identity with it; everything else is a strict one-for-one seal
// swap. Nothing is written here — the applier commits.
func (rc *RotationCoordinator) changes(ctx context.Context, tx *types.Transaction) (*rotationOutcome, error) {
	newKey, keyType, retire, err := rotationRequest(tx.Payload.Data)
	if err != nil {
		return nil, err
	}

	if retire {
		signing, err := rc.seals.ActiveSeal(ctx, tx.PublicKey, tx.SealFingerprint)
		if err != nil {
			return nil, err
		}
		identity, err := rc.registry.Lookup(ctx, tx.PublicKey)
		if err != nil {
			return nil, err
		}
		signing.Active = false
		signing.DeactivatedAt = rc.now().Unix()
		identity.Active = false
		return &rotationOutcome{
			seals:      []*types.SealAuthorization{signing},
			identities: []*types.Identity{identity},
		}, nil
	}

	if len(newKey) == 0 {
		return nil, coreerrors.ErrLastActiveSeal
	}
	seals, err := rc.seals.rotationChanges(ctx, tx.PublicKey, tx.SealFingerprint, newKey, keyType)
	if err != nil {
		return nil, err
	}
	return &rotationOutcome{seals: seals}, nil
}
