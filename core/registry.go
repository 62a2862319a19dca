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

// Registry owns the identity records. Registration creates the zero identity
// state in the same commit, so no caller ever observes an identity without a
// state row; the reference schema does this with a trigger, the engine does
// it in the change set so it holds on every backend.
type Registry struct {
	store ledger.Store
	now   func() time.Time
}

func NewRegistry(store ledger.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Lookup resolves a fingerprint to its identity record.
func (r *Registry) Lookup(ctx context.Context, fingerprint string) (*types.Identity, error) {
	return r.store.GetIdentity(ctx, fingerprint)
}

// Register creates a new identity from raw public key bytes. The fingerprint
// is derived, never supplied. Fails with ErrDuplicateIdentity when the
// fingerprint already exists.
func (r *Registry) Register(ctx context.Context, publicKeyBytes []byte, keyType crypto.KeyType) (*types.Identity, error) {
	if err := crypto.ValidatePublicKey(publicKeyBytes, keyType); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
	}
	fingerprint := crypto.IdentityFingerprint(publicKeyBytes)
	if _, err := r.store.GetIdentity(ctx, fingerprint); err == nil {
		return nil, coreerrors.ErrDuplicateIdentity
	} else if !errors.Is(err, coreerrors.ErrNotFound) {
		return nil, err
	}

	identity := &types.Identity{
		Fingerprint: fingerprint,
		KeyType:     keyType,
		PublicKey:   append([]byte(nil), publicKeyBytes...),
		Active:      true,
		CreatedAt:   r.now().Unix(),
	}
	state := &types.IdentityState{Identity: fingerprint}
	cs := &ledger.ChangeSet{
		Identities: []*types.Identity{identity},
		States:     []*types.IdentityState{state},
	}
	if err := r.store.Commit(ctx, cs); err != nil {
		return nil, err
	}
	return identity, nil
}

// Deactivate retires an identity. The record stays; identities are never
// deleted.
func (r *Registry) Deactivate(ctx context.Context, fingerprint string) error {
	identity, err := r.store.GetIdentity(ctx, fingerprint)
	if err != nil {
		return err
	}
	if !identity.Active {
		return coreerrors.ErrAlreadyInactive
	}
	identity.Active = false
	return r.store.Commit(ctx, &ledger.ChangeSet{Identities: []*types.Identity{identity}})
}
