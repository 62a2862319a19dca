// Package ledger is the engine's persistence collaborator. It owns the four
// record families the relational schema names (identities, seal
// authorizations, identity state, transactions) and exposes them over any
// backend that can commit a multi-record change set atomically.
package ledger

import (
	"context"

	"veilnet/core/types"
)

// ChangeSet is one atomic unit of writes. Commit applies every record in the
// set or none of them; partial application must never be observable, which is
// what the applier and the rotation coordinator lean on.
type ChangeSet struct {
	Identities []*types.Identity
	Seals      []*types.SealAuthorization
	States     []*types.IdentityState
	Records    []*types.Record

	// Digest, when non-nil, replaces the rolling confirmation digest.
	Digest []byte
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Identities) == 0 && len(cs.Seals) == 0 &&
		len(cs.States) == 0 && len(cs.Records) == 0 && cs.Digest == nil)
}

// Store is the persistence contract the engine consumes. Lookups return
// coreerrors.ErrNotFound when no record exists. Implementations must honour
// context cancellation on the way in but, once Commit starts writing, run the
// batch to completion.
type Store interface {
	GetIdentity(ctx context.Context, fingerprint string) (*types.Identity, error)
	GetSeal(ctx context.Context, sealFingerprint string) (*types.SealAuthorization, error)
	SealsByIdentity(ctx context.Context, identityFingerprint string) ([]*types.SealAuthorization, error)
	GetState(ctx context.Context, identityFingerprint string) (*types.IdentityState, error)
	GetTransaction(ctx context.Context, id string) (*types.Record, error)
	TransactionsByIdentity(ctx context.Context, identityFingerprint string, limit int) ([]*types.Record, error)
	PendingTransactions(ctx context.Context, limit int) ([]*types.Record, error)

	// ConfirmationDigest returns the rolling digest chained over confirmed
	// transactions, or nil before anything has been applied.
	ConfirmationDigest(ctx context.Context) ([]byte, error)

	Commit(ctx context.Context, cs *ChangeSet) error
	Close() error
}
