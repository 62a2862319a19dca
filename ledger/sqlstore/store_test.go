package sqlstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreIdentityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := &types.Identity{
		Fingerprint: "veilpk:0011223344556677",
		KeyType:     crypto.KeyTypeEd25519,
		PublicKey:   bytes.Repeat([]byte{0x01}, 32),
		Active:      true,
		CreatedAt:   1700000000,
	}
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Identities: []*types.Identity{identity}}))

	got, err := store.GetIdentity(ctx, identity.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, identity.Fingerprint, got.Fingerprint)
	require.Equal(t, identity.KeyType, got.KeyType)
	require.Equal(t, identity.PublicKey, got.PublicKey)
	require.True(t, got.Active)

	_, err = store.GetIdentity(ctx, "veilpk:missing")
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestSQLStoreDeactivateIdentityUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := &types.Identity{
		Fingerprint: "veilpk:0011223344556677",
		KeyType:     crypto.KeyTypeEd25519,
		PublicKey:   bytes.Repeat([]byte{0x01}, 32),
		Active:      true,
		CreatedAt:   1700000000,
	}
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Identities: []*types.Identity{identity}}))

	identity.Active = false
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Identities: []*types.Identity{identity}}))

	got, err := store.GetIdentity(ctx, identity.Fingerprint)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestSQLStoreSealsOrderedByVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	identity := "veilpk:0011223344556677"

	seals := []*types.SealAuthorization{
		{Fingerprint: "veilseal:0000000000000002", Identity: identity, KeyType: crypto.KeyTypeEd25519, PublicKey: bytes.Repeat([]byte{2}, 32), Active: true, Version: 2},
		{Fingerprint: "veilseal:0000000000000001", Identity: identity, KeyType: crypto.KeyTypeEd25519, PublicKey: bytes.Repeat([]byte{1}, 32), Version: 1},
	}
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Seals: seals}))

	got, err := store.SealsByIdentity(ctx, identity)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Version)
	require.Equal(t, uint64(2), got[1].Version)
	require.True(t, got[1].Active)
}

func TestSQLStoreStateUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := &types.IdentityState{
		Identity: "veilpk:0011223344556677",
		Balance:  100,
		Nonce:    1,
		Data:     map[string]string{"plan": "basic"},
	}
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{States: []*types.IdentityState{state}}))

	state.Balance = 75
	state.Nonce = 2
	state.Data["plan"] = "premium"
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{States: []*types.IdentityState{state}}))

	got, err := store.GetState(ctx, state.Identity)
	require.NoError(t, err)
	require.Equal(t, int64(75), got.Balance)
	require.Equal(t, uint64(2), got.Nonce)
	require.Equal(t, "premium", got.Data["plan"])
}

func TestSQLStoreRejectsNegativeBalance(t *testing.T) {
	store := newTestStore(t)
	state := &types.IdentityState{Identity: "veilpk:0011223344556677", Balance: -5}
	err := store.Commit(context.Background(), &ledger.ChangeSet{States: []*types.IdentityState{state}})
	require.Error(t, err)
}

func TestSQLStoreTransactionStatusTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &types.Record{
		Tx: types.Transaction{
			Nonce: 1,
			Payload: types.Payload{
				Type:      types.PayloadData,
				Data:      map[string]any{"k": "v"},
				Timestamp: 1700000000,
			},
			PublicKey:       "veilpk:0011223344556677",
			SealFingerprint: "veilseal:8899aabbccddeeff",
			Signature:       []byte("sig"),
			Version:         types.ProtocolVersion,
		},
		ID:         "veiltx:aa",
		Status:     types.StatusPending,
		ReceivedAt: 1700000000,
	}
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Records: []*types.Record{rec}}))

	pending, err := store.PendingTransactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	rec.Status = types.StatusRejected
	rec.Reason = coreerrors.ReasonNonceTooLow
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Records: []*types.Record{rec}}))

	got, err := store.GetTransaction(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusRejected, got.Status)
	require.Equal(t, coreerrors.ReasonNonceTooLow, got.Reason)
	require.Equal(t, "v", got.Tx.Payload.Data["k"])

	pending, err = store.PendingTransactions(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSQLStoreConfirmationDigest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	digest, err := store.ConfirmationDigest(ctx)
	require.NoError(t, err)
	require.Nil(t, digest)

	want := bytes.Repeat([]byte{0xcd}, 32)
	require.NoError(t, store.Commit(ctx, &ledger.ChangeSet{Digest: want}))

	digest, err = store.ConfirmationDigest(ctx)
	require.NoError(t, err)
	require.Equal(t, want, digest)
}
