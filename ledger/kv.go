package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/storage"
)

// Key prefixes for the KV layout. One record per key, plus three small
// indexes so lookups never scan.
var (
	identityPrefix = []byte("identity:")
	sealPrefix     = []byte("seal:")
	sealIndexKey   = []byte("sealidx:") // per identity: seal fingerprints in version order
	statePrefix    = []byte("state:")
	txPrefix       = []byte("tx:")
	txIndexKey     = []byte("txidx:") // per identity: tx ids, newest last
	pendingKey     = []byte("pending-txs")
	digestKey      = []byte("confirmation-digest")
)

// KV implements Store over a storage.Database, encoding records with RLP.
// Commit serialises through a mutex because index maintenance is
// read-modify-write; per-record throughput is bounded by the engine's
// per-identity sections anyway.
type KV struct {
	mu sync.Mutex
	db storage.Database
}

func NewKV(db storage.Database) *KV {
	return &KV{db: db}
}

// --- RLP record shapes. RLP has no signed ints or maps, so timestamps and
// balances ride as uint64 (balances are invariant non-negative) and the data
// store rides as sorted pairs. ---

type identityRec struct {
	Fingerprint string
	KeyType     string
	PublicKey   []byte
	Active      bool
	CreatedAt   uint64
}

type sealRec struct {
	Fingerprint   string
	Identity      string
	KeyType       string
	PublicKey     []byte
	Active        bool
	Version       uint64
	AddedAt       uint64
	DeactivatedAt uint64
}

type statePair struct {
	Key   string
	Value string
}

type stateRec struct {
	Identity string
	Balance  uint64
	Nonce    uint64
	Pairs    []statePair
}

type txRec struct {
	ID          string
	Sender      string
	Seal        string
	PayloadType string
	Payload     []byte // canonical JSON of the payload body
	Signature   []byte
	Nonce       uint64
	Version     string
	Status      string
	Reason      string
	BlockHeight uint64
	ReceivedAt  uint64
	ConfirmedAt uint64
}

func key(prefix []byte, suffix string) []byte {
	return append(append([]byte(nil), prefix...), suffix...)
}

func (s *KV) GetIdentity(ctx context.Context, fingerprint string) (*types.Identity, error) {
	var rec identityRec
	if err := s.load(ctx, key(identityPrefix, fingerprint), &rec); err != nil {
		return nil, err
	}
	return &types.Identity{
		Fingerprint: rec.Fingerprint,
		KeyType:     keyType(rec.KeyType),
		PublicKey:   rec.PublicKey,
		Active:      rec.Active,
		CreatedAt:   int64(rec.CreatedAt),
	}, nil
}

func (s *KV) GetSeal(ctx context.Context, sealFingerprint string) (*types.SealAuthorization, error) {
	var rec sealRec
	if err := s.load(ctx, key(sealPrefix, sealFingerprint), &rec); err != nil {
		return nil, err
	}
	return decodeSeal(&rec), nil
}

func (s *KV) SealsByIdentity(ctx context.Context, identityFingerprint string) ([]*types.SealAuthorization, error) {
	var fps []string
	if err := s.load(ctx, key(sealIndexKey, identityFingerprint), &fps); err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*types.SealAuthorization, 0, len(fps))
	for _, fp := range fps {
		seal, err := s.GetSeal(ctx, fp)
		if err != nil {
			return nil, err
		}
		out = append(out, seal)
	}
	return out, nil
}

func (s *KV) GetState(ctx context.Context, identityFingerprint string) (*types.IdentityState, error) {
	var rec stateRec
	if err := s.load(ctx, key(statePrefix, identityFingerprint), &rec); err != nil {
		return nil, err
	}
	state := &types.IdentityState{
		Identity: rec.Identity,
		Balance:  int64(rec.Balance),
		Nonce:    rec.Nonce,
	}
	if len(rec.Pairs) > 0 {
		state.Data = make(map[string]string, len(rec.Pairs))
		for _, p := range rec.Pairs {
			state.Data[p.Key] = p.Value
		}
	}
	return state, nil
}

func (s *KV) GetTransaction(ctx context.Context, id string) (*types.Record, error) {
	var rec txRec
	if err := s.load(ctx, key(txPrefix, id), &rec); err != nil {
		return nil, err
	}
	return decodeTx(&rec)
}

func (s *KV) TransactionsByIdentity(ctx context.Context, identityFingerprint string, limit int) ([]*types.Record, error) {
	var ids []string
	if err := s.load(ctx, key(txIndexKey, identityFingerprint), &ids); err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]*types.Record, 0, limit)
	// newest last in the index; serve newest first
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		rec, err := s.GetTransaction(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *KV) PendingTransactions(ctx context.Context, limit int) ([]*types.Record, error) {
	var ids []string
	if err := s.load(ctx, pendingKey, &ids); err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]*types.Record, 0, limit)
	for _, id := range ids[:limit] {
		rec, err := s.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *KV) ConfirmationDigest(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := s.db.Get(digestKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// Commit applies the change set through a single storage batch. The backend
// guarantees the batch lands whole or not at all.
func (s *KV) Commit(ctx context.Context, cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	for _, id := range cs.Identities {
		if err := s.stage(batch, key(identityPrefix, id.Fingerprint), encodeIdentity(id)); err != nil {
			return err
		}
	}
	for _, seal := range cs.Seals {
		if err := s.stage(batch, key(sealPrefix, seal.Fingerprint), encodeSeal(seal)); err != nil {
			return err
		}
		if err := s.stageSealIndex(batch, seal); err != nil {
			return err
		}
	}
	for _, state := range cs.States {
		if state.Balance < 0 {
			return fmt.Errorf("refusing to persist negative balance for %s", state.Identity)
		}
		if err := s.stage(batch, key(statePrefix, state.Identity), encodeState(state)); err != nil {
			return err
		}
	}
	if len(cs.Records) > 0 {
		if err := s.stageRecords(batch, cs.Records); err != nil {
			return err
		}
	}
	if cs.Digest != nil {
		batch.Put(digestKey, cs.Digest)
	}
	return batch.Write()
}

func (s *KV) Close() error {
	s.db.Close()
	return nil
}

// --- staging helpers ---

func (s *KV) stage(batch storage.Batch, k []byte, v interface{}) error {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	batch.Put(k, b)
	return nil
}

func (s *KV) stageSealIndex(batch storage.Batch, seal *types.SealAuthorization) error {
	idxKey := key(sealIndexKey, seal.Identity)
	var fps []string
	if err := s.loadRaw(idxKey, &fps); err != nil && !errors.Is(err, coreerrors.ErrNotFound) {
		return err
	}
	for _, fp := range fps {
		if fp == seal.Fingerprint {
			return nil
		}
	}
	fps = append(fps, seal.Fingerprint)
	return s.stage(batch, idxKey, fps)
}

func (s *KV) stageRecords(batch storage.Batch, records []*types.Record) error {
	var pending []string
	if err := s.loadRaw(pendingKey, &pending); err != nil && !errors.Is(err, coreerrors.ErrNotFound) {
		return err
	}
	pendingDirty := false
	for _, rec := range records {
		enc, err := encodeTx(rec)
		if err != nil {
			return err
		}
		if err := s.stage(batch, key(txPrefix, rec.ID), enc); err != nil {
			return err
		}
		if err := s.stageTxIndex(batch, rec); err != nil {
			return err
		}
		if rec.Status == types.StatusPending {
			if !contains(pending, rec.ID) {
				pending = append(pending, rec.ID)
				pendingDirty = true
			}
		} else if contains(pending, rec.ID) {
			pending = remove(pending, rec.ID)
			pendingDirty = true
		}
	}
	if pendingDirty {
		return s.stage(batch, pendingKey, pending)
	}
	return nil
}

func (s *KV) stageTxIndex(batch storage.Batch, rec *types.Record) error {
	idxKey := key(txIndexKey, rec.Tx.PublicKey)
	var ids []string
	if err := s.loadRaw(idxKey, &ids); err != nil && !errors.Is(err, coreerrors.ErrNotFound) {
		return err
	}
	if contains(ids, rec.ID) {
		return nil
	}
	ids = append(ids, rec.ID)
	return s.stage(batch, idxKey, ids)
}

func (s *KV) load(ctx context.Context, k []byte, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.loadRaw(k, out)
}

func (s *KV) loadRaw(k []byte, out interface{}) error {
	b, err := s.db.Get(k)
	if errors.Is(err, storage.ErrNotFound) {
		return coreerrors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(b, out)
}

// --- codecs ---

func encodeIdentity(id *types.Identity) *identityRec {
	return &identityRec{
		Fingerprint: id.Fingerprint,
		KeyType:     string(id.KeyType),
		PublicKey:   id.PublicKey,
		Active:      id.Active,
		CreatedAt:   uint64(id.CreatedAt),
	}
}

func encodeSeal(seal *types.SealAuthorization) *sealRec {
	return &sealRec{
		Fingerprint:   seal.Fingerprint,
		Identity:      seal.Identity,
		KeyType:       string(seal.KeyType),
		PublicKey:     seal.PublicKey,
		Active:        seal.Active,
		Version:       seal.Version,
		AddedAt:       uint64(seal.AddedAt),
		DeactivatedAt: uint64(seal.DeactivatedAt),
	}
}

func decodeSeal(rec *sealRec) *types.SealAuthorization {
	return &types.SealAuthorization{
		Fingerprint:   rec.Fingerprint,
		Identity:      rec.Identity,
		KeyType:       keyType(rec.KeyType),
		PublicKey:     rec.PublicKey,
		Active:        rec.Active,
		Version:       rec.Version,
		AddedAt:       int64(rec.AddedAt),
		DeactivatedAt: int64(rec.DeactivatedAt),
	}
}

func encodeState(state *types.IdentityState) *stateRec {
	rec := &stateRec{
		Identity: state.Identity,
		Balance:  uint64(state.Balance),
		Nonce:    state.Nonce,
	}
	if len(state.Data) > 0 {
		keys := make([]string, 0, len(state.Data))
		for k := range state.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec.Pairs = make([]statePair, 0, len(keys))
		for _, k := range keys {
			rec.Pairs = append(rec.Pairs, statePair{Key: k, Value: state.Data[k]})
		}
	}
	return rec
}

func encodeTx(rec *types.Record) (*txRec, error) {
	payload, err := json.Marshal(rec.Tx.Payload)
	if err != nil {
		return nil, err
	}
	return &txRec{
		ID:          rec.ID,
		Sender:      rec.Tx.PublicKey,
		Seal:        rec.Tx.SealFingerprint,
		PayloadType: string(rec.Tx.Payload.Type),
		Payload:     payload,
		Signature:   rec.Tx.Signature,
		Nonce:       rec.Tx.Nonce,
		Version:     rec.Tx.Version,
		Status:      string(rec.Status),
		Reason:      rec.Reason,
		BlockHeight: rec.BlockHeight,
		ReceivedAt:  uint64(rec.ReceivedAt),
		ConfirmedAt: uint64(rec.ConfirmedAt),
	}, nil
}

func decodeTx(rec *txRec) (*types.Record, error) {
	var payload types.Payload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, err
	}
	return &types.Record{
		Tx: types.Transaction{
			Nonce:           rec.Nonce,
			Payload:         payload,
			PublicKey:       rec.Sender,
			SealFingerprint: rec.Seal,
			Signature:       rec.Signature,
			Version:         rec.Version,
		},
		ID:          rec.ID,
		Status:      types.Status(rec.Status),
		Reason:      rec.Reason,
		BlockHeight: rec.BlockHeight,
		ReceivedAt:  int64(rec.ReceivedAt),
		ConfirmedAt: int64(rec.ConfirmedAt),
	}, nil
}

func keyType(s string) crypto.KeyType {
	return crypto.KeyType(s)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func remove(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
