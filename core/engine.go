package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"
	"veilnet/mempool"
	"veilnet/observability"
)

// Engine wires the registry, seal ledger, validator, applier, and rotation
// coordinator behind one entry point. Transactions for distinct identities
// run fully in parallel; transactions touching the same identity serialize
// through a per-identity critical section so the strict nonce order can never
// interleave.
type Engine struct {
	registry  *Registry
	seals     *SealLedger
	validator *Validator
	applier   *Applier
	store     ledger.Store
	pool      *mempool.Pool
	policy    Policy
	log       *slog.Logger
	locks     keyedMutex
	now       func() time.Time
}

// Verdict is the engine's answer to a submission. Transient collaborator
// failures surface as errors, not verdicts, so every verdict is terminal.
type Verdict struct {
	ID     string       `json:"id"`
	Status types.Status `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

func NewEngine(store ledger.Store, policy Policy, log *slog.Logger) *Engine {
	policy = policy.normalized()
	if log == nil {
		log = slog.Default()
	}
	registry := NewRegistry(store)
	seals := NewSealLedger(store, policy.MaxActiveSeals)
	rotation := NewRotationCoordinator(seals, registry)
	return &Engine{
		registry:  registry,
		seals:     seals,
		validator: NewValidator(registry, seals, policy),
		applier:   NewApplier(store, rotation),
		store:     store,
		pool:      mempool.New(),
		policy:    policy,
		log:       log.With(slog.String("component", "engine")),
		now:       time.Now,
	}
}

// Registry exposes identity registration and lookup.
func (e *Engine) Registry() *Registry { return e.registry }

// Seals exposes the seal authority ledger.
func (e *Engine) Seals() *SealLedger { return e.seals }

// Mempool exposes the pending pool.
func (e *Engine) Mempool() *mempool.Pool { return e.pool }

// Submit runs a transaction through the full pipeline: persist as pending,
// validate under the sender's critical section, then atomically apply or
// record the rejection. Every outcome except a transient collaborator
// failure leaves a terminal record behind.
func (e *Engine) Submit(ctx context.Context, tx *types.Transaction) (*Verdict, error) {
	started := e.now()
	id, err := tx.ID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
	}

	// Idempotent resubmission: a known terminal ID answers with its
	// recorded verdict without touching the locks.
	if existing, err := e.lookupRecord(ctx, id); err != nil {
		return nil, err
	} else if existing != nil && existing.Status != types.StatusPending {
		return verdictFor(existing), nil
	}

	unlock := e.locks.lock(identitiesTouched(tx)...)
	defer unlock()

	// Re-check under the lock: a duplicate may have concluded while this
	// submission waited, and a terminal status is immutable. A pending
	// record left by an interrupted submission is resumed, never
	// re-created, so the confirmed-or-rejected flip happens exactly once.
	rec := &types.Record{
		Tx:         *tx,
		ID:         id,
		Status:     types.StatusPending,
		ReceivedAt: e.now().Unix(),
	}
	if existing, err := e.lookupRecord(ctx, id); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Status != types.StatusPending {
			return verdictFor(existing), nil
		}
		rec = existing
	} else {
		if err := e.commit(ctx, &ledger.ChangeSet{Records: []*types.Record{rec}}); err != nil {
			return nil, err
		}
		e.pool.Add(rec)
		observability.EngineMetrics().SetMempoolSize(e.pool.Size())
	}

	verdict, err := e.process(ctx, rec)
	if err != nil {
		return nil, err
	}
	e.observe(rec, verdict, e.now().Sub(started))
	return verdict, nil
}

// process drives a pending record to its terminal status. The caller holds
// the identity locks.
func (e *Engine) process(ctx context.Context, rec *types.Record) (*Verdict, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()

	_, state, err := e.validator.Validate(ioCtx, &rec.Tx)
	if err != nil {
		return e.conclude(ctx, rec, err)
	}

	// Validation was read-only; abandoning here has no side effects. Once
	// Apply begins it runs to completion.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	confirmed, err := e.applier.Apply(ioCtx, rec, state)
	if err != nil {
		return e.conclude(ctx, rec, err)
	}
	*rec = *confirmed
	e.pool.Remove(rec.ID)
	observability.EngineMetrics().SetMempoolSize(e.pool.Size())
	return verdictFor(rec), nil
}

// conclude classifies a pipeline failure. Protocol rejections persist a
// terminal rejected record; transient collaborator failures leave the record
// pending so the caller can retry safely.
func (e *Engine) conclude(ctx context.Context, rec *types.Record, cause error) (*Verdict, error) {
	cause = classify(cause)
	if errors.Is(cause, coreerrors.ErrCollaboratorUnavailable) {
		return nil, cause
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
		return nil, cause
	}

	// Terminal statuses are immutable: never stamp a rejection over a
	// record another submission already concluded.
	stored, err := e.lookupRecord(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Status != types.StatusPending {
		*rec = *stored
		return verdictFor(rec), nil
	}

	rejected := *rec
	rejected.Status = types.StatusRejected
	rejected.Reason = coreerrors.Reason(cause)
	// The rejection is part of the permanent record; commit it even when
	// the caller has gone away.
	if err := e.store.Commit(context.WithoutCancel(ctx), &ledger.ChangeSet{Records: []*types.Record{&rejected}}); err != nil {
		return nil, classify(err)
	}
	*rec = rejected
	e.pool.Remove(rec.ID)
	observability.EngineMetrics().SetMempoolSize(e.pool.Size())
	return verdictFor(rec), nil
}

func (e *Engine) observe(rec *types.Record, verdict *Verdict, elapsed time.Duration) {
	metrics := observability.EngineMetrics()
	switch verdict.Status {
	case types.StatusConfirmed:
		metrics.ObserveAccepted(elapsed)
		e.log.Info("transaction confirmed",
			slog.String("tx", rec.ID),
			slog.String("identity", rec.Tx.PublicKey),
			slog.Uint64("nonce", rec.Tx.Nonce),
		)
	case types.StatusRejected:
		metrics.ObserveRejected(verdict.Reason, elapsed)
		level := slog.LevelInfo
		if verdict.Reason == coreerrors.ReasonUnauthorizedSeal || verdict.Reason == coreerrors.ReasonInvalidSignature {
			level = slog.LevelWarn
		}
		e.log.Log(context.Background(), level, "transaction rejected",
			slog.String("tx", rec.ID),
			slog.String("identity", rec.Tx.PublicKey),
			slog.String("seal", rec.Tx.SealFingerprint),
			slog.String("reason", verdict.Reason),
		)
	}
}

// --- queries ---

func (e *Engine) Identity(ctx context.Context, fingerprint string) (*types.Identity, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	id, err := e.registry.Lookup(ioCtx, fingerprint)
	return id, classify(err)
}

func (e *Engine) State(ctx context.Context, fingerprint string) (*types.IdentityState, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	state, err := e.store.GetState(ioCtx, fingerprint)
	return state, classify(err)
}

func (e *Engine) ActiveSeals(ctx context.Context, fingerprint string) ([]*types.SealAuthorization, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	seals, err := e.seals.ActiveSeals(ioCtx, fingerprint)
	return seals, classify(err)
}

func (e *Engine) Transaction(ctx context.Context, id string) (*types.Record, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	rec, err := e.store.GetTransaction(ioCtx, id)
	return rec, classify(err)
}

func (e *Engine) History(ctx context.Context, fingerprint string, limit int) ([]*types.Record, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	recs, err := e.store.TransactionsByIdentity(ioCtx, fingerprint, limit)
	return recs, classify(err)
}

func (e *Engine) PendingTransactions(ctx context.Context, limit int) ([]*types.Record, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	recs, err := e.store.PendingTransactions(ioCtx, limit)
	return recs, classify(err)
}

// ConfirmationDigest returns the rolling digest over confirmed transactions.
func (e *Engine) ConfirmationDigest(ctx context.Context) ([]byte, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	digest, err := e.store.ConfirmationDigest(ioCtx)
	return digest, classify(err)
}

// RegisterIdentity registers under the same locking discipline as Submit so
// concurrent registrations of the same key cannot race.
func (e *Engine) RegisterIdentity(ctx context.Context, publicKeyBytes []byte, keyType crypto.KeyType) (*types.Identity, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	fingerprint := crypto.IdentityFingerprint(publicKeyBytes)
	unlock := e.locks.lock(fingerprint)
	defer unlock()
	id, err := e.registry.Register(ioCtx, publicKeyBytes, keyType)
	return id, classify(err)
}

// AuthorizeSeal attaches a seal out-of-band (bootstrap and genesis only; a
// live identity rotates through a seal_rotation transaction).
func (e *Engine) AuthorizeSeal(ctx context.Context, identityFingerprint string, sealPublicKeyBytes []byte, keyType crypto.KeyType) (*types.SealAuthorization, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	unlock := e.locks.lock(identityFingerprint)
	defer unlock()
	seal, err := e.seals.Authorize(ioCtx, identityFingerprint, sealPublicKeyBytes, keyType)
	return seal, classify(err)
}

// --- plumbing ---

func (e *Engine) lookupRecord(ctx context.Context, id string) (*types.Record, error) {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	rec, err := e.store.GetTransaction(ioCtx, id)
	if errors.Is(err, coreerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (e *Engine) commit(ctx context.Context, cs *ledger.ChangeSet) error {
	ioCtx, cancel := e.ioContext(ctx)
	defer cancel()
	return classify(e.store.Commit(ioCtx, cs))
}

// ioContext bounds a collaborator call with the policy timeout.
func (e *Engine) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.policy.CollaboratorTimeout)
}

// classify maps collaborator timeouts to the retryable taxonomy error.
// Protocol rejections pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", coreerrors.ErrCollaboratorUnavailable, err)
	}
	return err
}

func verdictFor(rec *types.Record) *Verdict {
	return &Verdict{
		ID:     rec.ID,
		Status: rec.Status,
		Reason: rec.Reason,
	}
}

// identitiesTouched lists the identities a transaction mutates, sorted so
// lock acquisition order is deterministic across concurrent submissions.
func identitiesTouched(tx *types.Transaction) []string {
	touched := []string{tx.PublicKey}
	if tx.Payload.Type == types.PayloadTokenTransfer {
		if recipient, ok := tx.Payload.Data[types.TransferFieldRecipient].(string); ok && recipient != tx.PublicKey {
			touched = append(touched, recipient)
		}
	}
	sort.Strings(touched)
	return touched
}

// keyedMutex hands out one mutex per identity fingerprint. The map only
// grows, bounded by the number of identities seen by this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires every key in the given (sorted) order and returns the
// matching unlock.
func (k *keyedMutex) lock(keys ...string) func() {
	acquired := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		m := k.obtain(key)
		m.Lock()
		acquired = append(acquired, m)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

func (k *keyedMutex) obtain(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
