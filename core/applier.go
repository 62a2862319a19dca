package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/blake3"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/ledger"
)

// Applier commits accepted transactions. One transaction is one atomic
// change set: nonce bump, balance and data-store mutations, status flip to
// confirmed, and the rolling confirmation digest all land together or not at
// all. Payload-specific invariant failures reject the transaction with a
// terminal rejected status; nothing is ever left partially applied.
type Applier struct {
	store    ledger.Store
	rotation *RotationCoordinator
	now      func() time.Time
}

func NewApplier(store ledger.Store, rotation *RotationCoordinator) *Applier {
	return &Applier{store: store, rotation: rotation, now: time.Now}
}

// Apply mutates ledger state for a validated transaction. rec must carry the
// pending record; state is the validator's snapshot of the sender. On success
// the returned record is confirmed. Business-rule failures return the
// taxonomy error and leave all state untouched; the caller persists the
// rejection.
//
// Once Apply starts committing it runs to completion: the commit uses a
// context detached from the caller's cancellation.
func (a *Applier) Apply(ctx context.Context, rec *types.Record, state *types.IdentityState) (*types.Record, error) {
	cs := &ledger.ChangeSet{}
	tx := &rec.Tx

	switch tx.Payload.Type {
	case types.PayloadTokenTransfer:
		if err := a.applyTransfer(ctx, tx, state, cs); err != nil {
			return nil, err
		}
	case types.PayloadData:
		applyData(tx, state)
	case types.PayloadSealRotation:
		outcome, err := a.rotation.changes(ctx, tx)
		if err != nil {
			return nil, err
		}
		cs.Seals = outcome.seals
		cs.Identities = outcome.identities
	default:
		return nil, coreerrors.ErrUnsupportedPayload
	}

	state.Nonce = tx.Nonce
	cs.States = append(cs.States, state)

	digest, err := a.nextDigest(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	cs.Digest = digest

	confirmed := *rec
	confirmed.Status = types.StatusConfirmed
	confirmed.ConfirmedAt = a.now().Unix()
	cs.Records = []*types.Record{&confirmed}

	// Point of no return: commit must not be interrupted by the caller.
	if err := a.store.Commit(context.WithoutCancel(ctx), cs); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

func (a *Applier) applyTransfer(ctx context.Context, tx *types.Transaction, sender *types.IdentityState, cs *ledger.ChangeSet) error {
	amount, err := transferAmount(tx.Payload.Data)
	if err != nil {
		return err
	}
	recipient, err := transferRecipient(tx.Payload.Data)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", coreerrors.ErrBusinessRule)
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: insufficient balance (%d < %d)", coreerrors.ErrBusinessRule, sender.Balance, amount)
	}
	if recipient == sender.Identity {
		// Self transfer: balance is a wash, nonce still advances.
		return nil
	}
	if _, err := a.store.GetIdentity(ctx, recipient); err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return fmt.Errorf("%w: recipient %s is not registered", coreerrors.ErrBusinessRule, recipient)
		}
		return err
	}
	recipientState, err := a.store.GetState(ctx, recipient)
	if err != nil {
		return err
	}
	sender.Balance -= amount
	recipientState.Balance += amount
	cs.States = append(cs.States, recipientState)
	return nil
}

// applyData merges payload keys into the identity's opaque data store.
// Non-string values are stored as their canonical JSON. Encrypted payloads
// are opaque to the engine: the ciphertext rides in the record and nothing
// merges into the data store.
func applyData(tx *types.Transaction, state *types.IdentityState) {
	if len(tx.Payload.Data) == 0 {
		return
	}
	if state.Data == nil {
		state.Data = make(map[string]string, len(tx.Payload.Data))
	}
	for k, v := range tx.Payload.Data {
		if s, ok := v.(string); ok {
			state.Data[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		state.Data[k] = string(b)
	}
}

// nextDigest extends the rolling confirmation digest with this transaction
// ID. The chain makes the confirmed history tamper-evident: recomputing it
// from the records must reproduce the stored digest.
func (a *Applier) nextDigest(ctx context.Context, txID string) ([]byte, error) {
	prev, err := a.store.ConfirmationDigest(ctx)
	if err != nil {
		return nil, err
	}
	h := blake3.New(32, nil)
	h.Write(prev)
	h.Write([]byte(txID))
	return h.Sum(nil), nil
}
