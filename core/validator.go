package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
)

// Validator runs the acceptance pipeline for inbound transactions. The stage
// order is fixed: structural, identity, authority, signature, nonce,
// timestamp. Each stage short-circuits with its own error so clients see a
// deterministic reason and garbage never reaches signature verification.
type Validator struct {
	registry *Registry
	seals    *SealLedger
	policy   Policy
	now      func() time.Time
}

func NewValidator(registry *Registry, seals *SealLedger, policy Policy) *Validator {
	return &Validator{registry: registry, seals: seals, policy: policy.normalized(), now: time.Now}
}

// Validate runs the pipeline and, on acceptance, returns the authorizing seal
// and a snapshot of the sender's state for the applier. The snapshot is safe
// to mutate; the store is untouched.
func (v *Validator) Validate(ctx context.Context, tx *types.Transaction) (*types.SealAuthorization, *types.IdentityState, error) {
	if err := v.checkStructure(tx); err != nil {
		return nil, nil, err
	}

	identity, err := v.registry.Lookup(ctx, tx.PublicKey)
	if err != nil {
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil, nil, coreerrors.ErrUnknownIdentity
		}
		return nil, nil, err
	}
	if !identity.Active {
		return nil, nil, coreerrors.ErrInactiveIdentity
	}

	seal, err := v.seals.ActiveSeal(ctx, tx.PublicKey, tx.SealFingerprint)
	if err != nil {
		return nil, nil, err
	}

	message, err := tx.SigningBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
	}
	if !crypto.Verify(message, tx.Signature, seal.PublicKey, seal.KeyType) {
		return nil, nil, coreerrors.ErrInvalidSignature
	}

	state, err := v.registry.store.GetState(ctx, tx.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	expected := state.Nonce + 1
	switch {
	case tx.Nonce < expected:
		return nil, nil, fmt.Errorf("%w: got %d, expected %d", coreerrors.ErrNonceTooLow, tx.Nonce, expected)
	case tx.Nonce > expected:
		return nil, nil, fmt.Errorf("%w: got %d, expected %d", coreerrors.ErrNonceTooHigh, tx.Nonce, expected)
	}

	if v.policy.SkewWindow > 0 {
		drift := v.now().Sub(time.Unix(tx.Payload.Timestamp, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > v.policy.SkewWindow {
			return nil, nil, coreerrors.ErrTimestampSkew
		}
	}

	return seal, state.Clone(), nil
}

// checkStructure is stage one: field presence, enum membership, size bounds.
// No storage access.
func (v *Validator) checkStructure(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", coreerrors.ErrStructural)
	}
	if tx.Version != types.ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %q", coreerrors.ErrStructural, tx.Version)
	}
	if !strings.HasPrefix(tx.PublicKey, crypto.IdentityFingerprintPrefix) {
		return fmt.Errorf("%w: malformed identity fingerprint", coreerrors.ErrStructural)
	}
	if !strings.HasPrefix(tx.SealFingerprint, crypto.SealFingerprintPrefix) {
		return fmt.Errorf("%w: malformed seal fingerprint", coreerrors.ErrStructural)
	}
	if len(tx.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", coreerrors.ErrStructural)
	}
	if !tx.Payload.Type.Recognized() {
		return fmt.Errorf("%w: unknown payload type %q", coreerrors.ErrStructural, tx.Payload.Type)
	}
	if tx.Payload.Timestamp <= 0 {
		return fmt.Errorf("%w: missing payload timestamp", coreerrors.ErrStructural)
	}

	encoded, err := tx.SigningBytes()
	if err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
	}
	if len(encoded) > v.policy.MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", coreerrors.ErrStructural, v.policy.MaxPayloadBytes)
	}

	switch tx.Payload.Type {
	case types.PayloadTokenTransfer:
		if _, err := transferAmount(tx.Payload.Data); err != nil {
			return err
		}
		if _, err := transferRecipient(tx.Payload.Data); err != nil {
			return err
		}
	case types.PayloadSealRotation:
		if _, _, retire, err := rotationRequest(tx.Payload.Data); err != nil {
			return err
		} else if retire {
			return nil
		}
	case types.PayloadData:
		if len(tx.Payload.Data) == 0 && len(tx.Payload.EncryptedData) == 0 {
			return fmt.Errorf("%w: data payload is empty", coreerrors.ErrStructural)
		}
	}
	return nil
}

// --- payload field extraction. JSON decoding hands numbers over as float64;
// builders in this module hand them over as ints. Both are accepted. ---

func transferAmount(data map[string]any) (int64, error) {
	raw, ok := data[types.TransferFieldAmount]
	if !ok {
		return 0, fmt.Errorf("%w: transfer missing %q", coreerrors.ErrStructural, types.TransferFieldAmount)
	}
	switch n := raw.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%w: transfer amount must be integral", coreerrors.ErrStructural)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: transfer amount has invalid type", coreerrors.ErrStructural)
	}
}

func transferRecipient(data map[string]any) (string, error) {
	raw, ok := data[types.TransferFieldRecipient].(string)
	if !ok || !strings.HasPrefix(raw, crypto.IdentityFingerprintPrefix) {
		return "", fmt.Errorf("%w: transfer missing recipient fingerprint", coreerrors.ErrStructural)
	}
	return raw, nil
}

// rotationRequest extracts the new seal public key (base64) and its key type,
// or the retire flag, from a seal_rotation payload. The key type defaults to
// ed25519 when the payload omits it.
func rotationRequest(data map[string]any) ([]byte, crypto.KeyType, bool, error) {
	if retire, ok := data[types.RotationFieldRetire].(bool); ok && retire {
		return nil, "", true, nil
	}
	keyType := crypto.KeyTypeEd25519
	if raw, ok := data[types.RotationFieldKeyType]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, "", false, fmt.Errorf("%w: rotation %s must be a string", coreerrors.ErrStructural, types.RotationFieldKeyType)
		}
		parsed, err := crypto.ParseKeyType(s)
		if err != nil {
			return nil, "", false, fmt.Errorf("%w: %v", coreerrors.ErrStructural, err)
		}
		keyType = parsed
	}
	encoded, ok := data[types.RotationFieldNewSealPublicKey].(string)
	if !ok || encoded == "" {
		return nil, "", false, fmt.Errorf("%w: rotation missing %q", coreerrors.ErrStructural, types.RotationFieldNewSealPublicKey)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: rotation public key is not base64: %v", coreerrors.ErrStructural, err)
	}
	return key, keyType, false, nil
}
