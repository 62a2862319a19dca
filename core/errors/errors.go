// Package errors defines the engine's rejection taxonomy. Every validation
// or apply failure maps to exactly one sentinel here, and every sentinel maps
// to a stable reason code that is persisted with the rejected transaction.
package errors

import stderrors "errors"

var (
	// ErrStructural marks a malformed payload: unknown type, missing
	// required fields, or size bounds exceeded. Clients must resubmit a
	// corrected transaction.
	ErrStructural = stderrors.New("tx: malformed payload")
	// ErrUnknownIdentity marks a sender fingerprint with no registered
	// identity.
	ErrUnknownIdentity = stderrors.New("tx: unknown identity")
	// ErrInactiveIdentity marks a sender identity that has been retired.
	ErrInactiveIdentity = stderrors.New("tx: inactive identity")
	// ErrUnauthorizedSeal marks a claimed seal that is not in the sender's
	// active seal set. Security relevant.
	ErrUnauthorizedSeal = stderrors.New("tx: seal not authorized")
	// ErrInvalidSignature marks a signature that does not verify under the
	// claimed seal. Security relevant.
	ErrInvalidSignature = stderrors.New("tx: invalid signature")
	// ErrNonceTooLow marks a replayed or stale nonce.
	ErrNonceTooLow = stderrors.New("tx: nonce too low")
	// ErrNonceTooHigh marks an out-of-order nonce ahead of the sequence.
	ErrNonceTooHigh = stderrors.New("tx: nonce too high")
	// ErrTimestampSkew marks a wall timestamp outside the policy window.
	ErrTimestampSkew = stderrors.New("tx: timestamp outside skew window")
	// ErrBusinessRule marks a payload-specific invariant failure after
	// authority and signature checks passed, e.g. insufficient balance.
	ErrBusinessRule = stderrors.New("tx: business rule violation")
	// ErrLastActiveSeal refuses a deactivation or rotation that would leave
	// an identity with zero active seals without an explicit retire.
	ErrLastActiveSeal = stderrors.New("seal: would leave no active seal")
	// ErrCollaboratorUnavailable marks a storage or collaborator timeout.
	// Transient: no partial state was written, safe for the caller to retry.
	ErrCollaboratorUnavailable = stderrors.New("engine: collaborator unavailable")
)

// Registry and ledger operation failures.
var (
	ErrNotFound          = stderrors.New("record not found")
	ErrDuplicateIdentity = stderrors.New("identity: fingerprint already registered")
	ErrAlreadyInactive   = stderrors.New("identity: already inactive")
	ErrDuplicateSeal     = stderrors.New("seal: fingerprint already registered for identity")
	ErrSealCapExceeded   = stderrors.New("seal: active seal cap reached")
)

// Reason codes persisted on rejected transaction records.
const (
	ReasonStructural              = "structural_error"
	ReasonUnknownIdentity         = "unknown_identity"
	ReasonInactiveIdentity        = "inactive_identity"
	ReasonUnauthorizedSeal        = "unauthorized_seal"
	ReasonInvalidSignature        = "invalid_signature"
	ReasonNonceTooLow             = "nonce_too_low"
	ReasonNonceTooHigh            = "nonce_too_high"
	ReasonTimestampSkew           = "timestamp_skew"
	ReasonBusinessRule            = "business_rule_violation"
	ReasonLastActiveSeal          = "last_active_seal"
	ReasonUnsupportedPayload      = "unsupported_payload"
	ReasonCollaboratorUnavailable = "collaborator_unavailable"
)

// ErrUnsupportedPayload rejects payload types that parse but have no applier
// (contract deploy/execute have no VM behind them).
var ErrUnsupportedPayload = stderrors.New("tx: unsupported payload type")

// Reason maps an engine error to its persisted reason code. Unrecognised
// errors fall back to the business rule code so a rejection is never silently
// recorded without one.
func Reason(err error) string {
	switch {
	case stderrors.Is(err, ErrStructural):
		return ReasonStructural
	case stderrors.Is(err, ErrUnknownIdentity), stderrors.Is(err, ErrNotFound):
		return ReasonUnknownIdentity
	case stderrors.Is(err, ErrInactiveIdentity):
		return ReasonInactiveIdentity
	case stderrors.Is(err, ErrUnauthorizedSeal):
		return ReasonUnauthorizedSeal
	case stderrors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	case stderrors.Is(err, ErrNonceTooLow):
		return ReasonNonceTooLow
	case stderrors.Is(err, ErrNonceTooHigh):
		return ReasonNonceTooHigh
	case stderrors.Is(err, ErrTimestampSkew):
		return ReasonTimestampSkew
	case stderrors.Is(err, ErrLastActiveSeal):
		return ReasonLastActiveSeal
	case stderrors.Is(err, ErrUnsupportedPayload):
		return ReasonUnsupportedPayload
	case stderrors.Is(err, ErrCollaboratorUnavailable):
		return ReasonCollaboratorUnavailable
	default:
		return ReasonBusinessRule
	}
}

// Retryable reports whether the caller may safely resubmit without changing
// the transaction. Only collaborator unavailability qualifies; nonce
// mismatches require the client to refetch the current nonce first.
func Retryable(err error) bool {
	return stderrors.Is(err, ErrCollaboratorUnavailable)
}

// SecurityRelevant reports whether a rejection should be logged distinctly as
// a possible forgery attempt.
func SecurityRelevant(err error) bool {
	return stderrors.Is(err, ErrUnauthorizedSeal) || stderrors.Is(err, ErrInvalidSignature)
}
