package types

import "veilnet/crypto"

// Identity is the permanent account record. The public key bytes are
// immutable for the identity's lifetime; rotation changes seals, never the
// identity. Identities are deactivated, never deleted.
type Identity struct {
	Fingerprint string         `json:"fingerprint"`
	KeyType     crypto.KeyType `json:"key_type"`
	PublicKey   []byte         `json:"public_key"`
	Active      bool           `json:"active"`
	CreatedAt   int64          `json:"created_at"`
}

// Address returns the identity's bech32 display address.
func (id *Identity) Address() crypto.Address {
	return crypto.AddressFromPublicKey(id.PublicKey)
}

// SealAuthorization binds a seal public key to an identity. Version is a
// per-identity counter bumped on every authorization so rotation history
// totally orders the seals an identity has carried.
type SealAuthorization struct {
	Fingerprint   string         `json:"fingerprint"`
	Identity      string         `json:"identity"`
	KeyType       crypto.KeyType `json:"key_type"`
	PublicKey     []byte         `json:"public_key"`
	Active        bool           `json:"active"`
	Version       uint64         `json:"version"`
	AddedAt       int64          `json:"added_at"`
	DeactivatedAt int64          `json:"deactivated_at,omitempty"`
}

// IdentityState holds the mutable per-identity ledger state. It exists from
// the moment the identity registers (balance 0, nonce 0) and is mutated only
// by the state transition applier.
type IdentityState struct {
	Identity string            `json:"identity"`
	Balance  int64             `json:"balance"`
	Nonce    uint64            `json:"nonce"`
	Data     map[string]string `json:"data,omitempty"`
}

// Clone returns a deep copy so validation can work on a snapshot without
// aliasing the stored map.
func (s *IdentityState) Clone() *IdentityState {
	out := &IdentityState{Identity: s.Identity, Balance: s.Balance, Nonce: s.Nonce}
	if len(s.Data) > 0 {
		out.Data = make(map[string]string, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return out
}
