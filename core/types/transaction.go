package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// PayloadType defines the purpose of a transaction.
type PayloadType string

const (
	PayloadData            PayloadType = "data"             // write keys into the identity's data store
	PayloadTokenTransfer   PayloadType = "token_transfer"   // move balance between identities
	PayloadSealRotation    PayloadType = "seal_rotation"    // replace the authorizing seal
	PayloadContractDeploy  PayloadType = "contract_deploy"  // reserved, rejected by the applier
	PayloadContractExecute PayloadType = "contract_execute" // reserved, rejected by the applier
)

// Recognized reports whether the payload type is part of the protocol enum.
func (p PayloadType) Recognized() bool {
	switch p {
	case PayloadData, PayloadTokenTransfer, PayloadSealRotation, PayloadContractDeploy, PayloadContractExecute:
		return true
	}
	return false
}

// Status is the terminal-state machine for persisted transactions: pending
// flips to exactly one of confirmed or rejected and never moves again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// TxIDPrefix tags transaction IDs on the wire.
const TxIDPrefix = "veiltx:"

// ProtocolVersion is the current transaction format version.
const ProtocolVersion = "1.0"

// Payload carries the type-specific body of a transaction. Metadata travels
// with the transaction and is hashed into its ID but is not covered by the
// signature; no current payload type opts it in.
//
// Field declaration order is alphabetical by JSON name on purpose: signing
// bytes are produced from this fixed layout, so declaration order is the
// canonical key order.
type Payload struct {
	Data map[string]any `json:"data,omitempty"`
	// EncryptedData carries an AES-256-GCM envelope produced client-side
	// under a key derived from the sender's seal. The engine treats it as
	// opaque bytes; on the wire it is base64.
	EncryptedData []byte         `json:"encrypted_data,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Type          PayloadType    `json:"type"`
}

// NewPayload stamps a payload with the current wall clock.
func NewPayload(t PayloadType, data map[string]any) Payload {
	return Payload{Type: t, Data: data, Timestamp: time.Now().Unix()}
}

// Transaction is a signed, sealed instruction from an identity. PublicKey is
// the sender's identity fingerprint; SealFingerprint names the authority that
// signed it.
type Transaction struct {
	Nonce           uint64  `json:"nonce"`
	Payload         Payload `json:"payload"`
	PublicKey       string  `json:"public_key"`
	SealFingerprint string  `json:"seal_fingerprint"`
	Signature       []byte  `json:"signature,omitempty"`
	Version         string  `json:"version"`
}

// signingView is the canonical signing layout: every signed field, no
// signature, keys in sorted order via declaration order.
type signingView struct {
	Nonce           uint64  `json:"nonce"`
	Payload         Payload `json:"payload"`
	PublicKey       string  `json:"public_key"`
	SealFingerprint string  `json:"seal_fingerprint"`
	Version         string  `json:"version"`
}

// SigningBytes returns the deterministic byte encoding the seal signs and
// nodes verify. encoding/json emits struct fields in declaration order and
// sorts map keys, so two payloads with equal contents always serialize
// identically regardless of map insertion order.
func (tx *Transaction) SigningBytes() ([]byte, error) {
	view := signingView{
		Nonce:           tx.Nonce,
		Payload:         tx.Payload,
		PublicKey:       tx.PublicKey,
		SealFingerprint: tx.SealFingerprint,
		Version:         tx.Version,
	}
	return json.Marshal(view)
}

// ID computes the content-hash transaction ID over the canonical signing
// bytes. Deterministic: recomputing on any node yields the same ID.
func (tx *Transaction) ID() (string, error) {
	b, err := tx.SigningBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return TxIDPrefix + hex.EncodeToString(sum[:]), nil
}

// Record is the persisted form of a transaction together with its terminal
// status. Once Status leaves pending the record is immutable.
type Record struct {
	Tx          Transaction `json:"tx"`
	ID          string      `json:"id"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	BlockHeight uint64      `json:"block_height,omitempty"`
	ReceivedAt  int64       `json:"received_at"`
	ConfirmedAt int64       `json:"confirmed_at,omitempty"`
}

// Rotation payload field names, shared by builders and the coordinator.
const (
	RotationFieldNewSealPublicKey = "new_seal_public_key"
	RotationFieldKeyType          = "key_type"
	RotationFieldRetire           = "retire"
)

// Transfer payload field names.
const (
	TransferFieldAmount    = "amount"
	TransferFieldRecipient = "recipient"
)
