// Package sqlstore is the relational ledger backend. Its tables mirror the
// reference schema (identities, seal_authorizations, transactions,
// identity_state) with the same uniqueness and foreign-key shape.
package sqlstore

import "gorm.io/gorm"

type identityModel struct {
	ID                   uint   `gorm:"primaryKey"`
	PublicKeyFingerprint string `gorm:"uniqueIndex;not null"`
	PublicKeyBytes       []byte `gorm:"not null"`
	KeyType              string `gorm:"not null"`
	IsActive             bool   `gorm:"not null;default:true"`
	CreatedAt            int64  `gorm:"not null"`
}

func (identityModel) TableName() string { return "identities" }

type sealModel struct {
	ID                  uint   `gorm:"primaryKey"`
	IdentityFingerprint string `gorm:"index;not null;uniqueIndex:idx_identity_seal,priority:1"`
	SealFingerprint     string `gorm:"uniqueIndex:idx_identity_seal,priority:2;index;not null"`
	SealPublicKeyBytes  []byte `gorm:"not null"`
	KeyType             string `gorm:"not null"`
	IsActive            bool   `gorm:"not null;default:true"`
	Version             uint64 `gorm:"not null"`
	AddedAt             int64  `gorm:"not null"`
	DeactivatedAt       int64
}

func (sealModel) TableName() string { return "seal_authorizations" }

type stateModel struct {
	IdentityFingerprint string `gorm:"primaryKey"`
	Balance             int64  `gorm:"not null;default:0"`
	Nonce               uint64 `gorm:"not null;default:0"`
	DataStore           []byte // JSON key/value map
}

func (stateModel) TableName() string { return "identity_state" }

type transactionModel struct {
	TransactionID        string `gorm:"primaryKey"`
	PublicKeyFingerprint string `gorm:"index;not null"`
	SealFingerprint      string `gorm:"not null"`
	PayloadType          string `gorm:"not null"`
	PayloadData          []byte // canonical JSON payload body
	Signature            []byte
	Nonce                uint64 `gorm:"not null"`
	Version              string `gorm:"not null"`
	Status               string `gorm:"index;not null;default:pending"`
	Reason               string
	BlockHeight          uint64
	ReceivedAt           int64 `gorm:"not null"`
	ConfirmedAt          int64
}

func (transactionModel) TableName() string { return "transactions" }

type metaModel struct {
	Key   string `gorm:"primaryKey"`
	Value []byte
}

func (metaModel) TableName() string { return "engine_meta" }

// AutoMigrate performs all schema migrations for the backend.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&identityModel{},
		&sealModel{},
		&stateModel{},
		&transactionModel{},
		&metaModel{},
	)
}
