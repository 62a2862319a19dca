package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"
)

const digestMetaKey = "confirmation-digest"

// Store implements ledger.Store on SQLite through gorm. Commit wraps the
// whole change set in one database transaction, so the atomicity contract is
// the database's.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle (tests use in-memory SQLite).
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) GetIdentity(ctx context.Context, fingerprint string) (*types.Identity, error) {
	var m identityModel
	err := s.db.WithContext(ctx).Where("public_key_fingerprint = ?", fingerprint).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coreerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &types.Identity{
		Fingerprint: m.PublicKeyFingerprint,
		KeyType:     crypto.KeyType(m.KeyType),
		PublicKey:   m.PublicKeyBytes,
		Active:      m.IsActive,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func (s *Store) GetSeal(ctx context.Context, sealFingerprint string) (*types.SealAuthorization, error) {
	var m sealModel
	err := s.db.WithContext(ctx).Where("seal_fingerprint = ?", sealFingerprint).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coreerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sealFromModel(&m), nil
}

func (s *Store) SealsByIdentity(ctx context.Context, identityFingerprint string) ([]*types.SealAuthorization, error) {
	var ms []sealModel
	err := s.db.WithContext(ctx).
		Where("identity_fingerprint = ?", identityFingerprint).
		Order("version ASC").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.SealAuthorization, 0, len(ms))
	for i := range ms {
		out = append(out, sealFromModel(&ms[i]))
	}
	return out, nil
}

func (s *Store) GetState(ctx context.Context, identityFingerprint string) (*types.IdentityState, error) {
	var m stateModel
	err := s.db.WithContext(ctx).Where("identity_fingerprint = ?", identityFingerprint).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coreerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	state := &types.IdentityState{
		Identity: m.IdentityFingerprint,
		Balance:  m.Balance,
		Nonce:    m.Nonce,
	}
	if len(m.DataStore) > 0 {
		if err := json.Unmarshal(m.DataStore, &state.Data); err != nil {
			return nil, fmt.Errorf("decode data store: %w", err)
		}
	}
	return state, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*types.Record, error) {
	var m transactionModel
	err := s.db.WithContext(ctx).Where("transaction_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coreerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordFromModel(&m)
}

func (s *Store) TransactionsByIdentity(ctx context.Context, identityFingerprint string, limit int) ([]*types.Record, error) {
	q := s.db.WithContext(ctx).
		Where("public_key_fingerprint = ?", identityFingerprint).
		Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []transactionModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	return recordsFromModels(ms)
}

func (s *Store) PendingTransactions(ctx context.Context, limit int) ([]*types.Record, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", string(types.StatusPending)).
		Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []transactionModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	return recordsFromModels(ms)
}

func (s *Store) ConfirmationDigest(ctx context.Context) ([]byte, error) {
	var m metaModel
	err := s.db.WithContext(ctx).Where("key = ?", digestMetaKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

func (s *Store) Commit(ctx context.Context, cs *ledger.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range cs.Identities {
			m := identityModel{
				PublicKeyFingerprint: id.Fingerprint,
				PublicKeyBytes:       id.PublicKey,
				KeyType:              string(id.KeyType),
				IsActive:             id.Active,
				CreatedAt:            id.CreatedAt,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "public_key_fingerprint"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_active"}),
			}).Create(&m).Error
			if err != nil {
				return err
			}
		}
		for _, seal := range cs.Seals {
			m := sealModel{
				IdentityFingerprint: seal.Identity,
				SealFingerprint:     seal.Fingerprint,
				SealPublicKeyBytes:  seal.PublicKey,
				KeyType:             string(seal.KeyType),
				IsActive:            seal.Active,
				Version:             seal.Version,
				AddedAt:             seal.AddedAt,
				DeactivatedAt:       seal.DeactivatedAt,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "identity_fingerprint"}, {Name: "seal_fingerprint"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_active", "deactivated_at"}),
			}).Create(&m).Error
			if err != nil {
				return err
			}
		}
		for _, state := range cs.States {
			if state.Balance < 0 {
				return fmt.Errorf("refusing to persist negative balance for %s", state.Identity)
			}
			var data []byte
			if len(state.Data) > 0 {
				b, err := json.Marshal(state.Data)
				if err != nil {
					return err
				}
				data = b
			}
			m := stateModel{
				IdentityFingerprint: state.Identity,
				Balance:             state.Balance,
				Nonce:               state.Nonce,
				DataStore:           data,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "identity_fingerprint"}},
				DoUpdates: clause.AssignmentColumns([]string{"balance", "nonce", "data_store"}),
			}).Create(&m).Error
			if err != nil {
				return err
			}
		}
		for _, rec := range cs.Records {
			payload, err := json.Marshal(rec.Tx.Payload)
			if err != nil {
				return err
			}
			m := transactionModel{
				TransactionID:        rec.ID,
				PublicKeyFingerprint: rec.Tx.PublicKey,
				SealFingerprint:      rec.Tx.SealFingerprint,
				PayloadType:          string(rec.Tx.Payload.Type),
				PayloadData:          payload,
				Signature:            rec.Tx.Signature,
				Nonce:                rec.Tx.Nonce,
				Version:              rec.Tx.Version,
				Status:               string(rec.Status),
				Reason:               rec.Reason,
				BlockHeight:          rec.BlockHeight,
				ReceivedAt:           rec.ReceivedAt,
				ConfirmedAt:          rec.ConfirmedAt,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "transaction_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "reason", "block_height", "confirmed_at"}),
			}).Create(&m).Error
			if err != nil {
				return err
			}
		}
		if cs.Digest != nil {
			m := metaModel{Key: digestMetaKey, Value: cs.Digest}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&m).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sealFromModel(m *sealModel) *types.SealAuthorization {
	return &types.SealAuthorization{
		Fingerprint:   m.SealFingerprint,
		Identity:      m.IdentityFingerprint,
		KeyType:       crypto.KeyType(m.KeyType),
		PublicKey:     m.SealPublicKeyBytes,
		Active:        m.IsActive,
		Version:       m.Version,
		AddedAt:       m.AddedAt,
		DeactivatedAt: m.DeactivatedAt,
	}
}

func recordFromModel(m *transactionModel) (*types.Record, error) {
	var payload types.Payload
	if len(m.PayloadData) > 0 {
		if err := json.Unmarshal(m.PayloadData, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &types.Record{
		Tx: types.Transaction{
			Nonce:           m.Nonce,
			Payload:         payload,
			PublicKey:       m.PublicKeyFingerprint,
			SealFingerprint: m.SealFingerprint,
			Signature:       m.Signature,
			Version:         m.Version,
		},
		ID:          m.TransactionID,
		Status:      types.Status(m.Status),
		Reason:      m.Reason,
		BlockHeight: m.BlockHeight,
		ReceivedAt:  m.ReceivedAt,
		ConfirmedAt: m.ConfirmedAt,
	}, nil
}

func recordsFromModels(ms []transactionModel) ([]*types.Record, error) {
	out := make([]*types.Record, 0, len(ms))
	for i := range ms {
		rec, err := recordFromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
