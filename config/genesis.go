package config

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"veilnet/core"
	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"
	"veilnet/ledger"

	"gopkg.in/yaml.v3"
)

// Genesis seeds the ledger with identities, seal authorizations and opening
// balances on first boot.
type Genesis struct {
	NetworkName string         `yaml:"networkName"`
	Identities  []GenesisEntry `yaml:"identities"`
}

type GenesisEntry struct {
	KeyType   string   `yaml:"keyType"`
	PublicKey string   `yaml:"publicKey"`
	Balance   int64    `yaml:"balance"`
	Seals     []string `yaml:"seals"`
}

// LoadGenesis parses a genesis file. A missing path yields an empty genesis.
func LoadGenesis(path string) (*Genesis, error) {
	if path == "" {
		return &Genesis{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Genesis{}, nil
		}
		return nil, err
	}
	gen := &Genesis{}
	if err := yaml.Unmarshal(raw, gen); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return gen, nil
}

// Apply registers every genesis identity, authorizes its seals and funds its
// opening balance. Apply is idempotent: identities and seals already present
// are left alone and balances are only funded before the first transaction,
// so re-running at every boot is safe.
func (g *Genesis) Apply(ctx context.Context, eng *core.Engine, store ledger.Store) error {
	for i, entry := range g.Identities {
		keyType, err := crypto.ParseKeyType(entry.KeyType)
		if err != nil {
			return fmt.Errorf("genesis: identity %d: %w", i, err)
		}
		pub, err := base64.StdEncoding.DecodeString(entry.PublicKey)
		if err != nil {
			return fmt.Errorf("genesis: identity %d: decode public key: %w", i, err)
		}

		identity, err := eng.RegisterIdentity(ctx, pub, keyType)
		switch {
		case err == nil:
		case errors.Is(err, coreerrors.ErrDuplicateIdentity):
			identity, err = eng.Identity(ctx, crypto.IdentityFingerprint(pub))
			if err != nil {
				return fmt.Errorf("genesis: identity %d: %w", i, err)
			}
		default:
			return fmt.Errorf("genesis: identity %d: %w", i, err)
		}

		for j, raw := range entry.Seals {
			sealPub, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return fmt.Errorf("genesis: identity %d seal %d: decode: %w", i, j, err)
			}
			if _, err := eng.AuthorizeSeal(ctx, identity.Fingerprint, sealPub, crypto.KeyTypeEd25519); err != nil &&
				!errors.Is(err, coreerrors.ErrDuplicateSeal) {
				return fmt.Errorf("genesis: identity %d seal %d: %w", i, j, err)
			}
		}

		if entry.Balance > 0 {
			if err := fundOnce(ctx, store, identity.Fingerprint, entry.Balance); err != nil {
				return fmt.Errorf("genesis: identity %d: %w", i, err)
			}
		}
	}
	return nil
}

// fundOnce credits the opening balance, but only onto a virgin state. Once the
// identity has moved funds or confirmed a transaction the genesis allocation
// no longer applies.
func fundOnce(ctx context.Context, store ledger.Store, fingerprint string, balance int64) error {
	state, err := store.GetState(ctx, fingerprint)
	if err != nil {
		return err
	}
	if state.Nonce != 0 || state.Balance != 0 {
		return nil
	}
	state.Balance = balance
	return store.Commit(ctx, &ledger.ChangeSet{States: []*types.IdentityState{state}})
}
