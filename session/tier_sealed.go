package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/storage"
)

const (
	slotRecordType     = "SLOT"
	tierKeyType        = "TIER_KEY"
	tierKeyID          = "current"
	slotAADPrefix      = "slot:"
	tierKeyWrappingAAD = "vestio:session_tier_key:v1"
	wrappingKeyPurpose = "vestio:session_wrapping_key:v1"

	// DurableNamespace is the repository namespace of the durable tier.
	DurableNamespace = "__durable_session"
)

// SealedTier stores slot values in a storage.Repository, encrypted at rest
// using AES-256-GCM. Backed by a file repository it is the durable tier.
//
// The record key is itself sealed with a wrapping key derived from an
// externally provided secret, so a copy of the database file alone does not
// reveal tokens.
type SealedTier struct {
	repo      storage.Repository
	namespace string
	key       []byte
	closeOnce sync.Once
}

var _ Tier = (*SealedTier)(nil)

// NewSealedTier opens (or initializes) a sealed tier in namespace.
func NewSealedTier(repo storage.Repository, namespace string, wrappingSecret []byte) (*SealedTier, error) {
	wk, err := util.DeriveKey(wrappingSecret, []byte(namespace), wrappingKeyPurpose)
	if err != nil {
		return nil, fmt.Errorf("deriving wrapping key: %w", err)
	}
	defer util.WipeBytes(wk)

	key, err := loadOrCreateTierKey(repo, namespace, wk)
	if err != nil {
		return nil, err
	}
	return &SealedTier{repo: repo, namespace: namespace, key: key}, nil
}

// Close wipes key material. The tier must not be used afterwards.
func (t *SealedTier) Close() {
	t.closeOnce.Do(func() {
		util.WipeBytes(t.key)
	})
}

func (t *SealedTier) Load(key string) (string, bool, error) {
	env, err := t.repo.Get(t.namespace, slotRecordType, key)
	if storage.IsMissing(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading %s: %w", key, err)
	}
	data, err := storage.OpenRecord(t.key, env, []byte(slotAADPrefix+key))
	if err != nil {
		// Unreadable entry: drop it so the slot reads as empty from now on.
		err = fmt.Errorf("opening %s: %w", key, err)
		if derr := t.repo.Delete(t.namespace, slotRecordType, key); derr != nil && !storage.IsMissing(derr) {
			err = errors.Join(err, fmt.Errorf("dropping %s: %w", key, derr))
		}
		return "", false, err
	}
	defer util.WipeBytes(data)
	return string(data), true, nil
}

func (t *SealedTier) Save(values map[string]string) error {
	envs := make(map[string]*storage.Envelope, len(values))
	for k, v := range values {
		env, err := storage.SealRecord(t.key, []byte(v), []byte(slotAADPrefix+k))
		if err != nil {
			return fmt.Errorf("sealing %s: %w", k, err)
		}
		envs[k] = env
	}
	return t.repo.Batch(t.namespace, func(tx storage.BatchTx) error {
		for k, env := range envs {
			if err := tx.Put(slotRecordType, k, env); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *SealedTier) Clear(keys ...string) error {
	return t.repo.Batch(t.namespace, func(tx storage.BatchTx) error {
		for _, k := range keys {
			if err := tx.Delete(slotRecordType, k); err != nil && !storage.IsMissing(err) {
				return err
			}
		}
		return nil
	})
}

// loadOrCreateTierKey loads the record key from storage, unsealing it with
// the wrapping key. If no key exists, or the stored one cannot be opened
// because the wrapping secret changed, a new key is generated and persisted;
// slot records sealed under the old key are discarded.
func loadOrCreateTierKey(repo storage.Repository, namespace string, wrappingKey []byte) ([]byte, error) {
	aad := []byte(tierKeyWrappingAAD)

	env, err := repo.Get(namespace, tierKeyType, tierKeyID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
		if err := discardSlots(repo, namespace); err != nil {
			return nil, err
		}
	case !storage.IsMissing(err):
		return nil, fmt.Errorf("loading tier key: %w", err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new tier key: %w", err)
	}
	if err := repo.Put(namespace, tierKeyType, tierKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting tier key: %w", err)
	}
	return key, nil
}

func discardSlots(repo storage.Repository, namespace string) error {
	ids, err := repo.List(namespace, slotRecordType)
	if err != nil {
		return fmt.Errorf("listing slots: %w", err)
	}
	return repo.Batch(namespace, func(tx storage.BatchTx) error {
		for _, id := range ids {
			if err := tx.Delete(slotRecordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}
