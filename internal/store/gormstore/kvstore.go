package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValueStore persists one device wallet's offline state. Values must be
// JSON documents; the offline ledger writes a JSON array for the queue and
// bare decimal numbers for the balances.
type KeyValueStore struct {
	db       *gorm.DB
	walletID string
}

// KeyValueStore scopes the wallet_values table to a single wallet.
func (store *Store) KeyValueStore(walletID string) (*KeyValueStore, error) {
	normalized := strings.TrimSpace(walletID)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return &KeyValueStore{db: store.db, walletID: normalized}, nil
}

func (store *KeyValueStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row WalletValue
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND value_key = ?", store.walletID, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorSubjectValue, errorCodeGet, err)
	}
	return []byte(row.Value), true, nil
}

func (store *KeyValueStore) Set(ctx context.Context, key string, value []byte) error {
	return store.upsert(store.db.WithContext(ctx), key, value)
}

func (store *KeyValueStore) Remove(ctx context.Context, key string) error {
	return store.delete(store.db.WithContext(ctx), key)
}

// Apply writes the batch in one database transaction.
func (store *KeyValueStore) Apply(ctx context.Context, writes []offline.KeyWrite) error {
	for _, write := range writes {
		if !write.Remove && !json.Valid(write.Value) {
			return wrapStoreError(errorSubjectValue, errorCodeInvalid, ErrInvalidValue)
		}
	}
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, write := range writes {
			if write.Remove {
				if err := store.delete(tx, write.Key); err != nil {
					return err
				}
				continue
			}
			if err := store.upsert(tx, write.Key, write.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (store *KeyValueStore) upsert(db *gorm.DB, key string, value []byte) error {
	if !json.Valid(value) {
		return wrapStoreError(errorSubjectValue, errorCodeInvalid, ErrInvalidValue)
	}
	row := WalletValue{
		WalletID: store.walletID,
		Key:      key,
		Value:    string(value),
	}
	err := db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_id"}, {Name: "value_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeUpsert, err)
	}
	return nil
}

func (store *KeyValueStore) delete(db *gorm.DB, key string) error {
	err := db.
		Where("wallet_id = ? AND value_key = ?", store.walletID, key).
		Delete(&WalletValue{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeDelete, err)
	}
	return nil
}
