package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/internal/syncserver"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txBook syncserver.Book) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) OpenAccount(ctx context.Context, userID string, openingBalance decimal.Decimal) (decimal.Decimal, error) {
	account := Account{UserID: userID, Balance: openingBalance}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&account).Error
	if err != nil {
		return decimal.Decimal{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return store.AccountBalance(ctx, userID)
}

func (store *Store) AccountBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Decimal{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, syncserver.ErrUnknownAccount)
		}
		return decimal.Decimal{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.Balance, nil
}

func (store *Store) SetAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, syncserver.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) FindTransfer(ctx context.Context, userID string, clientTransactionID string) (syncserver.AppliedTransfer, bool, error) {
	var row AppliedTransfer
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND client_transaction_id = ?", userID, clientTransactionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return syncserver.AppliedTransfer{}, false, nil
	}
	if err != nil {
		return syncserver.AppliedTransfer{}, false, wrapStoreError(errorSubjectTransfer, errorCodeGet, err)
	}
	transfer, err := mapAppliedTransfer(row)
	if err != nil {
		return syncserver.AppliedTransfer{}, false, err
	}
	return transfer, true, nil
}

func (store *Store) RecordTransfer(ctx context.Context, transfer syncserver.AppliedTransfer) (syncserver.AppliedTransfer, error) {
	metadata, err := json.Marshal(transferMetadata{
		ReceiverUsername: transfer.ReceiverUsername,
		Signature:        transfer.Signature,
	})
	if err != nil {
		return syncserver.AppliedTransfer{}, wrapStoreError(errorSubjectTransfer, errorCodeCreate, err)
	}
	row := AppliedTransfer{
		UserID:              transfer.UserID,
		ClientTransactionID: transfer.ClientTransactionID,
		ServerTransactionID: transfer.ServerTransactionID,
		ReceiverID:          transfer.ReceiverID,
		Amount:              transfer.Amount,
		NewBalance:          transfer.NewBalance,
		ClientTimestamp:     transfer.ClientTimestamp,
		Metadata:            datatypes.JSON(metadata),
		CreatedAt:           transfer.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateKey(err) {
		return syncserver.AppliedTransfer{}, wrapStoreError(errorSubjectTransfer, errorCodeDuplicate, syncserver.ErrDuplicateTransfer)
	}
	if err != nil {
		return syncserver.AppliedTransfer{}, wrapStoreError(errorSubjectTransfer, errorCodeCreate, err)
	}
	return mapAppliedTransfer(row)
}

func mapAppliedTransfer(row AppliedTransfer) (syncserver.AppliedTransfer, error) {
	var metadata transferMetadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return syncserver.AppliedTransfer{}, wrapStoreError(errorSubjectTransfer, errorCodeDecode, err)
		}
	}
	return syncserver.AppliedTransfer{
		UserID:              row.UserID,
		ClientTransactionID: row.ClientTransactionID,
		ServerTransactionID: row.ServerTransactionID,
		ReceiverID:          row.ReceiverID,
		Amount:              row.Amount,
		NewBalance:          row.NewBalance,
		ClientTimestamp:     row.ClientTimestamp,
		ReceiverUsername:    metadata.ReceiverUsername,
		Signature:           metadata.Signature,
		CreatedAt:           row.CreatedAt,
	}, nil
}
