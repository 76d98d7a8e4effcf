package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletValue mirrors the wallet_values table. Each device wallet owns one
// row per persisted key. Value is kept as text so sqlite does not coerce
// bare JSON numbers into integers.
type WalletValue struct {
	WalletID  string    `gorm:"primaryKey;size:128"`
	Key       string    `gorm:"column:value_key;primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (WalletValue) TableName() string { return "wallet_values" }

// Account mirrors the sync_accounts table.
type Account struct {
	UserID    string          `gorm:"primaryKey;size:128"`
	Balance   decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "sync_accounts" }

// AppliedTransfer mirrors the applied_transfers table.
type AppliedTransfer struct {
	UserID              string          `gorm:"primaryKey;size:128"`
	ClientTransactionID string          `gorm:"primaryKey;size:128"`
	ServerTransactionID string          `gorm:"type:uuid;not null;uniqueIndex"`
	ReceiverID          string          `gorm:"not null;index"`
	Amount              decimal.Decimal `gorm:"type:numeric;not null"`
	NewBalance          decimal.Decimal `gorm:"type:numeric;not null"`
	ClientTimestamp     int64           `gorm:"not null"`
	Metadata            datatypes.JSON  `gorm:"not null"`
	CreatedAt           time.Time       `gorm:"not null"`
}

type transferMetadata struct {
	ReceiverUsername string `json:"receiverUsername,omitempty"`
	Signature        string `json:"signature"`
}

func (AppliedTransfer) TableName() string { return "applied_transfers" }

func (transfer *AppliedTransfer) BeforeCreate(tx *gorm.DB) error {
	if transfer.ServerTransactionID == "" {
		transfer.ServerTransactionID = uuid.NewString()
	}
	return nil
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&WalletValue{}, &Account{}, &AppliedTransfer{}}
}
