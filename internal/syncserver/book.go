package syncserver

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AppliedTransfer is the durable record of an offline transfer the server
// has settled. It is keyed by (UserID, ClientTransactionID) and replayed
// when the same id is submitted again.
type AppliedTransfer struct {
	UserID              string
	ClientTransactionID string
	ServerTransactionID string
	ReceiverID          string
	ReceiverUsername    string
	Signature           string
	Amount              decimal.Decimal
	NewBalance          decimal.Decimal
	ClientTimestamp     int64
	CreatedAt           time.Time
}

// Book persists server-side account balances and applied transfers.
type Book interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txBook Book) error) error
	// OpenAccount creates the account with the opening balance when it does
	// not exist and returns the current balance.
	OpenAccount(ctx context.Context, userID string, openingBalance decimal.Decimal) (decimal.Decimal, error)
	AccountBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	FindTransfer(ctx context.Context, userID string, clientTransactionID string) (AppliedTransfer, bool, error)
	RecordTransfer(ctx context.Context, transfer AppliedTransfer) (AppliedTransfer, error)
}
