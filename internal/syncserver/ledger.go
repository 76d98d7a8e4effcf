package syncserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User-visible failure reasons returned per rejected queue entry.
const (
	ReasonIntegrityCheckFailed = "Integrity check failed"
	ReasonUnsupportedType      = "Unsupported offline transaction"
	ReasonInvalidAmount        = "Invalid amount"
	ReasonSelfTransfer         = "Cannot transfer to yourself"
	ReasonUserNotFound         = "User not found"
	ReasonInsufficientBalance  = "Insufficient wallet balance"

	messageNothingToSync = "No transactions to sync"
	messageAllSynced     = "All transactions synced"
	messagePartialSync   = "Partial sync"
)

// Ledger applies batched offline transfers against the authoritative
// account book.
type Ledger struct {
	book           Book
	signer         offline.Signer
	openingBalance decimal.Decimal
	nowFn          func() time.Time
	mutex          sync.Mutex
}

// NewLedger validates dependencies and returns a Ledger.
func NewLedger(book Book, signer offline.Signer, openingBalance decimal.Decimal, now func() time.Time) (*Ledger, error) {
	if book == nil {
		return nil, fmt.Errorf("%w: book is nil", ErrInvalidLedgerConfig)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signer is nil", ErrInvalidLedgerConfig)
	}
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", ErrInvalidLedgerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidLedgerConfig)
	}
	return &Ledger{
		book:           book,
		signer:         signer,
		openingBalance: openingBalance,
		nowFn:          now,
	}, nil
}

// Balance returns the user's balance, opening the account on first use.
func (ledger *Ledger) Balance(ctx context.Context, userID string) (offline.Balance, error) {
	balance, err := ledger.book.OpenAccount(ctx, userID, ledger.openingBalance)
	if err != nil {
		return offline.Balance{}, err
	}
	return offline.NewBalance(balance)
}

// Sync applies transactions in client timestamp order inside a single book
// transaction. Entries already applied for this user are replayed from the
// book instead of being debited twice.
func (ledger *Ledger) Sync(ctx context.Context, userID string, transactions []offline.OfflineTransaction) (offline.SyncResponse, error) {
	if len(transactions) == 0 {
		return offline.SyncResponse{
			Success:            true,
			Message:            messageNothingToSync,
			SyncedTransactions: []offline.SyncedTransaction{},
			Failures:           []offline.SyncFailure{},
		}, nil
	}

	ordered := make([]offline.OfflineTransaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(left, right int) bool {
		return ordered[left].ClientTimestamp < ordered[right].ClientTimestamp
	})

	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()

	synced := make([]offline.SyncedTransaction, 0, len(ordered))
	failures := make([]offline.SyncFailure, 0)
	var finalBalance decimal.Decimal
	err := ledger.book.WithTx(ctx, func(ctx context.Context, txBook Book) error {
		senderBalance, err := txBook.OpenAccount(ctx, userID, ledger.openingBalance)
		if err != nil {
			return err
		}
		for _, transaction := range ordered {
			applied, found, err := txBook.FindTransfer(ctx, userID, transaction.ClientTransactionID.String())
			if err != nil {
				return err
			}
			if found {
				syncedEntry, err := syncedFromApplied(transaction, applied)
				if err != nil {
					return err
				}
				synced = append(synced, syncedEntry)
				continue
			}
			if reason := ledger.precheck(userID, transaction); reason != "" {
				failures = append(failures, failureFor(transaction, reason))
				continue
			}
			receiverBalance, err := txBook.AccountBalance(ctx, transaction.ReceiverID)
			if errors.Is(err, ErrUnknownAccount) {
				failures = append(failures, failureFor(transaction, ReasonUserNotFound))
				continue
			}
			if err != nil {
				return err
			}
			amount := transaction.Amount.Decimal()
			if senderBalance.LessThan(amount) {
				failures = append(failures, failureFor(transaction, ReasonInsufficientBalance))
				continue
			}
			senderBalance = senderBalance.Sub(amount)
			if err := txBook.SetAccountBalance(ctx, userID, senderBalance); err != nil {
				return err
			}
			if err := txBook.SetAccountBalance(ctx, transaction.ReceiverID, receiverBalance.Add(amount)); err != nil {
				return err
			}
			recorded, err := txBook.RecordTransfer(ctx, AppliedTransfer{
				UserID:              userID,
				ClientTransactionID: transaction.ClientTransactionID.String(),
				ServerTransactionID: uuid.NewString(),
				ReceiverID:          transaction.ReceiverID,
				ReceiverUsername:    transaction.ReceiverUsername,
				Signature:           transaction.Signature,
				Amount:              amount,
				NewBalance:          senderBalance,
				ClientTimestamp:     transaction.ClientTimestamp,
				CreatedAt:           ledger.nowFn().UTC(),
			})
			if err != nil {
				return err
			}
			syncedEntry, err := syncedFromApplied(transaction, recorded)
			if err != nil {
				return err
			}
			synced = append(synced, syncedEntry)
		}
		finalBalance = senderBalance
		return nil
	})
	if err != nil {
		return offline.SyncResponse{}, err
	}

	newBalance, err := offline.NewBalance(finalBalance)
	if err != nil {
		return offline.SyncResponse{}, err
	}
	response := offline.SyncResponse{
		Success:            len(failures) == 0 || len(synced) > 0,
		Message:            messageAllSynced,
		NewBalance:         &newBalance,
		SyncedTransactions: synced,
		Failures:           failures,
	}
	if len(failures) > 0 {
		response.Message = messagePartialSync
	}
	return response, nil
}

func (ledger *Ledger) precheck(userID string, transaction offline.OfflineTransaction) string {
	if !offline.VerifySignature(ledger.signer, transaction) {
		return ReasonIntegrityCheckFailed
	}
	if transaction.Type != offline.TransactionTypeTransfer {
		return ReasonUnsupportedType
	}
	if !transaction.Amount.Decimal().IsPositive() {
		return ReasonInvalidAmount
	}
	if strings.TrimSpace(transaction.ReceiverID) == userID {
		return ReasonSelfTransfer
	}
	return ""
}

func syncedFromApplied(transaction offline.OfflineTransaction, applied AppliedTransfer) (offline.SyncedTransaction, error) {
	amount, err := offline.NewAmount(applied.Amount)
	if err != nil {
		return offline.SyncedTransaction{}, err
	}
	newBalance, err := offline.NewBalance(applied.NewBalance)
	if err != nil {
		return offline.SyncedTransaction{}, err
	}
	return offline.SyncedTransaction{
		ClientTransactionID: transaction.ClientTransactionID,
		ServerTransactionID: applied.ServerTransactionID,
		Type:                offline.TransactionTypeTransfer,
		Amount:              amount,
		NewBalance:          newBalance,
	}, nil
}

func failureFor(transaction offline.OfflineTransaction, reason string) offline.SyncFailure {
	return offline.SyncFailure{
		ClientTransactionID: transaction.ClientTransactionID,
		Type:                transaction.Type,
		Amount:              transaction.Amount,
		Reason:              reason,
	}
}
