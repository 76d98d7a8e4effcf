package syncserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/shopspring/decimal"
)

const (
	testSenderID   = "alice-id"
	testReceiverID = "bob-id"
	testSigningKey = "token-secret"
	testIssuer     = "walletsync-test"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type memoryBook struct {
	mutex      sync.Mutex
	accounts   map[string]decimal.Decimal
	transfers  map[string]AppliedTransfer
	recordErr  error
	recordSeen int
}

func newMemoryBook() *memoryBook {
	return &memoryBook{
		accounts:  map[string]decimal.Decimal{},
		transfers: map[string]AppliedTransfer{},
	}
}

func (book *memoryBook) WithTx(ctx context.Context, fn func(ctx context.Context, txBook Book) error) error {
	book.mutex.Lock()
	accounts := make(map[string]decimal.Decimal, len(book.accounts))
	for key, value := range book.accounts {
		accounts[key] = value
	}
	transfers := make(map[string]AppliedTransfer, len(book.transfers))
	for key, value := range book.transfers {
		transfers[key] = value
	}
	book.mutex.Unlock()

	if err := fn(ctx, book); err != nil {
		book.mutex.Lock()
		book.accounts = accounts
		book.transfers = transfers
		book.mutex.Unlock()
		return err
	}
	return nil
}

func (book *memoryBook) OpenAccount(_ context.Context, userID string, openingBalance decimal.Decimal) (decimal.Decimal, error) {
	book.mutex.Lock()
	defer book.mutex.Unlock()
	if _, ok := book.accounts[userID]; !ok {
		book.accounts[userID] = openingBalance
	}
	return book.accounts[userID], nil
}

func (book *memoryBook) AccountBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	book.mutex.Lock()
	defer book.mutex.Unlock()
	balance, ok := book.accounts[userID]
	if !ok {
		return decimal.Decimal{}, ErrUnknownAccount
	}
	return balance, nil
}

func (book *memoryBook) SetAccountBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	book.mutex.Lock()
	defer book.mutex.Unlock()
	if _, ok := book.accounts[userID]; !ok {
		return ErrUnknownAccount
	}
	book.accounts[userID] = balance
	return nil
}

func (book *memoryBook) FindTransfer(_ context.Context, userID string, clientTransactionID string) (AppliedTransfer, bool, error) {
	book.mutex.Lock()
	defer book.mutex.Unlock()
	transfer, ok := book.transfers[userID+"/"+clientTransactionID]
	return transfer, ok, nil
}

func (book *memoryBook) RecordTransfer(_ context.Context, transfer AppliedTransfer) (AppliedTransfer, error) {
	book.mutex.Lock()
	defer book.mutex.Unlock()
	book.recordSeen++
	if book.recordErr != nil {
		return AppliedTransfer{}, book.recordErr
	}
	key := transfer.UserID + "/" + transfer.ClientTransactionID
	if _, exists := book.transfers[key]; exists {
		return AppliedTransfer{}, ErrDuplicateTransfer
	}
	book.transfers[key] = transfer
	return transfer, nil
}

func (book *memoryBook) balanceOf(test *testing.T, userID string) decimal.Decimal {
	test.Helper()
	balance, err := book.AccountBalance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance of %s: %v", userID, err)
	}
	return balance
}

var errBookUnavailable = errors.New("book unavailable")

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func mustLedger(test *testing.T, book Book, openingBalance int64) *Ledger {
	test.Helper()
	ledger, err := NewLedger(book, offline.JoinSigner{}, decimal.NewFromInt(openingBalance), fixedClock(testNow))
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	return ledger
}

func mustAuthority(test *testing.T, now time.Time) *TokenAuthority {
	test.Helper()
	authority, err := NewTokenAuthority(testSigningKey, testIssuer, time.Hour, fixedClock(now))
	if err != nil {
		test.Fatalf("authority: %v", err)
	}
	return authority
}

func signedTransfer(test *testing.T, id string, receiverID string, amount int64, clientTimestamp int64) offline.OfflineTransaction {
	test.Helper()
	clientTransactionID, err := offline.NewClientTransactionID(id)
	if err != nil {
		test.Fatalf("client transaction id: %v", err)
	}
	parsedAmount, err := offline.NewAmountFromInt(amount)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	transaction := offline.OfflineTransaction{
		ClientTransactionID: clientTransactionID,
		Type:                offline.TransactionTypeTransfer,
		ReceiverID:          receiverID,
		ReceiverUsername:    "bob",
		Amount:              parsedAmount,
		ClientTimestamp:     clientTimestamp,
		Status:              offline.TransactionStatusPending,
	}
	transaction.Signature = offline.JoinSigner{}.Sign(transaction)
	return transaction
}
