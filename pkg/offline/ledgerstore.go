package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LedgerStore owns the persisted offline queue and the two balance scalars.
//
// Every operation loads the full persisted state, applies its change and
// writes the changed keys back. All cycles run under one mutex, so callers
// never interleave read-modify-write cycles against the same store.
type LedgerStore struct {
	kv    KeyValueStore
	mutex sync.Mutex
}

// NewLedgerStore wires a LedgerStore over a key-value collaborator.
func NewLedgerStore(kv KeyValueStore) (*LedgerStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("%w: key-value store dependency is nil", ErrInvalidServiceConfig)
	}
	return &LedgerStore{kv: kv}, nil
}

// LedgerTx is the in-memory view mutated inside WithTx. It must not be
// retained after the callback returns.
type LedgerTx struct {
	transactions     []OfflineTransaction
	shadowBalance    Balance
	lastKnownBalance Balance

	queueDirty     bool
	queueCleared   bool
	shadowDirty    bool
	lastKnownDirty bool
}

// WithTx runs fn inside the store's critical section. Changes are written
// back only when fn returns nil. fn must not call other LedgerStore methods.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, ledgerTx *LedgerTx) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	ledgerTx, err := store.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, ledgerTx); err != nil {
		return err
	}
	return store.commit(ctx, ledgerTx)
}

// List returns every queued transaction in store order.
func (store *LedgerStore) List(ctx context.Context) ([]OfflineTransaction, error) {
	var transactions []OfflineTransaction
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		transactions = ledgerTx.Transactions()
		return nil
	})
	return transactions, err
}

// Pending returns the PENDING transactions in store order.
func (store *LedgerStore) Pending(ctx context.Context) ([]OfflineTransaction, error) {
	var transactions []OfflineTransaction
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		transactions = ledgerTx.Pending()
		return nil
	})
	return transactions, err
}

// Append adds a transaction to the end of the queue.
func (store *LedgerStore) Append(ctx context.Context, transaction OfflineTransaction) error {
	return store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		return ledgerTx.Append(transaction)
	})
}

// SetStatus updates the matching non-terminal entry. Unknown ids are a no-op.
func (store *LedgerStore) SetStatus(ctx context.Context, clientTransactionID ClientTransactionID, status TransactionStatus) error {
	return store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		_, err := ledgerTx.SetStatus(clientTransactionID, status)
		return err
	})
}

// PruneSynced removes every SYNCED entry and reports how many were removed.
func (store *LedgerStore) PruneSynced(ctx context.Context) (int, error) {
	removed := 0
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		removed = ledgerTx.PruneSynced()
		return nil
	})
	return removed, err
}

// ClearTransactions removes the persisted queue key.
func (store *LedgerStore) ClearTransactions(ctx context.Context) error {
	return store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		ledgerTx.ClearTransactions()
		return nil
	})
}

// ShadowBalance returns the locally believed spendable balance.
func (store *LedgerStore) ShadowBalance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		balance = ledgerTx.ShadowBalance()
		return nil
	})
	return balance, err
}

// SetShadowBalance overwrites the shadow balance.
func (store *LedgerStore) SetShadowBalance(ctx context.Context, balance Balance) error {
	return store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		ledgerTx.SetShadowBalance(balance)
		return nil
	})
}

// LastKnownBalance returns the last server-confirmed balance.
func (store *LedgerStore) LastKnownBalance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		balance = ledgerTx.LastKnownBalance()
		return nil
	})
	return balance, err
}

// SetLastKnownBalance overwrites the last server-confirmed balance.
func (store *LedgerStore) SetLastKnownBalance(ctx context.Context, balance Balance) error {
	return store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		ledgerTx.SetLastKnownBalance(balance)
		return nil
	})
}

// DebitShadow subtracts the amount from the shadow balance. It returns false
// without writing anything when the balance is insufficient.
func (store *LedgerStore) DebitShadow(ctx context.Context, amount Amount) (bool, error) {
	debited := false
	err := store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		debited = ledgerTx.DebitShadow(amount)
		return nil
	})
	return debited, err
}

// Transactions returns a copy of the queue.
func (ledgerTx *LedgerTx) Transactions() []OfflineTransaction {
	copied := make([]OfflineTransaction, len(ledgerTx.transactions))
	copy(copied, ledgerTx.transactions)
	return copied
}

// Pending returns the PENDING entries in store order.
func (ledgerTx *LedgerTx) Pending() []OfflineTransaction {
	pending := make([]OfflineTransaction, 0, len(ledgerTx.transactions))
	for _, transaction := range ledgerTx.transactions {
		if transaction.Status == TransactionStatusPending {
			pending = append(pending, transaction)
		}
	}
	return pending
}

// Append validates and adds a transaction to the end of the queue.
func (ledgerTx *LedgerTx) Append(transaction OfflineTransaction) error {
	if err := transaction.Validate(); err != nil {
		return WrapError(errorOperationStore, errorSubjectQueue, errorCodeInvalidEntry, err)
	}
	for _, existing := range ledgerTx.transactions {
		if existing.ClientTransactionID == transaction.ClientTransactionID {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, transaction.ClientTransactionID.String())
		}
	}
	ledgerTx.transactions = append(ledgerTx.transactions, transaction)
	ledgerTx.queueDirty = true
	return nil
}

// SetStatus updates the matching entry and reports whether it changed.
// Terminal entries are never re-mutated.
func (ledgerTx *LedgerTx) SetStatus(clientTransactionID ClientTransactionID, status TransactionStatus) (bool, error) {
	parsedStatus, err := ParseTransactionStatus(status.String())
	if err != nil {
		return false, err
	}
	for index := range ledgerTx.transactions {
		transaction := &ledgerTx.transactions[index]
		if transaction.ClientTransactionID != clientTransactionID {
			continue
		}
		if transaction.Status.IsTerminal() || transaction.Status == parsedStatus {
			return false, nil
		}
		transaction.Status = parsedStatus
		ledgerTx.queueDirty = true
		return true, nil
	}
	return false, nil
}

// PruneSynced removes exactly the SYNCED entries.
func (ledgerTx *LedgerTx) PruneSynced() int {
	retained := make([]OfflineTransaction, 0, len(ledgerTx.transactions))
	for _, transaction := range ledgerTx.transactions {
		if transaction.Status != TransactionStatusSynced {
			retained = append(retained, transaction)
		}
	}
	removed := len(ledgerTx.transactions) - len(retained)
	if removed > 0 {
		ledgerTx.transactions = retained
		ledgerTx.queueDirty = true
	}
	return removed
}

// ClearTransactions drops the whole queue.
func (ledgerTx *LedgerTx) ClearTransactions() {
	ledgerTx.transactions = nil
	ledgerTx.queueCleared = true
	ledgerTx.queueDirty = false
}

// ShadowBalance returns the loaded shadow balance.
func (ledgerTx *LedgerTx) ShadowBalance() Balance {
	return ledgerTx.shadowBalance
}

// SetShadowBalance overwrites the shadow balance.
func (ledgerTx *LedgerTx) SetShadowBalance(balance Balance) {
	ledgerTx.shadowBalance = balance
	ledgerTx.shadowDirty = true
}

// LastKnownBalance returns the loaded last-known balance.
func (ledgerTx *LedgerTx) LastKnownBalance() Balance {
	return ledgerTx.lastKnownBalance
}

// SetLastKnownBalance overwrites the last-known balance.
func (ledgerTx *LedgerTx) SetLastKnownBalance(balance Balance) {
	ledgerTx.lastKnownBalance = balance
	ledgerTx.lastKnownDirty = true
}

// DebitShadow subtracts the amount unless the balance is insufficient.
func (ledgerTx *LedgerTx) DebitShadow(amount Amount) bool {
	debited, err := ledgerTx.shadowBalance.Debit(amount)
	if err != nil {
		return false
	}
	ledgerTx.SetShadowBalance(debited)
	return true
}

func (store *LedgerStore) load(ctx context.Context) (*LedgerTx, error) {
	transactions, err := store.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	shadowBalance, err := store.loadBalance(ctx, KeyShadowBalance)
	if err != nil {
		return nil, err
	}
	lastKnownBalance, err := store.loadBalance(ctx, KeyLastKnownBalance)
	if err != nil {
		return nil, err
	}
	return &LedgerTx{
		transactions:     transactions,
		shadowBalance:    shadowBalance,
		lastKnownBalance: lastKnownBalance,
	}, nil
}

func (store *LedgerStore) loadTransactions(ctx context.Context) ([]OfflineTransaction, error) {
	raw, found, err := store.kv.Get(ctx, KeyOfflineTransactions)
	if err != nil {
		return nil, wrapStorageError(errorSubjectQueue, errorCodeRead, err)
	}
	if !found || len(raw) == 0 {
		return []OfflineTransaction{}, nil
	}
	var transactions []OfflineTransaction
	if err := json.Unmarshal(raw, &transactions); err != nil {
		return nil, wrapStorageError(errorSubjectQueue, errorCodeDecode, err)
	}
	for _, transaction := range transactions {
		if err := transaction.Validate(); err != nil {
			return nil, wrapStorageError(errorSubjectQueue, errorCodeInvalidEntry, err)
		}
	}
	return transactions, nil
}

func (store *LedgerStore) loadBalance(ctx context.Context, key string) (Balance, error) {
	raw, found, err := store.kv.Get(ctx, key)
	if err != nil {
		return Balance{}, wrapStorageError(errorSubjectBalance, errorCodeRead, err)
	}
	if !found || len(raw) == 0 {
		return ZeroBalance(), nil
	}
	balance, err := ParseBalance(string(raw))
	if err != nil {
		return Balance{}, wrapStorageError(errorSubjectBalance, errorCodeDecode, err)
	}
	return balance, nil
}

func (store *LedgerStore) commit(ctx context.Context, ledgerTx *LedgerTx) error {
	writes := make([]KeyWrite, 0, 3)
	switch {
	case ledgerTx.queueDirty:
		raw, err := json.Marshal(ledgerTx.transactions)
		if err != nil {
			return wrapStorageError(errorSubjectQueue, errorCodeEncode, err)
		}
		writes = append(writes, KeyWrite{Key: KeyOfflineTransactions, Value: raw})
	case ledgerTx.queueCleared:
		writes = append(writes, KeyWrite{Key: KeyOfflineTransactions, Remove: true})
	}
	if ledgerTx.shadowDirty {
		writes = append(writes, KeyWrite{Key: KeyShadowBalance, Value: []byte(ledgerTx.shadowBalance.String())})
	}
	if ledgerTx.lastKnownDirty {
		writes = append(writes, KeyWrite{Key: KeyLastKnownBalance, Value: []byte(ledgerTx.lastKnownBalance.String())})
	}
	if len(writes) == 0 {
		return nil
	}
	if err := store.kv.Apply(ctx, writes); err != nil {
		return wrapStorageError(errorSubjectState, errorCodeWrite, err)
	}
	return nil
}
