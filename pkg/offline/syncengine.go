package offline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// SyncEngineOption configures a SyncEngine.
type SyncEngineOption func(*SyncEngine)

// RefreshListener is told to refetch authoritative remote data after a sync.
type RefreshListener func(ctx context.Context)

// SyncEngine drains the PENDING queue to the wallet API in one batched call.
// At most one sync runs at a time; concurrent callers share its result.
type SyncEngine struct {
	store   *LedgerStore
	api     WalletAPI
	flight  singleflight.Group
	logger  OperationLogger
	refresh []RefreshListener
}

// WithSyncLogger wires a logger that receives a record per sync call.
func WithSyncLogger(logger OperationLogger) SyncEngineOption {
	return func(engine *SyncEngine) {
		engine.logger = logger
	}
}

// WithRefreshListener registers a callback fired after outcomes are applied.
func WithRefreshListener(listener RefreshListener) SyncEngineOption {
	return func(engine *SyncEngine) {
		if listener != nil {
			engine.refresh = append(engine.refresh, listener)
		}
	}
}

// NewSyncEngine wires a SyncEngine.
func NewSyncEngine(store *LedgerStore, api WalletAPI, options ...SyncEngineOption) (*SyncEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: ledger store dependency is nil", ErrInvalidServiceConfig)
	}
	if api == nil {
		return nil, fmt.Errorf("%w: wallet api dependency is nil", ErrInvalidServiceConfig)
	}
	engine := &SyncEngine{store: store, api: api}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Sync reconciles the PENDING queue against the server ledger.
//
// With nothing PENDING it returns an empty result without a network call.
// A failed batch call returns a *NetworkError and leaves the store untouched.
func (engine *SyncEngine) Sync(ctx context.Context, token AuthToken) (SyncResult, error) {
	value, err, _ := engine.flight.Do(syncFlightKey, func() (any, error) {
		return engine.syncOnce(ctx, token)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return value.(SyncResult), nil
}

func (engine *SyncEngine) syncOnce(ctx context.Context, token AuthToken) (SyncResult, error) {
	pending, err := engine.store.Pending(ctx)
	if err != nil {
		logOperation(ctx, engine.logger, OperationLog{Operation: operationSync, Error: err})
		return SyncResult{}, err
	}
	if len(pending) == 0 {
		logOperation(ctx, engine.logger, OperationLog{Operation: operationSync, Status: operationStatusSkipped})
		return SyncResult{
			SyncedTransactions: []SyncedTransaction{},
			Failures:           []SyncFailure{},
			StillPending:       []ClientTransactionID{},
		}, nil
	}

	response, err := engine.api.SyncOfflineTransactions(ctx, token, pending)
	if err == nil && !response.Success && len(response.SyncedTransactions) == 0 && len(response.Failures) == 0 {
		err = fmt.Errorf("%w: %s", ErrSyncRejected, response.Message)
	}
	if err != nil {
		networkError := asNetworkError(err)
		logOperation(ctx, engine.logger, OperationLog{Operation: operationSync, PendingCount: len(pending), Error: networkError})
		return SyncResult{}, networkError
	}

	// The server has applied the batch; record its outcome even if the
	// caller gives up now.
	applyContext := context.WithoutCancel(ctx)
	result, err := engine.apply(applyContext, pending, response)
	if err != nil {
		logOperation(ctx, engine.logger, OperationLog{Operation: operationSync, PendingCount: len(pending), Error: err})
		return SyncResult{}, err
	}
	for _, listener := range engine.refresh {
		listener(applyContext)
	}
	entry := OperationLog{
		Operation:    operationSync,
		SyncedCount:  len(result.SyncedTransactions),
		FailedCount:  len(result.Failures),
		PendingCount: len(result.StillPending),
	}
	if result.Balance != nil {
		entry.Balance = *result.Balance
	}
	logOperation(ctx, engine.logger, entry)
	return result, nil
}

func (engine *SyncEngine) apply(ctx context.Context, submitted []OfflineTransaction, response SyncResponse) (SyncResult, error) {
	result := SyncResult{
		SyncedTransactions: nonNilSynced(response.SyncedTransactions),
		Failures:           nonNilFailures(response.Failures),
		StillPending:       []ClientTransactionID{},
	}
	err := engine.store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		for _, synced := range response.SyncedTransactions {
			if _, err := ledgerTx.SetStatus(synced.ClientTransactionID, TransactionStatusSynced); err != nil {
				return err
			}
		}
		for _, failure := range response.Failures {
			if _, err := ledgerTx.SetStatus(failure.ClientTransactionID, TransactionStatusFailed); err != nil {
				return err
			}
		}
		if balance, ok := confirmedBalance(response); ok {
			ledgerTx.SetLastKnownBalance(balance)
			ledgerTx.SetShadowBalance(shadowAfterSync(balance, ledgerTx.Pending()))
			result.Balance = &balance
		}
		ledgerTx.PruneSynced()

		stillQueued := make(map[ClientTransactionID]TransactionStatus, len(ledgerTx.transactions))
		for _, transaction := range ledgerTx.transactions {
			stillQueued[transaction.ClientTransactionID] = transaction.Status
		}
		for _, transaction := range submitted {
			if stillQueued[transaction.ClientTransactionID] == TransactionStatusPending {
				result.StillPending = append(result.StillPending, transaction.ClientTransactionID)
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// shadowAfterSync debits the confirmed balance by every entry still PENDING:
// those queued while the batch was in flight and those the server left
// unanswered. The shadow balance never drops below zero.
func shadowAfterSync(confirmed Balance, pending []OfflineTransaction) Balance {
	shadow := confirmed
	for _, transaction := range pending {
		debited, err := shadow.Debit(transaction.Amount)
		if err != nil {
			return ZeroBalance()
		}
		shadow = debited
	}
	return shadow
}

// confirmedBalance prefers the explicit top-level balance and otherwise
// trusts the last synced entry, which the server emits in applied order.
func confirmedBalance(response SyncResponse) (Balance, bool) {
	if response.NewBalance != nil {
		return *response.NewBalance, true
	}
	if len(response.SyncedTransactions) == 0 {
		return Balance{}, false
	}
	return response.SyncedTransactions[len(response.SyncedTransactions)-1].NewBalance, true
}

func asNetworkError(err error) error {
	var networkError *NetworkError
	if errors.As(err, &networkError) {
		return err
	}
	return NewNetworkError(WrapError(errorOperationSync, errorSubjectResponse, errorCodeTransport, err))
}

func nonNilSynced(values []SyncedTransaction) []SyncedTransaction {
	if values == nil {
		return []SyncedTransaction{}
	}
	return values
}

func nonNilFailures(values []SyncFailure) []SyncFailure {
	if values == nil {
		return []SyncFailure{}
	}
	return values
}
