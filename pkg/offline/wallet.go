package offline

import (
	"context"
	"fmt"
	"time"
)

// WalletOption configures a Wallet instance.
type WalletOption func(*Wallet)

// Wallet is the offline session object handed to the presentation layer.
type Wallet struct {
	store   *LedgerStore
	factory *TransactionFactory
	engine  *SyncEngine
	limits  LimitsConfig
	nowFn   func() time.Time
	logger  OperationLogger
	monitor *ConnectivityMonitor
	fetcher BalanceFetcher
}

// Snapshot is a read-derived view of the offline state.
type Snapshot struct {
	Online           bool
	Transactions     []OfflineTransaction
	ShadowBalance    Balance
	LastKnownBalance Balance
	PendingCount     int
	Limits           LimitsConfig
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) WalletOption {
	return func(wallet *Wallet) {
		wallet.logger = logger
	}
}

// WithConnectivityMonitor exposes the monitor state through Snapshot.
func WithConnectivityMonitor(monitor *ConnectivityMonitor) WalletOption {
	return func(wallet *Wallet) {
		wallet.monitor = monitor
	}
}

// WithBalanceFetcher enables RefreshBalance.
func WithBalanceFetcher(fetcher BalanceFetcher) WalletOption {
	return func(wallet *Wallet) {
		wallet.fetcher = fetcher
	}
}

// NewWallet wires a Wallet.
func NewWallet(store *LedgerStore, factory *TransactionFactory, engine *SyncEngine, limits LimitsConfig, now func() time.Time, options ...WalletOption) (*Wallet, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: ledger store dependency is nil", ErrInvalidServiceConfig)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: transaction factory dependency is nil", ErrInvalidServiceConfig)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: sync engine dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if limits.MaxTransactionCount() <= 0 {
		return nil, fmt.Errorf("%w: limits are not configured", ErrInvalidLimitsConfig)
	}
	wallet := &Wallet{
		store:   store,
		factory: factory,
		engine:  engine,
		limits:  limits,
		nowFn:   now,
	}
	for _, option := range options {
		if option != nil {
			option(wallet)
		}
	}
	return wallet, nil
}

// TransferOffline validates, queues and debits a transfer in one critical
// section. A limits rejection is returned as *ValidationError and leaves the
// store unchanged.
func (wallet *Wallet) TransferOffline(ctx context.Context, receiverID string, receiverUsername string, amount Amount) (OfflineTransaction, error) {
	var created OfflineTransaction
	operationError := wallet.store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		if err := ValidateLimits(amount, ledgerTx.Transactions(), ledgerTx.ShadowBalance(), wallet.limits, wallet.nowFn()); err != nil {
			return err
		}
		transaction, err := wallet.factory.Create(receiverID, receiverUsername, amount)
		if err != nil {
			return WrapError(errorOperationWallet, errorSubjectTransfer, errorCodeCreate, err)
		}
		if err := ledgerTx.Append(transaction); err != nil {
			return err
		}
		if !ledgerTx.DebitShadow(amount) {
			return NewValidationError(ErrInsufficientShadowBalance)
		}
		created = transaction
		return nil
	})
	logOperation(ctx, wallet.logger, OperationLog{
		Operation:           operationTransferOffline,
		ClientTransactionID: created.ClientTransactionID,
		ReceiverID:          receiverID,
		Amount:              amount,
		Error:               operationError,
	})
	if operationError != nil {
		return OfflineTransaction{}, operationError
	}
	return created, nil
}

// Sync reconciles the queue with the server ledger.
func (wallet *Wallet) Sync(ctx context.Context, token AuthToken) (SyncResult, error) {
	return wallet.engine.Sync(ctx, token)
}

// Snapshot returns the current queue, balances and limits.
func (wallet *Wallet) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot := Snapshot{Limits: wallet.limits}
	if wallet.monitor != nil {
		snapshot.Online = wallet.monitor.IsOnline()
	}
	err := wallet.store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		snapshot.Transactions = ledgerTx.Transactions()
		snapshot.ShadowBalance = ledgerTx.ShadowBalance()
		snapshot.LastKnownBalance = ledgerTx.LastKnownBalance()
		snapshot.PendingCount = len(ledgerTx.Pending())
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Limits returns the configured offline limits.
func (wallet *Wallet) Limits() LimitsConfig {
	return wallet.limits
}

// ConfirmBalance overwrites both balances with a server-confirmed value.
// It is refused while PENDING entries exist because their debits would be lost.
func (wallet *Wallet) ConfirmBalance(ctx context.Context, balance Balance) error {
	operationError := wallet.store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		if pending := len(ledgerTx.Pending()); pending > 0 {
			return fmt.Errorf("%w: %d queued", ErrPendingTransactions, pending)
		}
		ledgerTx.SetShadowBalance(balance)
		ledgerTx.SetLastKnownBalance(balance)
		return nil
	})
	logOperation(ctx, wallet.logger, OperationLog{
		Operation: operationConfirmBalance,
		Balance:   balance,
		Error:     operationError,
	})
	return operationError
}

// RefreshBalance fetches the authoritative balance. LastKnownBalance is always
// updated; ShadowBalance only when nothing is PENDING.
func (wallet *Wallet) RefreshBalance(ctx context.Context, token AuthToken) (Balance, error) {
	if wallet.fetcher == nil {
		return Balance{}, fmt.Errorf("%w: balance fetcher is not configured", ErrInvalidServiceConfig)
	}
	balance, err := wallet.fetcher.FetchBalance(ctx, token)
	if err != nil {
		networkError := asNetworkError(err)
		logOperation(ctx, wallet.logger, OperationLog{Operation: operationRefreshBalance, Error: networkError})
		return Balance{}, networkError
	}
	pendingCount := 0
	operationError := wallet.store.WithTx(ctx, func(_ context.Context, ledgerTx *LedgerTx) error {
		ledgerTx.SetLastKnownBalance(balance)
		pendingCount = len(ledgerTx.Pending())
		if pendingCount == 0 {
			ledgerTx.SetShadowBalance(balance)
		}
		return nil
	})
	logOperation(ctx, wallet.logger, OperationLog{
		Operation:    operationRefreshBalance,
		Balance:      balance,
		PendingCount: pendingCount,
		Error:        operationError,
	})
	if operationError != nil {
		return Balance{}, operationError
	}
	return balance, nil
}

// ClearQueue discards every queued transaction, whatever its status.
func (wallet *Wallet) ClearQueue(ctx context.Context) error {
	return wallet.store.ClearTransactions(ctx)
}
