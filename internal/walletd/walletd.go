package walletd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/internal/netprobe"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/oplog"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/redisstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/walletapi"
	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"go.uber.org/zap"
)

// Session is one device wallet wired to its store, the wallet API and the
// connectivity monitor.
type Session struct {
	Wallet  *offline.Wallet
	Monitor *offline.ConnectivityMonitor

	cfg     Config
	logger  *zap.Logger
	probe   *netprobe.Probe
	closeFn func() error
}

// Open connects the configured store and wires a Session on top of it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kv, closeFn, err := openKeyValueStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	session, err := NewSession(cfg, kv, logger, time.Now)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	session.closeFn = closeFn
	return session, nil
}

// NewSession wires a Session over an already opened key-value store.
func NewSession(cfg Config, kv offline.KeyValueStore, logger *zap.Logger, now func() time.Time) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	operationLogger, err := oplog.New(logger)
	if err != nil {
		return nil, err
	}
	store, err := offline.NewLedgerStore(kv)
	if err != nil {
		return nil, err
	}
	signer, err := offline.SignerForKey(cfg.SignerKey)
	if err != nil {
		return nil, err
	}
	factory, err := offline.NewTransactionFactory(now, offline.WithSigner(signer))
	if err != nil {
		return nil, err
	}
	api, err := walletapi.NewClient(cfg.APIBaseURL, walletapi.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, err
	}
	probe, err := netprobe.New(cfg.ProbeURL, cfg.ProbeInterval, nil)
	if err != nil {
		return nil, err
	}
	limits, err := cfg.Limits()
	if err != nil {
		return nil, err
	}

	session := &Session{
		cfg:     cfg,
		logger:  logger,
		probe:   probe,
		closeFn: func() error { return nil },
	}
	engine, err := offline.NewSyncEngine(store, api,
		offline.WithSyncLogger(operationLogger),
		offline.WithRefreshListener(session.refreshAfterSync),
	)
	if err != nil {
		return nil, err
	}
	session.Monitor = offline.NewConnectivityMonitor(cfg.InitiallyOnline,
		offline.WithOnlineListener(session.syncOnReconnect),
	)
	session.Wallet, err = offline.NewWallet(store, factory, engine, limits, now,
		offline.WithOperationLogger(operationLogger),
		offline.WithConnectivityMonitor(session.Monitor),
		offline.WithBalanceFetcher(api),
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Sync reconciles the queue using the configured token.
func (session *Session) Sync(ctx context.Context) (offline.SyncResult, error) {
	token, err := session.cfg.AuthToken()
	if err != nil {
		return offline.SyncResult{}, err
	}
	return session.Wallet.Sync(ctx, token)
}

// RefreshBalance fetches the authoritative balance using the configured token.
func (session *Session) RefreshBalance(ctx context.Context) (offline.Balance, error) {
	token, err := session.cfg.AuthToken()
	if err != nil {
		return offline.Balance{}, err
	}
	return session.Wallet.RefreshBalance(ctx, token)
}

// Watch polls the probe and feeds the monitor until ctx is done. Every
// offline-to-online transition triggers a sync.
func (session *Session) Watch(ctx context.Context) error {
	states := make(chan offline.ReachabilityState)
	go session.probe.Run(ctx, states)
	session.logger.Info("watching connectivity", zap.String("wallet_id", session.cfg.WalletID))
	session.Monitor.Run(ctx, states)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the underlying store.
func (session *Session) Close() error {
	return session.closeFn()
}

func (session *Session) syncOnReconnect(ctx context.Context) {
	result, err := session.Sync(ctx)
	if err != nil {
		session.logger.Warn("reconnect sync failed", zap.Error(err))
		return
	}
	session.logger.Info("reconnect sync",
		zap.Int("synced", len(result.SyncedTransactions)),
		zap.Int("failed", len(result.Failures)),
		zap.Int("pending", len(result.StillPending)),
	)
}

func (session *Session) refreshAfterSync(ctx context.Context) {
	if _, err := session.RefreshBalance(ctx); err != nil {
		session.logger.Warn("post-sync balance refresh failed", zap.Error(err))
	}
}

func openKeyValueStore(ctx context.Context, cfg Config) (offline.KeyValueStore, func() error, error) {
	switch cfg.StoreDriver {
	case StoreDriverGorm:
		db, cleanup, _, err := gormstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		if err := gormstore.Migrate(db); err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		kv, err := gormstore.New(db).KeyValueStore(cfg.WalletID)
		if err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		return kv, cleanup, nil
	case StoreDriverPgx:
		pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error {
			pool.Close()
			return nil
		}
		kv, err := pgstore.New(pool, cfg.WalletID)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		return kv, closeFn, nil
	case StoreDriverRedis:
		client, err := redisstore.NewClient(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisCluster)
		if err != nil {
			return nil, nil, err
		}
		kv, err := redisstore.New(client, cfg.WalletID)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return kv, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported store driver %q", ErrInvalidConfig, cfg.StoreDriver)
	}
}
