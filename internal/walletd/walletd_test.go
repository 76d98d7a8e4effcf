package walletd

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/syncserver"
	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testSenderID   = "alice"
	testReceiverID = "bob"
)

type serverFixture struct {
	server *httptest.Server
	ledger *syncserver.Ledger
	token  string
}

func newServerFixture(test *testing.T) *serverFixture {
	test.Helper()
	ctx := context.Background()
	db, cleanup, _, err := gormstore.Open(ctx, test.TempDir()+"/server.db")
	if err != nil {
		test.Fatalf("server db: %v", err)
	}
	test.Cleanup(func() { _ = cleanup() })
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	book := gormstore.New(db)
	if _, err := book.OpenAccount(ctx, testReceiverID, decimal.Zero); err != nil {
		test.Fatalf("open receiver: %v", err)
	}
	ledger, err := syncserver.NewLedger(book, offline.JoinSigner{}, decimal.NewFromInt(1000), time.Now)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	authority, err := syncserver.NewTokenAuthority("walletd-test-signing-key", "walletsync", time.Hour, time.Now)
	if err != nil {
		test.Fatalf("authority: %v", err)
	}
	token, err := authority.Issue(testSenderID)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	router := syncserver.NewRouter(
		syncserver.Config{AllowedOrigins: []string{"http://localhost:8000"}, RequestTimeout: time.Second},
		ledger, authority, syncserver.NewMetrics(), zap.NewNop(),
	)
	server := httptest.NewServer(router)
	test.Cleanup(server.Close)
	return &serverFixture{server: server, ledger: ledger, token: token}
}

func (fixture *serverFixture) deviceConfig(test *testing.T) Config {
	return Config{
		WalletID:    "device-1",
		DatabaseURL: test.TempDir() + "/device.db",
		APIBaseURL:  fixture.server.URL + "/api",
		ProbeURL:    fixture.server.URL + "/healthz",
		Token:       fixture.token,
	}
}

func mustAmount(test *testing.T, value int64) offline.Amount {
	test.Helper()
	amount, err := offline.NewAmountFromInt(value)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustBalance(test *testing.T, value int64) offline.Balance {
	test.Helper()
	balance, err := offline.NewBalanceFromInt(value)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func TestConfigValidateDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.StoreDriver != StoreDriverGorm || cfg.DatabaseURL != defaultDatabaseURL {
		test.Fatalf("unexpected store defaults %+v", cfg)
	}
	if cfg.ProbeInterval != defaultProbeInterval || cfg.RequestTimeout != defaultRequestTimeout {
		test.Fatalf("unexpected timing defaults %+v", cfg)
	}
	limits, err := cfg.Limits()
	if err != nil {
		test.Fatalf("limits: %v", err)
	}
	if limits.MaxTransactionCount() != offline.DefaultLimitsConfig().MaxTransactionCount() {
		test.Fatalf("expected default limits, got %d", limits.MaxTransactionCount())
	}
}

func TestConfigValidateRejects(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown driver", cfg: Config{StoreDriver: "bolt"}},
		{name: "pgx without url", cfg: Config{StoreDriver: StoreDriverPgx}},
		{name: "negative limit", cfg: Config{MaxDailySpend: decimal.NewFromInt(-1)}},
		{name: "oversized signer key", cfg: Config{SignerKey: string(make([]byte, 65))}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigRedisDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{StoreDriver: "REDIS"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.StoreDriver != StoreDriverRedis || len(cfg.RedisAddrs) != 1 || cfg.RedisAddrs[0] != defaultRedisAddr {
		test.Fatalf("unexpected redis defaults %+v", cfg)
	}
}

func TestParseAddrs(test *testing.T) {
	test.Parallel()
	addrs := ParseAddrs(" a:1, ,b:2 ")
	if len(addrs) != 2 || addrs[0] != "a:1" || addrs[1] != "b:2" {
		test.Fatalf("unexpected addrs %v", addrs)
	}
	if len(ParseAddrs("")) != 0 {
		test.Fatalf("expected empty list")
	}
}

func TestSessionSyncRequiresToken(test *testing.T) {
	test.Parallel()
	fixture := newServerFixture(test)
	cfg := fixture.deviceConfig(test)
	cfg.Token = ""
	session, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer session.Close()
	if _, err := session.Sync(context.Background()); !errors.Is(err, ErrMissingToken) {
		test.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := session.RefreshBalance(context.Background()); !errors.Is(err, ErrMissingToken) {
		test.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestSessionReconnectSyncsQueue(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	fixture := newServerFixture(test)
	session, err := Open(ctx, fixture.deviceConfig(test), zap.NewNop())
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer session.Close()

	if err := session.Wallet.ConfirmBalance(ctx, mustBalance(test, 1000)); err != nil {
		test.Fatalf("confirm balance: %v", err)
	}
	if _, err := session.Wallet.TransferOffline(ctx, testReceiverID, "Bob", mustAmount(test, 100)); err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if _, err := session.Wallet.TransferOffline(ctx, testReceiverID, "Bob", mustAmount(test, 50)); err != nil {
		test.Fatalf("transfer: %v", err)
	}
	snapshot, err := session.Wallet.Snapshot(ctx)
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	if snapshot.PendingCount != 2 || snapshot.ShadowBalance.String() != "850" || snapshot.Online {
		test.Fatalf("unexpected offline snapshot %+v", snapshot)
	}

	session.Monitor.Observe(ctx, offline.ReachabilityState{Connected: true, InternetReachable: true})

	snapshot, err = session.Wallet.Snapshot(ctx)
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	if !snapshot.Online || snapshot.PendingCount != 0 || len(snapshot.Transactions) != 0 {
		test.Fatalf("expected drained queue after reconnect, got %+v", snapshot)
	}
	if snapshot.ShadowBalance.String() != "850" || snapshot.LastKnownBalance.String() != "850" {
		test.Fatalf("expected server-confirmed balance 850, got shadow=%s last=%s", snapshot.ShadowBalance, snapshot.LastKnownBalance)
	}
	receiverBalance, err := fixture.ledger.Balance(ctx, testReceiverID)
	if err != nil {
		test.Fatalf("receiver balance: %v", err)
	}
	if receiverBalance.String() != "150" {
		test.Fatalf("expected receiver credited 150, got %s", receiverBalance)
	}
}

func TestSessionWatchStopsWithContext(test *testing.T) {
	test.Parallel()
	fixture := newServerFixture(test)
	cfg := fixture.deviceConfig(test)
	cfg.ProbeInterval = 10 * time.Millisecond
	session, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Watch(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !session.Monitor.IsOnline() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !session.Monitor.IsOnline() {
		test.Fatalf("expected probe to bring the monitor online")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			test.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		test.Fatalf("watch did not stop after cancel")
	}
}

func TestOpenRejectsInvalidConfig(test *testing.T) {
	test.Parallel()
	if _, err := Open(context.Background(), Config{StoreDriver: "bolt"}, zap.NewNop()); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewSession(Config{}, nil, zap.NewNop(), time.Now); !errors.Is(err, offline.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for a nil store, got %v", err)
	}
}

func TestOpenRedisDriver(test *testing.T) {
	test.Parallel()
	server := miniredis.RunT(test)
	ctx := context.Background()
	cfg := Config{
		WalletID:    "redis-device",
		StoreDriver: StoreDriverRedis,
		RedisAddrs:  []string{server.Addr()},
	}
	session, err := Open(ctx, cfg, zap.NewNop())
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer session.Close()

	if err := session.Wallet.ConfirmBalance(ctx, mustBalance(test, 300)); err != nil {
		test.Fatalf("confirm balance: %v", err)
	}
	if _, err := session.Wallet.TransferOffline(ctx, testReceiverID, "", mustAmount(test, 120)); err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if stored, err := server.Get("walletsync:{redis-device}:shadow_balance"); err != nil || stored != "180" {
		test.Fatalf("expected shadow balance 180 in redis, got %q err=%v", stored, err)
	}
	if !server.Exists("walletsync:{redis-device}:offline_transactions") {
		test.Fatalf("expected queued transactions in redis")
	}
}
