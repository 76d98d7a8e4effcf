package main

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/offlinewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/syncserver"
	"github.com/MarkoPoloResearchLab/offlinewallet/internal/walletd"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "WALLETSYNC"

	flagWalletID             = "wallet-id"
	flagStoreDriver          = "store-driver"
	flagDatabaseURL          = "database-url"
	flagRedisAddrs           = "redis-addrs"
	flagRedisPassword        = "redis-password"
	flagRedisCluster         = "redis-cluster"
	flagAPIBaseURL           = "api-base-url"
	flagToken                = "token"
	flagSignerKey            = "signer-key"
	flagProbeURL             = "probe-url"
	flagProbeInterval        = "probe-interval"
	flagRequestTimeout       = "request-timeout"
	flagMaxTransactionAmount = "max-transaction-amount"
	flagMaxDailySpend        = "max-daily-spend"
	flagMaxTransactionCount  = "max-transaction-count"
	flagOnline               = "online"

	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagTokenSigningKey = "token-signing-key"
	flagTokenIssuer     = "token-issuer"
	flagTokenTTL        = "token-ttl"
	flagOpeningBalance  = "opening-balance"

	defaultServerDatabaseURL = "sqlite:///tmp/walletsync-server.db"
)

var (
	deviceFlags = []string{
		flagWalletID, flagStoreDriver, flagDatabaseURL, flagRedisAddrs, flagRedisPassword, flagRedisCluster,
		flagAPIBaseURL, flagToken, flagSignerKey, flagProbeURL, flagProbeInterval, flagRequestTimeout,
		flagMaxTransactionAmount, flagMaxDailySpend, flagMaxTransactionCount, flagOnline,
	}
	serverFlags = []string{
		flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagTokenSigningKey, flagTokenIssuer,
		flagTokenTTL, flagSignerKey, flagOpeningBalance, flagRequestTimeout,
	}
	tokenFlags = []string{flagTokenSigningKey, flagTokenIssuer, flagTokenTTL}
)

type serverConfig struct {
	DatabaseURL string
	Server      syncserver.Config
}

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagWalletID, "", "device wallet identifier (default \"default\")")
	cmd.Flags().String(flagStoreDriver, walletd.StoreDriverGorm, "device store driver: gorm, pgx or redis")
	cmd.Flags().String(flagDatabaseURL, "", "device database URL (postgres://, sqlite:// or a sqlite path)")
	cmd.Flags().String(flagRedisAddrs, "", "comma-separated redis addresses")
	cmd.Flags().String(flagRedisPassword, "", "redis password")
	cmd.Flags().Bool(flagRedisCluster, false, "use a redis cluster client")
	cmd.Flags().String(flagAPIBaseURL, "", "wallet API base URL")
	cmd.Flags().String(flagToken, "", "bearer token for the wallet API")
	cmd.Flags().String(flagSignerKey, "", "shared MAC key for transaction signatures (join signature when empty)")
	cmd.Flags().String(flagProbeURL, "", "health URL polled for connectivity")
	cmd.Flags().Duration(flagProbeInterval, 0, "connectivity probe interval (e.g. 10s)")
	cmd.Flags().Duration(flagRequestTimeout, 0, "wallet API request timeout (e.g. 10s)")
	cmd.Flags().String(flagMaxTransactionAmount, "", "per-transaction offline cap")
	cmd.Flags().String(flagMaxDailySpend, "", "rolling 24h offline spend cap")
	cmd.Flags().Int(flagMaxTransactionCount, 0, "maximum PENDING queue length")
	cmd.Flags().Bool(flagOnline, false, "assume the device starts online")
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default \":9090\")")
	cmd.Flags().String(flagDatabaseURL, defaultServerDatabaseURL, "server ledger database URL")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSignerKey, "", "shared MAC key for transaction signatures (join signature when empty)")
	cmd.Flags().String(flagOpeningBalance, "", "balance credited to a user on first contact (default 1000)")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request ledger timeout (e.g. 5s)")
	addTokenFlags(cmd)
}

func addTokenFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagTokenSigningKey, "", "HS256 token signing key (required)")
	cmd.Flags().String(flagTokenIssuer, "", "token issuer (default \"walletsync\")")
	cmd.Flags().Duration(flagTokenTTL, 0, "issued token lifetime (e.g. 24h)")
}

func newViper(cmd *cobra.Command, flagNames []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func loadDeviceConfig(cmd *cobra.Command, cfg *walletd.Config) error {
	v, err := newViper(cmd, deviceFlags)
	if err != nil {
		return err
	}
	maxTransactionAmount, err := parseDecimal(v, flagMaxTransactionAmount)
	if err != nil {
		return err
	}
	maxDailySpend, err := parseDecimal(v, flagMaxDailySpend)
	if err != nil {
		return err
	}

	cfg.WalletID = strings.TrimSpace(v.GetString(flagWalletID))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.RedisAddrs = walletd.ParseAddrs(v.GetString(flagRedisAddrs))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisCluster = v.GetBool(flagRedisCluster)
	cfg.APIBaseURL = strings.TrimSpace(v.GetString(flagAPIBaseURL))
	cfg.Token = strings.TrimSpace(v.GetString(flagToken))
	cfg.SignerKey = v.GetString(flagSignerKey)
	cfg.ProbeURL = strings.TrimSpace(v.GetString(flagProbeURL))
	cfg.ProbeInterval = v.GetDuration(flagProbeInterval)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.MaxTransactionAmount = maxTransactionAmount
	cfg.MaxDailySpend = maxDailySpend
	cfg.MaxTransactionCount = v.GetInt(flagMaxTransactionCount)
	cfg.InitiallyOnline = v.GetBool(flagOnline)

	return cfg.Validate()
}

func loadServerConfig(cmd *cobra.Command, cfg *serverConfig) error {
	v, err := newViper(cmd, serverFlags)
	if err != nil {
		return err
	}
	if !v.IsSet(flagTokenSigningKey) {
		return fmt.Errorf("%s is required", flagTokenSigningKey)
	}
	openingBalance, err := parseDecimal(v, flagOpeningBalance)
	if err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultServerDatabaseURL
	}
	if _, err := gormstore.ResolveDriver(cfg.DatabaseURL); err != nil {
		return err
	}
	cfg.Server.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.Server.AllowedOrigins = syncserver.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.Server.TokenSigningKey = v.GetString(flagTokenSigningKey)
	cfg.Server.TokenIssuer = strings.TrimSpace(v.GetString(flagTokenIssuer))
	cfg.Server.TokenTTL = v.GetDuration(flagTokenTTL)
	cfg.Server.SignerKey = v.GetString(flagSignerKey)
	cfg.Server.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.Server.OpeningBalance = openingBalance

	return cfg.Server.Validate()
}

func loadTokenConfig(cmd *cobra.Command, cfg *syncserver.Config) error {
	v, err := newViper(cmd, tokenFlags)
	if err != nil {
		return err
	}
	if !v.IsSet(flagTokenSigningKey) {
		return fmt.Errorf("%s is required", flagTokenSigningKey)
	}
	cfg.TokenSigningKey = v.GetString(flagTokenSigningKey)
	cfg.TokenIssuer = strings.TrimSpace(v.GetString(flagTokenIssuer))
	cfg.TokenTTL = v.GetDuration(flagTokenTTL)
	return cfg.Validate()
}

func parseDecimal(v *viper.Viper, flagName string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(flagName))
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", flagName, err)
	}
	return value, nil
}
