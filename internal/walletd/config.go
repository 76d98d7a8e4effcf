package walletd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/shopspring/decimal"
)

const (
	// StoreDriverGorm keeps device state in sqlite or postgres through gorm.
	StoreDriverGorm = "gorm"
	// StoreDriverPgx keeps device state in postgres through a pgx pool.
	StoreDriverPgx = "pgx"
	// StoreDriverRedis keeps device state in redis.
	StoreDriverRedis = "redis"

	defaultWalletID       = "default"
	defaultDatabaseURL    = "sqlite:///tmp/walletsync-device.db"
	defaultRedisAddr      = "localhost:6379"
	defaultAPIBaseURL     = "http://localhost:9090/api"
	defaultProbeURL       = "http://localhost:9090/healthz"
	defaultProbeInterval  = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	maxSignerKeyBytes     = 64
)

var (
	ErrInvalidConfig = errors.New("invalid wallet config")
	ErrMissingToken  = errors.New("auth token is not configured")
)

// Config aggregates the device runtime settings.
type Config struct {
	WalletID             string
	StoreDriver          string
	DatabaseURL          string
	RedisAddrs           []string
	RedisPassword        string
	RedisCluster         bool
	APIBaseURL           string
	Token                string
	SignerKey            string
	ProbeURL             string
	ProbeInterval        time.Duration
	RequestTimeout       time.Duration
	MaxTransactionAmount decimal.Decimal
	MaxDailySpend        decimal.Decimal
	MaxTransactionCount  int
	InitiallyOnline      bool
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.WalletID = defaultIfEmpty(cfg.WalletID, defaultWalletID)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.APIBaseURL = defaultIfEmpty(cfg.APIBaseURL, defaultAPIBaseURL)
	cfg.ProbeURL = defaultIfEmpty(cfg.ProbeURL, defaultProbeURL)
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	defaults := offline.DefaultLimitsConfig()
	if cfg.MaxTransactionAmount.IsZero() {
		cfg.MaxTransactionAmount = defaults.MaxTransactionAmount()
	}
	if cfg.MaxDailySpend.IsZero() {
		cfg.MaxDailySpend = defaults.MaxDailySpend()
	}
	if cfg.MaxTransactionCount == 0 {
		cfg.MaxTransactionCount = defaults.MaxTransactionCount()
	}

	switch cfg.StoreDriver {
	case StoreDriverGorm:
		cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	case StoreDriverPgx:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("%w: database url is required for the %s driver", ErrInvalidConfig, StoreDriverPgx)
		}
	case StoreDriverRedis:
		if len(cfg.RedisAddrs) == 0 {
			cfg.RedisAddrs = []string{defaultRedisAddr}
		}
	default:
		return fmt.Errorf("%w: unsupported store driver %q", ErrInvalidConfig, cfg.StoreDriver)
	}
	if len(cfg.SignerKey) > maxSignerKeyBytes {
		return fmt.Errorf("%w: signer key must be at most %d bytes", ErrInvalidConfig, maxSignerKeyBytes)
	}
	if _, err := cfg.Limits(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Limits builds the offline limits from the configured values.
func (cfg Config) Limits() (offline.LimitsConfig, error) {
	return offline.NewLimitsConfig(cfg.MaxTransactionAmount, cfg.MaxDailySpend, cfg.MaxTransactionCount)
}

// AuthToken returns the configured bearer token.
func (cfg Config) AuthToken() (offline.AuthToken, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return offline.AuthToken{}, ErrMissingToken
	}
	return offline.NewAuthToken(cfg.Token)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAddrs splits a comma-delimited address list.
func ParseAddrs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
