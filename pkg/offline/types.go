package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a strictly positive value in the wallet's base currency unit.
type Amount struct {
	value decimal.Decimal
}

// Balance is a non-negative value in the wallet's base currency unit.
type Balance struct {
	value decimal.Decimal
}

// ClientTransactionID is the device-generated dedup key of a queued transfer.
type ClientTransactionID struct {
	value string
}

// AuthToken is the bearer token presented to the wallet API.
type AuthToken struct {
	value string
}

// TransactionType enumerates queued intent kinds.
type TransactionType string

const (
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

// TransactionStatus defines the queued transaction lifecycle.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSynced  TransactionStatus = "SYNCED"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// NewAmount validates a decimal amount and ensures it is strictly positive.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if !raw.IsPositive() {
		return Amount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount{value: raw}, nil
}

// NewAmountFromInt builds an Amount from a whole number of units.
func NewAmountFromInt(raw int64) (Amount, error) {
	return NewAmount(decimal.NewFromInt(raw))
}

// ParseAmount parses a textual amount such as "100" or "12.50".
func ParseAmount(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed)
}

// Decimal returns the underlying value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String returns the canonical textual form.
func (amount Amount) String() string {
	return amount.value.String()
}

// MarshalJSON encodes the amount as a JSON number.
func (amount Amount) MarshalJSON() ([]byte, error) {
	return []byte(amount.value.String()), nil
}

// UnmarshalJSON accepts a JSON number or numeric string.
func (amount *Amount) UnmarshalJSON(data []byte) error {
	var parsed decimal.Decimal
	if err := parsed.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	validated, err := NewAmount(parsed)
	if err != nil {
		return err
	}
	*amount = validated
	return nil
}

// NewBalance validates a decimal balance and ensures it is not negative.
func NewBalance(raw decimal.Decimal) (Balance, error) {
	if raw.IsNegative() {
		return Balance{}, fmt.Errorf("%w: must not be negative", ErrInvalidBalance)
	}
	return Balance{value: raw}, nil
}

// NewBalanceFromInt builds a Balance from a whole number of units.
func NewBalanceFromInt(raw int64) (Balance, error) {
	return NewBalance(decimal.NewFromInt(raw))
}

// ParseBalance parses a textual balance.
func ParseBalance(raw string) (Balance, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrInvalidBalance, err)
	}
	return NewBalance(parsed)
}

// ZeroBalance is the default for a missing persisted balance.
func ZeroBalance() Balance {
	return Balance{value: decimal.Zero}
}

// Decimal returns the underlying value.
func (balance Balance) Decimal() decimal.Decimal {
	return balance.value
}

// String returns the canonical textual form.
func (balance Balance) String() string {
	return balance.value.String()
}

// Covers reports whether the balance can pay the amount.
func (balance Balance) Covers(amount Amount) bool {
	return balance.value.GreaterThanOrEqual(amount.value)
}

// Debit subtracts the amount, failing if the result would be negative.
func (balance Balance) Debit(amount Amount) (Balance, error) {
	return NewBalance(balance.value.Sub(amount.value))
}

// Equal compares two balances by value.
func (balance Balance) Equal(other Balance) bool {
	return balance.value.Equal(other.value)
}

// MarshalJSON encodes the balance as a JSON number.
func (balance Balance) MarshalJSON() ([]byte, error) {
	return []byte(balance.value.String()), nil
}

// UnmarshalJSON accepts a JSON number or numeric string.
func (balance *Balance) UnmarshalJSON(data []byte) error {
	var parsed decimal.Decimal
	if err := parsed.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBalance, err)
	}
	validated, err := NewBalance(parsed)
	if err != nil {
		return err
	}
	*balance = validated
	return nil
}

// NewClientTransactionID validates and normalizes a client transaction id.
func NewClientTransactionID(raw string) (ClientTransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClientTransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidClientTransactionID)
	}
	return ClientTransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ClientTransactionID) String() string {
	return id.value
}

// MarshalText encodes the identifier for JSON.
func (id ClientTransactionID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText validates the identifier while decoding.
func (id *ClientTransactionID) UnmarshalText(data []byte) error {
	parsed, err := NewClientTransactionID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewAuthToken validates a bearer token.
func NewAuthToken(raw string) (AuthToken, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AuthToken{}, fmt.Errorf("%w: empty value", ErrInvalidAuthToken)
	}
	return AuthToken{value: trimmed}, nil
}

// String returns the raw token.
func (token AuthToken) String() string {
	return token.value
}

// ParseTransactionType validates a transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(raw))) {
	case TransactionTypeTransfer:
		return TransactionTypeTransfer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the wire form.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionStatus validates a transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch status := TransactionStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case TransactionStatusPending, TransactionStatusSynced, TransactionStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
	}
}

// String returns the wire form.
func (status TransactionStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status can no longer change.
func (status TransactionStatus) IsTerminal() bool {
	return status == TransactionStatusSynced || status == TransactionStatusFailed
}

// OfflineTransaction is a queued transfer intent.
type OfflineTransaction struct {
	ClientTransactionID ClientTransactionID `json:"clientTransactionId"`
	Type                TransactionType     `json:"type"`
	ReceiverID          string              `json:"receiverId"`
	ReceiverUsername    string              `json:"receiverUsername"`
	Amount              Amount              `json:"amount"`
	ClientTimestamp     int64               `json:"clientTimestamp"`
	Signature           string              `json:"signature"`
	Status              TransactionStatus   `json:"status"`
}

// Validate checks a decoded record for required fields.
func (transaction OfflineTransaction) Validate() error {
	if transaction.ClientTransactionID.String() == "" {
		return ErrInvalidClientTransactionID
	}
	if _, err := ParseTransactionType(transaction.Type.String()); err != nil {
		return err
	}
	if strings.TrimSpace(transaction.ReceiverID) == "" {
		return ErrInvalidReceiverID
	}
	if !transaction.Amount.Decimal().IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := ParseTransactionStatus(transaction.Status.String()); err != nil {
		return err
	}
	return nil
}

// LimitsConfig holds the static offline spending limits.
type LimitsConfig struct {
	maxTransactionAmount decimal.Decimal
	maxDailySpend        decimal.Decimal
	maxTransactionCount  int
}

// NewLimitsConfig validates limit values.
func NewLimitsConfig(maxTransactionAmount decimal.Decimal, maxDailySpend decimal.Decimal, maxTransactionCount int) (LimitsConfig, error) {
	if !maxTransactionAmount.IsPositive() {
		return LimitsConfig{}, fmt.Errorf("%w: max transaction amount must be positive", ErrInvalidLimitsConfig)
	}
	if !maxDailySpend.IsPositive() {
		return LimitsConfig{}, fmt.Errorf("%w: max daily spend must be positive", ErrInvalidLimitsConfig)
	}
	if maxTransactionCount <= 0 {
		return LimitsConfig{}, fmt.Errorf("%w: max transaction count must be positive", ErrInvalidLimitsConfig)
	}
	return LimitsConfig{
		maxTransactionAmount: maxTransactionAmount,
		maxDailySpend:        maxDailySpend,
		maxTransactionCount:  maxTransactionCount,
	}, nil
}

// DefaultLimitsConfig returns the process-wide offline limits.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		maxTransactionAmount: decimal.NewFromInt(defaultMaxTransactionAmount),
		maxDailySpend:        decimal.NewFromInt(defaultMaxDailySpend),
		maxTransactionCount:  defaultMaxTransactionCount,
	}
}

// MaxTransactionAmount returns the per-transaction cap.
func (config LimitsConfig) MaxTransactionAmount() decimal.Decimal {
	return config.maxTransactionAmount
}

// MaxDailySpend returns the rolling 24h cap.
func (config LimitsConfig) MaxDailySpend() decimal.Decimal {
	return config.maxDailySpend
}

// MaxTransactionCount returns the PENDING queue cap.
func (config LimitsConfig) MaxTransactionCount() int {
	return config.maxTransactionCount
}

// SyncedTransaction is a server-confirmed queue entry.
type SyncedTransaction struct {
	ClientTransactionID ClientTransactionID `json:"clientTransactionId"`
	ServerTransactionID string              `json:"serverTransactionId"`
	Type                TransactionType     `json:"type"`
	Amount              Amount              `json:"amount"`
	NewBalance          Balance             `json:"newBalance"`
}

// SyncFailure is a server-rejected queue entry.
type SyncFailure struct {
	ClientTransactionID ClientTransactionID `json:"clientTransactionId"`
	Type                TransactionType     `json:"type"`
	Amount              Amount              `json:"amount"`
	Reason              string              `json:"reason"`
}

// SyncRequest is the batched sync payload.
type SyncRequest struct {
	Transactions []OfflineTransaction `json:"transactions"`
}

// SyncResponse is the wallet API reply to a batched sync.
type SyncResponse struct {
	Success            bool                `json:"success"`
	Message            string              `json:"message,omitempty"`
	NewBalance         *Balance            `json:"newBalance,omitempty"`
	SyncedTransactions []SyncedTransaction `json:"syncedTransactions"`
	Failures           []SyncFailure       `json:"failures"`
}

// SyncResult reports the local outcome of one sync call.
type SyncResult struct {
	SyncedTransactions []SyncedTransaction
	Failures           []SyncFailure
	StillPending       []ClientTransactionID
	Balance            *Balance
}

// WalletAPI is the network contract used for reconciliation.
type WalletAPI interface {
	SyncOfflineTransactions(ctx context.Context, token AuthToken, transactions []OfflineTransaction) (SyncResponse, error)
}

// BalanceFetcher queries the authoritative wallet balance.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, token AuthToken) (Balance, error)
}

// KeyWrite is one entry of an Apply batch. Remove deletes Key and ignores Value.
type KeyWrite struct {
	Key    string
	Value  []byte
	Remove bool
}

// KeyValueStore is the durable storage collaborator.
// Get reports found=false for a missing key. Apply writes every entry of the
// batch or none of them.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Apply(ctx context.Context, writes []KeyWrite) error
}
