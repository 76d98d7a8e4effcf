package offline

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidateLimits checks a proposed offline transfer against the limits and
// the locally held state. It returns nil or a *ValidationError.
//
// Checks run in a fixed order: pending count, rolling daily spend,
// per-transaction cap, shadow balance liquidity.
func ValidateLimits(amount Amount, transactions []OfflineTransaction, shadowBalance Balance, config LimitsConfig, now time.Time) error {
	if countPending(transactions) >= config.MaxTransactionCount() {
		return NewValidationError(ErrMaxTransactionCount)
	}
	dailySpend := sumSince(transactions, now.Add(-dailySpendWindow).UnixMilli())
	if dailySpend.Add(amount.Decimal()).GreaterThan(config.MaxDailySpend()) {
		return NewValidationError(ErrDailySpendExceeded)
	}
	if amount.Decimal().GreaterThan(config.MaxTransactionAmount()) {
		return NewValidationError(ErrTransactionAmountExceeded)
	}
	if !shadowBalance.Covers(amount) {
		return NewValidationError(ErrInsufficientShadowBalance)
	}
	return nil
}

func countPending(transactions []OfflineTransaction) int {
	count := 0
	for _, transaction := range transactions {
		if transaction.Status == TransactionStatusPending {
			count++
		}
	}
	return count
}

// sumSince totals every queued amount created at or after the cutoff,
// regardless of status.
func sumSince(transactions []OfflineTransaction, cutoffUnixMilli int64) decimal.Decimal {
	total := decimal.Zero
	for _, transaction := range transactions {
		if transaction.ClientTimestamp >= cutoffUnixMilli {
			total = total.Add(transaction.Amount.Decimal())
		}
	}
	return total
}
