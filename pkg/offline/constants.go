package offline

import "time"

const (
	operationTransferOffline = "transfer_offline"
	operationSync            = "sync"
	operationConfirmBalance  = "confirm_balance"
	operationRefreshBalance  = "refresh_balance"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusSkipped = "skipped"

	// Persisted key layout.
	KeyOfflineTransactions = "offline_transactions"
	KeyShadowBalance       = "shadow_balance"
	KeyLastKnownBalance    = "last_known_balance"

	clientTransactionIDPrefix    = "OFFLINE"
	clientTransactionIDDelimiter = "_"
	clientTransactionIDSuffixLen = 8
	signatureDelimiter           = "|"

	dailySpendWindow = 24 * time.Hour

	defaultMaxTransactionAmount = 5000
	defaultMaxDailySpend        = 15000
	defaultMaxTransactionCount  = 20

	syncFlightKey = "sync"

	errorOperationStore   = "store"
	errorOperationSync    = "sync"
	errorOperationWallet  = "wallet"
	errorSubjectQueue     = "queue"
	errorSubjectState     = "state"
	errorSubjectBalance   = "balance"
	errorSubjectResponse  = "response"
	errorSubjectTransfer  = "transfer"
	errorCodeRead         = "read"
	errorCodeWrite        = "write"
	errorCodeDecode       = "decode"
	errorCodeEncode       = "encode"
	errorCodeCreate       = "create"
	errorCodeTransport    = "transport"
	errorCodeInvalidEntry = "invalid_entry"
)
