package offline

import "context"

// OperationLogger records domain-level events emitted by the wallet core.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing offline operation.
type OperationLog struct {
	Operation           string
	ClientTransactionID ClientTransactionID
	ReceiverID          string
	Amount              Amount
	Balance             Balance
	SyncedCount         int
	FailedCount         int
	PendingCount        int
	Status              string
	Error               error
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
