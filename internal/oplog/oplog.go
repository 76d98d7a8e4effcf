package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"go.uber.org/zap"
)

const messageOperation = "wallet operation"

var ErrNilLogger = errors.New("zap logger is nil")

// ZapLogger writes offline.OperationLog entries as structured zap records.
type ZapLogger struct {
	logger *zap.Logger
}

// New wraps logger.
func New(logger *zap.Logger) (*ZapLogger, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}
	return &ZapLogger{logger: logger}, nil
}

// LogOperation implements offline.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry offline.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if id := entry.ClientTransactionID.String(); id != "" {
		fields = append(fields, zap.String("client_transaction_id", id))
	}
	if entry.ReceiverID != "" {
		fields = append(fields, zap.String("receiver_id", entry.ReceiverID))
	}
	if !entry.Amount.Decimal().IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	fields = append(fields,
		zap.String("balance", entry.Balance.String()),
		zap.Int("synced", entry.SyncedCount),
		zap.Int("failed", entry.FailedCount),
		zap.Int("pending", entry.PendingCount),
	)
	if entry.Error != nil {
		zapLogger.logger.Warn(messageOperation, append(fields, zap.Error(entry.Error))...)
		return
	}
	zapLogger.logger.Info(messageOperation, fields...)
}
