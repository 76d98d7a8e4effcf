package offline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FactoryOption configures a TransactionFactory.
type FactoryOption func(*TransactionFactory)

// TransactionFactory builds new PENDING queue records. It performs no I/O.
type TransactionFactory struct {
	nowFn    func() time.Time
	randomFn func() string
	signer   Signer
}

// WithSigner replaces the default JoinSigner.
func WithSigner(signer Signer) FactoryOption {
	return func(factory *TransactionFactory) {
		if signer != nil {
			factory.signer = signer
		}
	}
}

// WithRandomSource replaces the id suffix generator.
func WithRandomSource(randomFn func() string) FactoryOption {
	return func(factory *TransactionFactory) {
		if randomFn != nil {
			factory.randomFn = randomFn
		}
	}
}

// NewTransactionFactory wires a TransactionFactory.
func NewTransactionFactory(now func() time.Time, options ...FactoryOption) (*TransactionFactory, error) {
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	factory := &TransactionFactory{
		nowFn:    now,
		randomFn: randomSuffix,
		signer:   JoinSigner{},
	}
	for _, option := range options {
		if option != nil {
			option(factory)
		}
	}
	return factory, nil
}

// Create builds a signed PENDING transfer to the receiver.
func (factory *TransactionFactory) Create(receiverID string, receiverUsername string, amount Amount) (OfflineTransaction, error) {
	normalizedReceiverID := strings.TrimSpace(receiverID)
	if normalizedReceiverID == "" {
		return OfflineTransaction{}, fmt.Errorf("%w: empty value", ErrInvalidReceiverID)
	}
	if !amount.Decimal().IsPositive() {
		return OfflineTransaction{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	clientTimestamp := factory.nowFn().UnixMilli()
	clientTransactionID, err := NewClientTransactionID(strings.Join([]string{
		clientTransactionIDPrefix,
		strconv.FormatInt(clientTimestamp, 10),
		factory.randomFn(),
	}, clientTransactionIDDelimiter))
	if err != nil {
		return OfflineTransaction{}, err
	}
	transaction := OfflineTransaction{
		ClientTransactionID: clientTransactionID,
		Type:                TransactionTypeTransfer,
		ReceiverID:          normalizedReceiverID,
		ReceiverUsername:    strings.TrimSpace(receiverUsername),
		Amount:              amount,
		ClientTimestamp:     clientTimestamp,
		Status:              TransactionStatusPending,
	}
	transaction.Signature = factory.signer.Sign(transaction)
	return transaction, nil
}

// Signer returns the configured integrity signer.
func (factory *TransactionFactory) Signer() Signer {
	return factory.signer
}

func randomSuffix() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:clientTransactionIDSuffixLen]
}
