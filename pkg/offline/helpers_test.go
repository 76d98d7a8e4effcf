package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testReceiverID       = "bob-id"
	testReceiverUsername = "bob"
	testTokenValue       = "token-1"
	testRandomSuffix     = "abcd1234"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type memoryKeyValueStore struct {
	mutex     sync.Mutex
	values    map[string][]byte
	getErr    error
	setErr    error
	removeErr error
	failKeys  map[string]error
	setCalls  int
}

func newMemoryKeyValueStore() *memoryKeyValueStore {
	return &memoryKeyValueStore{values: map[string][]byte{}}
}

func (kv *memoryKeyValueStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if kv.getErr != nil {
		return nil, false, kv.getErr
	}
	value, ok := kv.values[key]
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

func (kv *memoryKeyValueStore) Set(_ context.Context, key string, value []byte) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	kv.setCalls++
	if kv.setErr != nil {
		return kv.setErr
	}
	if err := kv.failKeys[key]; err != nil {
		return err
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	kv.values[key] = copied
	return nil
}

func (kv *memoryKeyValueStore) Remove(_ context.Context, key string) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if kv.removeErr != nil {
		return kv.removeErr
	}
	delete(kv.values, key)
	return nil
}

func (kv *memoryKeyValueStore) Apply(_ context.Context, writes []KeyWrite) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	kv.setCalls += len(writes)
	for _, write := range writes {
		if write.Remove && kv.removeErr != nil {
			return kv.removeErr
		}
		if !write.Remove && kv.setErr != nil {
			return kv.setErr
		}
		if err := kv.failKeys[write.Key]; err != nil {
			return err
		}
	}
	for _, write := range writes {
		if write.Remove {
			delete(kv.values, write.Key)
			continue
		}
		copied := make([]byte, len(write.Value))
		copy(copied, write.Value)
		kv.values[write.Key] = copied
	}
	return nil
}

func (kv *memoryKeyValueStore) failOn(key string, err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if kv.failKeys == nil {
		kv.failKeys = map[string]error{}
	}
	if err == nil {
		delete(kv.failKeys, key)
		return
	}
	kv.failKeys[key] = err
}

func (kv *memoryKeyValueStore) writes() int {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	return kv.setCalls
}

type stubWalletAPI struct {
	mutex     sync.Mutex
	response  SyncResponse
	err       error
	calls     int
	submitted [][]OfflineTransaction
	tokens    []AuthToken
	block     chan struct{}
	entered   chan struct{}
}

func (api *stubWalletAPI) SyncOfflineTransactions(_ context.Context, token AuthToken, transactions []OfflineTransaction) (SyncResponse, error) {
	api.mutex.Lock()
	api.calls++
	api.submitted = append(api.submitted, transactions)
	api.tokens = append(api.tokens, token)
	block := api.block
	entered := api.entered
	api.mutex.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if api.err != nil {
		return SyncResponse{}, api.err
	}
	return api.response, nil
}

func (api *stubWalletAPI) callCount() int {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return api.calls
}

type stubBalanceFetcher struct {
	balance Balance
	err     error
}

func (fetcher *stubBalanceFetcher) FetchBalance(context.Context, AuthToken) (Balance, error) {
	return fetcher.balance, fetcher.err
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmountFromInt(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustBalance(test *testing.T, raw int64) Balance {
	test.Helper()
	balance, err := NewBalanceFromInt(raw)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func mustClientTransactionID(test *testing.T, raw string) ClientTransactionID {
	test.Helper()
	id, err := NewClientTransactionID(raw)
	if err != nil {
		test.Fatalf("client transaction id: %v", err)
	}
	return id
}

func mustToken(test *testing.T) AuthToken {
	test.Helper()
	token, err := NewAuthToken(testTokenValue)
	if err != nil {
		test.Fatalf("token: %v", err)
	}
	return token
}

func mustLedgerStore(test *testing.T, kv KeyValueStore) *LedgerStore {
	test.Helper()
	store, err := NewLedgerStore(kv)
	if err != nil {
		test.Fatalf("ledger store: %v", err)
	}
	return store
}

func mustFactory(test *testing.T, now time.Time) *TransactionFactory {
	test.Helper()
	counter := 0
	var mutex sync.Mutex
	factory, err := NewTransactionFactory(fixedClock(now), WithRandomSource(func() string {
		mutex.Lock()
		defer mutex.Unlock()
		counter++
		return fmt.Sprintf("%s%d", testRandomSuffix, counter)
	}))
	if err != nil {
		test.Fatalf("factory: %v", err)
	}
	return factory
}

func newQueuedTransaction(test *testing.T, id string, amount int64, clientTimestamp int64, status TransactionStatus) OfflineTransaction {
	test.Helper()
	transaction := OfflineTransaction{
		ClientTransactionID: mustClientTransactionID(test, id),
		Type:                TransactionTypeTransfer,
		ReceiverID:          testReceiverID,
		ReceiverUsername:    testReceiverUsername,
		Amount:              mustAmount(test, amount),
		ClientTimestamp:     clientTimestamp,
		Status:              status,
	}
	transaction.Signature = JoinSigner{}.Sign(transaction)
	return transaction
}

type walletFixture struct {
	kv      *memoryKeyValueStore
	store   *LedgerStore
	api     *stubWalletAPI
	engine  *SyncEngine
	wallet  *Wallet
	logger  *recorderLogger
	refresh *int
}

func newWalletFixture(test *testing.T, shadowBalance int64) *walletFixture {
	test.Helper()
	kv := newMemoryKeyValueStore()
	store := mustLedgerStore(test, kv)
	if err := store.SetShadowBalance(context.Background(), mustBalance(test, shadowBalance)); err != nil {
		test.Fatalf("seed shadow balance: %v", err)
	}
	api := &stubWalletAPI{}
	logger := &recorderLogger{}
	refreshCount := 0
	engine, err := NewSyncEngine(store, api, WithSyncLogger(logger), WithRefreshListener(func(context.Context) { refreshCount++ }))
	if err != nil {
		test.Fatalf("sync engine: %v", err)
	}
	wallet, err := NewWallet(store, mustFactory(test, testNow), engine, DefaultLimitsConfig(), fixedClock(testNow), WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("wallet: %v", err)
	}
	return &walletFixture{
		kv:      kv,
		store:   store,
		api:     api,
		engine:  engine,
		wallet:  wallet,
		logger:  logger,
		refresh: &refreshCount,
	}
}
