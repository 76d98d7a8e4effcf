package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace = "walletsync"

	errorOperationStore = "store"
	errorSubjectValue   = "value"
	errorCodeApply      = "apply"
	errorCodeDelete     = "delete"
	errorCodeGet        = "get"
	errorCodeInvalid    = "invalid"
	errorCodeSet        = "set"
)

var (
	ErrInvalidWalletID = errors.New("invalid wallet id")
	ErrInvalidValue    = errors.New("value is not a JSON document")
)

// Store persists one device wallet's offline state in redis under
// walletsync:{<wallet id>}:<key>. The hash tag pins a wallet's keys to one
// cluster slot. Values never expire.
type Store struct {
	client   redis.UniversalClient
	walletID string
}

// NewClient returns a cluster client when useCluster is set and more than
// one address is given, a single-node client otherwise.
func NewClient(addrs []string, password string, useCluster bool) (redis.UniversalClient, error) {
	if len(addrs) == 0 || strings.TrimSpace(addrs[0]) == "" {
		return nil, fmt.Errorf("%w: redis address is required", offline.ErrInvalidServiceConfig)
	}
	if useCluster && len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addrs[0],
		Password: password,
		DB:       0,
	}), nil
}

// New returns a Store scoped to walletID.
func New(client redis.UniversalClient, walletID string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", offline.ErrInvalidServiceConfig)
	}
	normalized := strings.TrimSpace(walletID)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return &Store{client: client, walletID: normalized}, nil
}

func (store *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := store.client.Get(ctx, store.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorCodeGet, err)
	}
	return value, true, nil
}

func (store *Store) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return wrapStoreError(errorCodeInvalid, ErrInvalidValue)
	}
	if err := store.client.Set(ctx, store.namespaced(key), value, 0).Err(); err != nil {
		return wrapStoreError(errorCodeSet, err)
	}
	return nil
}

func (store *Store) Remove(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, store.namespaced(key)).Err(); err != nil {
		return wrapStoreError(errorCodeDelete, err)
	}
	return nil
}

// Apply writes the batch in one MULTI/EXEC transaction.
func (store *Store) Apply(ctx context.Context, writes []offline.KeyWrite) error {
	for _, write := range writes {
		if !write.Remove && !json.Valid(write.Value) {
			return wrapStoreError(errorCodeInvalid, ErrInvalidValue)
		}
	}
	_, err := store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, write := range writes {
			if write.Remove {
				pipe.Del(ctx, store.namespaced(write.Key))
				continue
			}
			pipe.Set(ctx, store.namespaced(write.Key), write.Value, 0)
		}
		return nil
	})
	if err != nil {
		return wrapStoreError(errorCodeApply, err)
	}
	return nil
}

func (store *Store) namespaced(key string) string {
	return keyNamespace + ":{" + store.walletID + "}:" + key
}

func wrapStoreError(code string, err error) error {
	return offline.WrapError(errorOperationStore, errorSubjectValue, code, err)
}
