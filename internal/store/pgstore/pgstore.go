package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore = "store"
	errorSubjectSchema  = "schema"
	errorSubjectValue   = "value"
	errorCodeBegin      = "begin"
	errorCodeCommit     = "commit"
	errorCodeCreate     = "create"
	errorCodeDelete     = "delete"
	errorCodeGet        = "get"
	errorCodeInvalid    = "invalid"
	errorCodeUpsert     = "upsert"

	sqlCreateWalletValues = `
		create table if not exists wallet_values(
			wallet_id varchar(128) not null,
			value_key varchar(64) not null,
			value text not null,
			updated_at timestamptz not null default now(),
			primary key (wallet_id, value_key)
		)
	`

	sqlSelectValue = `
		select value from wallet_values
		where wallet_id = $1 and value_key = $2
	`

	sqlUpsertValue = `
		insert into wallet_values(wallet_id, value_key, value, updated_at)
		values ($1, $2, $3, now())
		on conflict (wallet_id, value_key) do update set value = excluded.value, updated_at = excluded.updated_at
	`

	sqlDeleteValue = `
		delete from wallet_values
		where wallet_id = $1 and value_key = $2
	`
)

var (
	ErrInvalidWalletID = errors.New("invalid wallet id")
	ErrInvalidValue    = errors.New("value is not a JSON document")
)

// Store persists one device wallet's offline state through a pgx pool. It
// shares the wallet_values layout with the gorm store.
type Store struct {
	pool     *pgxpool.Pool
	walletID string
}

// Open connects a pool to a postgres URL.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pool, nil
}

// New returns a Store scoped to walletID.
func New(pool *pgxpool.Pool, walletID string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is nil", offline.ErrInvalidServiceConfig)
	}
	normalized := strings.TrimSpace(walletID)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return &Store{pool: pool, walletID: normalized}, nil
}

// EnsureSchema creates the wallet_values table when it is missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateWalletValues); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := store.pool.QueryRow(ctx, sqlSelectValue, store.walletID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorSubjectValue, errorCodeGet, err)
	}
	return []byte(value), true, nil
}

func (store *Store) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return wrapStoreError(errorSubjectValue, errorCodeInvalid, ErrInvalidValue)
	}
	if _, err := store.pool.Exec(ctx, sqlUpsertValue, store.walletID, key, string(value)); err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) Remove(ctx context.Context, key string) error {
	if _, err := store.pool.Exec(ctx, sqlDeleteValue, store.walletID, key); err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeDelete, err)
	}
	return nil
}

// Apply writes the batch in one transaction.
func (store *Store) Apply(ctx context.Context, writes []offline.KeyWrite) error {
	for _, write := range writes {
		if !write.Remove && !json.Valid(write.Value) {
			return wrapStoreError(errorSubjectValue, errorCodeInvalid, ErrInvalidValue)
		}
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeBegin, err)
	}
	if err := store.applyWrites(ctx, tx, writes); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectValue, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) applyWrites(ctx context.Context, tx pgx.Tx, writes []offline.KeyWrite) error {
	for _, write := range writes {
		if write.Remove {
			if _, err := tx.Exec(ctx, sqlDeleteValue, store.walletID, write.Key); err != nil {
				return wrapStoreError(errorSubjectValue, errorCodeDelete, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, sqlUpsertValue, store.walletID, write.Key, string(write.Value)); err != nil {
			return wrapStoreError(errorSubjectValue, errorCodeUpsert, err)
		}
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return offline.WrapError(errorOperationStore, subject, code, err)
}
