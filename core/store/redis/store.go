// Package redis stores addresses as JSON values under "<table>:<email>" keys.
// Listing is a SCAN over the table namespace filtered client-side, mirroring a
// key-value table without a secondary index.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/m3rciful/inboxbot/core/address"
)

const (
	scanCount      = 200
	maxTxRetries   = 5
	defaultTimeout = 5 * time.Second
)

// Store implements address.Store over a go-redis client.
type Store struct {
	rdb       *goredis.Client
	namespace string
}

// Options configures the connection created by Connect.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  defaultTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// New binds a Store to a client and table namespace.
func New(rdb *goredis.Client, table string) *Store {
	return &Store{rdb: rdb, namespace: table + ":"}
}

var _ address.Store = (*Store)(nil)

func (s *Store) key(email string) string {
	return s.namespace + email
}

// Create uses SETNX so a taken key reports address.ErrAddressExists.
func (s *Store) Create(ctx context.Context, rec address.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(rec.EmailAddress), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return address.ErrAddressExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, email string) (address.Record, error) {
	return s.get(ctx, s.rdb, email)
}

func (s *Store) get(ctx context.Context, c goredis.Cmdable, email string) (address.Record, error) {
	data, err := c.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return address.Record{}, address.ErrNotFound
	}
	if err != nil {
		return address.Record{}, fmt.Errorf("redis get: %w", err)
	}
	var rec address.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return address.Record{}, fmt.Errorf("redis decode %s: %w", email, err)
	}
	return rec, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]address.Record, error) {
	var (
		out    []address.Record
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.namespace+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			vals, err := s.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("redis mget: %w", err)
			}
			for i, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue // deleted between SCAN and MGET
				}
				var rec address.Record
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					return nil, fmt.Errorf("redis decode %s: %w", keys[i], err)
				}
				if rec.TelegramUserID == ownerID {
					out = append(out, rec)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Deactivate rewrites the record with active=false under WATCH so a concurrent
// writer (e.g. ingestion bumping usage_count) is not clobbered.
func (s *Store) Deactivate(ctx context.Context, email string) error {
	key := s.key(email)
	txf := func(tx *goredis.Tx) error {
		rec, err := s.get(ctx, tx, email)
		if err != nil {
			return err
		}
		rec.Active = false
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redis encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, goredis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis deactivate %s: %w", email, goredis.TxFailedErr)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
