package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/accesstime/internal/config"
	"github.com/goodtune/accesstime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultMaxTxRetries = 10

// Store implements the storage.Store interface using Redis.
//
// Update runs optimistic transactions: every key is WATCHed before it is
// read, writes are buffered in memory and flushed in one MULTI/EXEC. When a
// watched key changes underneath the transaction the whole unit of work is
// re-run from scratch.
type Store struct {
	client     *redis.Client
	keys       keyspace
	maxRetries int
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "accesstime"
	}
	retries := cfg.MaxTxRetries
	if retries <= 0 {
		retries = defaultMaxTxRetries
	}

	return &Store{
		client:     client,
		keys:       keyspace{prefix: prefix},
		maxRetries: retries,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// View runs fn against the live keyspace. Writes are rejected.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newTx(ctx, s.client, nil, s.keys))
}

// Update runs fn as an optimistic transaction, retrying on conflict.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := newTx(ctx, rtx, rtx, s.keys)
			if err := fn(tx); err != nil {
				return err
			}
			if !tx.dirty() {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				tx.flush(ctx, pipe)
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return storage.ErrConflict
}
