package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

// RedisConfig configures the Redis-backed run store.
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisConfig returns the default Redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		TTL:      24 * time.Hour,
	}
}

// RedisStore persists run state in Redis. Replace uses WATCH for the
// version check; TTL acts as the eviction policy.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

const redisKeyPrefix = "interflow:run:"

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis run store initialized", zap.String("addr", cfg.Addr))

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "redis_run_store")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_run_store")),
	}
}

func redisKey(runID string) string { return redisKeyPrefix + runID }

func (s *RedisStore) Create(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisKey(st.RunID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return types.Errorf(types.ErrConflict, "run already exists: %s", st.RunID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*State, error) {
	data, err := s.client.Get(ctx, redisKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.Errorf(types.ErrUnknownRun, "run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) Replace(ctx context.Context, st *State) error {
	key := redisKey(st.RunID)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.Errorf(types.ErrUnknownRun, "run not found: %s", st.RunID)
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		var cur State
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("unmarshal state: %w", err)
		}
		if cur.Version != st.Version {
			return types.Errorf(types.ErrConflict, "version mismatch for run %s: have %d, want %d",
				st.RunID, st.Version, cur.Version)
		}

		st.Version++
		st.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(st)
		if err != nil {
			st.Version--
			return fmt.Errorf("marshal state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		if err != nil {
			st.Version--
		}
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer slipped in between WATCH and EXEC.
		return types.Errorf(types.ErrConflict, "concurrent update on run %s", st.RunID)
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, redisKey(runID)).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
