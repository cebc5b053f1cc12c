package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-blobcache/pkg/blobcache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKeyPrefix namespaces every key the RedisStore writes.
const DefaultRedisKeyPrefix = "blobcache:"

const (
	fieldData    = "data"
	fieldCreated = "created"
	fieldExpires = "expires"

	scanBatch = 256
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string `env:"ADDR"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"blobcache:"`
}

// RedisStore keeps each entry in a Redis hash holding the payload and its
// created and expires stamps (unix nanoseconds, 0 meaning never). The server
// TTL is set from the store clock, and reads check expiry again so a
// simulated clock is honoured.
type RedisStore struct {
	redisClient *redis.Client
	prefix      string
	clock       blobcache.Clock
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger, opts ...Option) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		redisClient: rdb,
		prefix:      prefix,
		clock:       o.clock,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Insert replaces the hash for key in a single MULTI/EXEC transaction.
func (s *RedisStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	rk := s.redisKey(key)
	now := s.clock.Now()

	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(now)
		if ttl <= 0 {
			// Already dead: the net effect of the write is to remove the old entry.
			if err := s.redisClient.Del(ctx, rk).Err(); err != nil {
				return fmt.Errorf("redis delete for %s: %w", key, err)
			}
			return nil
		}
	}

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rk)
		pipe.HSet(ctx, rk,
			fieldData, data,
			fieldCreated, now.UnixNano(),
			fieldExpires, unixNanos(expiresAt),
		)
		if ttl > 0 {
			pipe.PExpire(ctx, rk, ttl)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set data in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	s.logger.Debug().Str("key", key).Msg("Successfully stored data in Redis.")
	return nil
}

// Get implements blobcache.BlobStore.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	vals, err := s.redisClient.HMGet(ctx, s.redisKey(key), fieldData, fieldExpires).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return nil, fmt.Errorf("redis get for %s: %w", key, err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, blobcache.NotFound(key)
	}
	if s.expired(vals[1]) {
		return nil, blobcache.NotFound(key)
	}
	return []byte(data), nil
}

// GetCreatedAt implements blobcache.BlobStore.
func (s *RedisStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	vals, err := s.redisClient.HMGet(ctx, s.redisKey(key), fieldCreated, fieldExpires).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get for %s: %w", key, err)
	}
	created, ok := vals[0].(string)
	if !ok || s.expired(vals[1]) {
		return time.Time{}, false, nil
	}
	nanos, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis created stamp for %s: %w", key, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Invalidate implements blobcache.BlobStore.
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete for %s: %w", key, err)
	}
	return nil
}

// InvalidateAll deletes every key under the store prefix.
func (s *RedisStore) InvalidateAll(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		return s.redisClient.Del(ctx, keys...).Err()
	})
}

// Vacuum removes hashes whose expires stamp has passed on the store clock.
// Redis expires keys on its own, so this only matters under a simulated clock
// or when the server and store clocks disagree.
func (s *RedisStore) Vacuum(ctx context.Context) error {
	purged := 0
	err := s.scan(ctx, func(keys []string) error {
		cmds, err := s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				pipe.HGet(ctx, k, fieldExpires)
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var dead []string
		for i, cmd := range cmds {
			v, err := cmd.(*redis.StringCmd).Result()
			if err != nil {
				continue
			}
			if s.expired(v) {
				dead = append(dead, keys[i])
			}
		}
		if len(dead) == 0 {
			return nil
		}
		purged += len(dead)
		return s.redisClient.Del(ctx, dead...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis vacuum: %w", err)
	}
	s.logger.Debug().Int("purged", purged).Msg("Vacuum complete.")
	return nil
}

// scan calls fn with batches of keys under the store prefix.
func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	pattern := escapeGlob(s.prefix) + "*"
	for {
		keys, next, err := s.redisClient.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// expired reports whether a stored expires stamp is dead on the store clock.
func (s *RedisStore) expired(stamp any) bool {
	str, ok := stamp.(string)
	if !ok {
		return false
	}
	nanos, err := strconv.ParseInt(str, 10, 64)
	if err != nil || nanos == 0 {
		return false
	}
	return blobcache.Expired(time.Unix(0, nanos), s.clock.Now())
}

// Clock implements blobcache.BlobStore.
func (s *RedisStore) Clock() blobcache.Clock { return s.clock }

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
