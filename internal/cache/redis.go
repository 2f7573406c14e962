package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jbaubree/villus/internal/operation"
)

// ErrRedisUnavailable wraps Redis connectivity failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Address is the Redis server address (e.g. "localhost:6379").
	Address string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number.
	DB int
	// KeyPrefix namespaces all keys (default: "villus:cache:").
	KeyPrefix string
	// FallbackOnError treats Redis read errors as cache misses instead of
	// surfacing them.
	FallbackOnError bool
}

// RedisStore is a Store backed by Redis, for sharing cached results across
// processes. Entries are JSON-encoded; the tag index is kept in Redis sets
// in both directions so tag unioning and tag-scoped eviction match the
// in-memory store semantics. Like the memory store, entries carry no TTL.
type RedisStore struct {
	client          *redis.Client
	keyPrefix       string
	fallbackOnError bool
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient creates a store with an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "villus:cache:"
	}
	return &RedisStore{
		client:          client,
		keyPrefix:       cfg.KeyPrefix,
		fallbackOnError: cfg.FallbackOnError,
	}
}

// redisEntry is the serializable form of a cache entry.
type redisEntry struct {
	Result   *operation.Result `json:"result"`
	StoredAt int64             `json:"stored_at"` // Unix nanoseconds
}

func (s *RedisStore) entryKey(key string) string   { return s.keyPrefix + "entry:" + key }
func (s *RedisStore) tagKey(tag string) string     { return s.keyPrefix + "tag:" + tag }
func (s *RedisStore) keyTagsKey(key string) string { return s.keyPrefix + "keytags:" + key }

// Get returns the entry for a key, or ErrCacheMiss.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		if s.fallbackOnError {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt payload; treat as a miss after dropping it.
		s.client.Del(ctx, s.entryKey(key))
		return nil, ErrCacheMiss
	}

	tags, err := s.client.SMembers(ctx, s.keyTagsKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		tags = nil
	}

	return &Entry{
		Result:   entry.Result,
		Tags:     tags,
		StoredAt: time.Unix(0, entry.StoredAt),
	}, nil
}

// Set stores a result under a key, unioning tags with any prior entry.
func (s *RedisStore) Set(ctx context.Context, key string, result *operation.Result, tags []string) error {
	raw, err := json.Marshal(redisEntry{
		Result:   result,
		StoredAt: time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(key), raw, 0)
	for _, tag := range tags {
		pipe.SAdd(ctx, s.tagKey(tag), key)
		pipe.SAdd(ctx, s.keyTagsKey(key), tag)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes a single entry and its tag index references.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	tags, err := s.client.SMembers(ctx, s.keyTagsKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.entryKey(key), s.keyTagsKey(key))
	for _, tag := range tags {
		pipe.SRem(ctx, s.tagKey(tag), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClearTags deletes every entry whose tag set intersects the given tags.
func (s *RedisStore) ClearTags(ctx context.Context, tags []string) error {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		keys, err := s.client.SMembers(ctx, s.tagKey(tag)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if err := s.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear removes every entry under this store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
