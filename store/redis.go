package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client used by RedisStore.
// *redis.Client, *redis.ClusterClient and *redis.Ring all satisfy it.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Close() error
}

// RedisOptions configures the connection opened by NewRedisStore.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisStore struct {
	client RedisClient
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	s := NewRedisStoreWithClient(client, logger)
	s.logger.Info("redis store connected", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

// NewRedisStoreWithClient wraps an already configured client.
func NewRedisStoreWithClient(client RedisClient, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func (r *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// SetWithTTL issues SETEX, so a non-positive ttl is rejected by the server.
func (r *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	return r.client.SetEx(ctx, key, value, time.Duration(ttlSeconds)*time.Second).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// GetByPrefix runs KEYS over the whole keyspace and then fetches each key
// separately, so the result is not a consistent snapshot. Keys removed
// between the two steps are skipped.
func (r *RedisStore) GetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.keys(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	values := make([]string, 0, len(keys))
	for _, key := range keys {
		val, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		values = append(values, val)
	}
	return values, nil
}

func (r *RedisStore) DelByPrefix(ctx context.Context, prefix string) error {
	keys, err := r.keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) SetHashSet(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *RedisStore) GetHashSet(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) RemoveHashSet(ctx context.Context, key, member string) error {
	return r.client.SRem(ctx, key, member).Err()
}

func (r *RedisStore) GetSetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.keys(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	seen := make(map[string]struct{})
	union := make([]string, 0)
	for _, key := range keys {
		members, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			union = append(union, m)
		}
	}
	return union, nil
}

func (r *RedisStore) SetHashMap(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *RedisStore) GetHashMap(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// GetHashMapList returns the hash values in HKEYS order, which Redis does not
// keep stable.
func (r *RedisStore) GetHashMapList(ctx context.Context, key string) ([]string, error) {
	fields, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return []string{}, nil
	}

	raw, err := r.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		// nil means the field was removed after HKEYS
		s, ok := v.(string)
		if !ok {
			continue
		}
		values = append(values, s)
	}
	return values, nil
}

func (r *RedisStore) GetHashMaps(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) GetHashKeys(ctx context.Context, key, substr string) ([]string, error) {
	fields, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	r.logger.Debug("hash fields scanned", "key", key, "fields", len(fields))
	return filterContains(fields, substr), nil
}

func (r *RedisStore) DeleteHashKeys(ctx context.Context, key string, fields ...string) error {
	if strings.TrimSpace(key) == "" || len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, key, fields...).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	r.logger.Info("redis store closed")
	return r.client.Close()
}

// keys enumerates prefix* with KEYS. This is O(keyspace) on the server.
func (r *RedisStore) keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.client.Keys(ctx, prefixPattern(prefix)).Result()
	if err != nil {
		return nil, err
	}
	r.logger.Debug("prefix scan", "prefix", prefix, "matched", len(keys))
	return keys, nil
}

func filterContains(fields []string, substr string) []string {
	matched := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, substr) {
			matched = append(matched, f)
		}
	}
	return matched
}
