// Package redisstore implements kvstore.Store on Redis.
//
// Values live in a hash and every key is also a member of a sorted set with
// score 0. Members with equal scores sort bytewise, so GetNextKey is a single
// ZRANGE ... BYLEX query.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/vatstore/kvstore"
)

// setScript writes the value and indexes the key atomically.
// KEYS[1] = data hash, KEYS[2] = key index
// ARGV[1] = key, ARGV[2] = value
var setScript = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], 0, ARGV[1])
return 1
`)

// deleteScript removes the value and its index entry atomically.
var deleteScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// Store is a kvstore.Store backed by Redis.
type Store struct {
	client  redis.UniversalClient
	dataKey string
	keysKey string
}

var _ kvstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*options)

type options struct {
	prefix string
}

// WithPrefix namespaces the Redis keys, so several vats can share a server.
// Default "vatstore".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := options{prefix: "vatstore"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		client:  client,
		dataKey: o.prefix + ":data",
		keysKey: o.prefix + ":keys",
	}
}

// Dial connects to a single Redis server.
func Dial(addr, password string, db int, opts ...Option) *Store {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements kvstore.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.dataKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements kvstore.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := setScript.Run(ctx, s.client, []string{s.dataKey, s.keysKey}, key, value).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

// Delete implements kvstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := deleteScript.Run(ctx, s.client, []string{s.dataKey, s.keysKey}, key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

// GetNextKey implements kvstore.Store.
func (s *Store) GetNextKey(ctx context.Context, prior string) (string, bool, error) {
	keys, err := s.client.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   s.keysKey,
		Start: "(" + prior,
		Stop:  "+",
		ByLex: true,
		Count: 1,
	}).Result()
	if err != nil {
		return "", false, fmt.Errorf("redisstore: next key after %q: %w", prior, err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	return keys[0], true, nil
}

// Drop deletes every key of this store.
func (s *Store) Drop(ctx context.Context) error {
	return s.client.Del(ctx, s.dataKey, s.keysKey).Err()
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }
