/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/telemetry"
)

// indexedRemoveScript overwrites the slot with a unique tombstone and sweeps
// every slot equal to it, so exactly the element at the index is removed even
// when equal values exist elsewhere in the list.
//
// Returns {0} when out of range, {2} on expectation mismatch, {1, value} on removal.
var indexedRemoveScript = redis.NewScript(`
local v = redis.call('LINDEX', KEYS[1], ARGV[1])
if not v then
	return {0}
end
if ARGV[3] == '1' and v ~= ARGV[4] then
	return {2}
end
redis.call('LSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('LREM', KEYS[1], 0, ARGV[2])
return {1, v}
`)

// pushOnceScript pushes to the head of a capped list unless the marker exists.
// KEYS: list, marker. ARGV: value, max, ttlMs. Returns 1 when pushed.
var pushOnceScript = redis.NewScript(`
local set
if tonumber(ARGV[3]) > 0 then
	set = redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[3])
else
	set = redis.call('SET', KEYS[2], '1', 'NX')
end
if not set then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
local max = tonumber(ARGV[2])
if max > 0 then
	redis.call('LTRIM', KEYS[1], 0, max - 1)
end
return 1
`)

// addCountScript adjusts a counter, deleting it once it is no longer positive.
// KEYS: counter. ARGV: delta, ttlMs. Returns the new value, floored at 0.
var addCountScript = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisStore wraps client. Every call is bounded by timeout.
func NewRedisStore(client *redis.Client, timeout time.Duration, logger zerolog.Logger) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "state_store").Logger(),
	}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// fail records the failure and wraps it as ErrStoreUnavailable.
func (s *RedisStore) fail(op, key string, err error) error {
	telemetry.StoreErrors.WithLabelValues(op).Inc()
	s.logger.Debug().Err(err).Str("op", op).Str("key", key).Msg("state store operation failed")
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, key, err)
}

// Length returns the number of elements in the list.
func (s *RedisStore) Length(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, s.fail("llen", key, err)
	}
	return n, nil
}

// PushTail appends value to the list.
func (s *RedisStore) PushTail(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return s.fail("rpush", key, err)
	}
	return nil
}

// PushHead prepends value to the list.
func (s *RedisStore) PushHead(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return s.fail("lpush", key, err)
	}
	return nil
}

// PushHeadCapped prepends value and trims the list to max elements in one transaction.
func (s *RedisStore) PushHeadCapped(ctx context.Context, key string, value []byte, max int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		if max > 0 {
			pipe.LTrim(ctx, key, 0, max-1)
		}
		return nil
	})
	if err != nil {
		return s.fail("lpush_capped", key, err)
	}
	return nil
}

// PushHeadCappedOnce prepends value and trims the list unless marker is
// already set, in one script.
func (s *RedisStore) PushHeadCappedOnce(ctx context.Context, key, marker string, value []byte, max int64, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pushed, err := pushOnceScript.Run(ctx, s.client, []string{key, marker}, value, max, ttl.Milliseconds()).Int()
	if err != nil {
		return false, s.fail("lpush_once", key, err)
	}
	return pushed == 1, nil
}

// PopHead removes and returns the first element.
func (s *RedisStore) PopHead(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	data, err := s.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("lpop", key, err)
	}
	return data, true, nil
}

// Range returns elements start..stop inclusive (negative indexes count from the tail).
func (s *RedisStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.fail("lrange", key, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// Index returns the element at i.
func (s *RedisStore) Index(ctx context.Context, key string, i int64) ([]byte, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	data, err := s.client.LIndex(ctx, key, i).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("lindex", key, err)
	}
	return data, true, nil
}

// IndexedRemove removes the element currently at i using the tombstone protocol.
func (s *RedisStore) IndexedRemove(ctx context.Context, key string, i int64, expect []byte) ([]byte, error) {
	if i < 0 {
		return nil, ErrOutOfRange
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	tombstone := "__ripple_tombstone__:" + uuid.NewString()
	checkExpect := "0"
	if expect != nil {
		checkExpect = "1"
	}

	res, err := indexedRemoveScript.Run(ctx, s.client, []string{key}, i, tombstone, checkExpect, string(expect)).Slice()
	if err != nil {
		return nil, s.fail("indexed_remove", key, err)
	}
	if len(res) == 0 {
		return nil, s.fail("indexed_remove", key, fmt.Errorf("empty script reply"))
	}

	status, _ := res[0].(int64)
	switch status {
	case 0:
		return nil, ErrOutOfRange
	case 2:
		return nil, ErrConflict
	}

	removed, _ := res[1].(string)
	return []byte(removed), nil
}

// Replace swaps the whole list for values atomically.
func (s *RedisStore) Replace(ctx context.Context, key string, values [][]byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			args := make([]any, len(values))
			for i, v := range values {
				args[i] = v
			}
			pipe.RPush(ctx, key, args...)
		}
		return nil
	})
	if err != nil {
		return s.fail("replace", key, err)
	}
	return nil
}

// Get reads a scalar key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("get", key, err)
	}
	return data, true, nil
}

// Set writes a scalar key.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.fail("del", key, err)
	}
	return nil
}

// AddCount adjusts the counter at key by delta and refreshes its ttl.
func (s *RedisStore) AddCount(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := addCountScript.Run(ctx, s.client, []string{key}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, s.fail("add_count", key, err)
	}
	return n, nil
}
