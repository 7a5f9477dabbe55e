/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for room records.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultRoomTTL    = 5 * time.Minute
	DefaultRetryAfter = 30 * time.Second
)

// Config contains cache configuration.
type Config struct {
	// Prefix roots the cache keys, e.g. "ripple:cache".
	Prefix  string
	RoomTTL time.Duration

	// Fallback behavior
	DisableOnError bool          // If true, bypass the cache after a Redis error
	RetryAfter     time.Duration // How long the cache stays bypassed
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:         "ripple:cache",
		RoomTTL:        DefaultRoomTTL,
		DisableOnError: true,
		RetryAfter:     DefaultRetryAfter,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu            sync.RWMutex
	disabledUntil time.Time // Circuit breaker state
}

// New creates a cache on an existing client. The client is not closed by the cache.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = DefaultRoomTTL
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c.client == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Before(c.disabledUntil)
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabledUntil = c.now().Add(c.config.RetryAfter)
		c.mu.Unlock()
		c.logger.Warn().Dur("retry_after", c.config.RetryAfter).Msg("bypassing cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

func (c *Cache) roomKey(roomID string) string {
	return c.config.Prefix + ":room:" + roomID
}

// GetRoom retrieves a cached room record.
func (c *Cache) GetRoom(ctx context.Context, roomID string) (*models.Room, bool) {
	var room models.Room
	found, err := c.get(ctx, c.roomKey(roomID), &room)
	if err != nil || !found {
		return nil, false
	}
	return &room, true
}

// SetRoom caches a room record.
func (c *Cache) SetRoom(ctx context.Context, room models.Room) error {
	return c.set(ctx, c.roomKey(room.ID), room, c.config.RoomTTL)
}

// InvalidateRoom removes a cached room record.
func (c *Cache) InvalidateRoom(ctx context.Context, roomID string) error {
	return c.delete(ctx, c.roomKey(roomID))
}
