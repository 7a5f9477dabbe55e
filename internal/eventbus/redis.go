/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/telemetry"
)

// RedisConfig configures the Redis pub/sub relay.
type RedisConfig struct {
	// ChannelPrefix is followed by the room id, e.g. "ripple:relay:".
	ChannelPrefix  string
	PublishTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default relay configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		ChannelPrefix:  "ripple:relay:",
		PublishTimeout: 2 * time.Second,
		MaxFailures:    5,
		CheckInterval:  30 * time.Second,
	}
}

// RedisRelay relays room messages over Redis pub/sub, one channel per room.
type RedisRelay struct {
	client *redis.Client
	cfg    RedisConfig
	nodeID string
	logger zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	failCount int
	openedAt  time.Time
}

// NewRedisRelay creates a relay on an existing client. The client is not
// closed by the relay.
func NewRedisRelay(client *redis.Client, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisRelay {
	def := DefaultRedisConfig()
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = def.ChannelPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &RedisRelay{
		client: client,
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger.With().Str("component", "redis_relay").Logger(),
	}
}

// Publish sends msg on the room channel. While the breaker is open publishes
// are skipped until the check interval has passed.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	if !r.allow() {
		telemetry.RelayPublishErrors.WithLabelValues("redis").Inc()
		return fmt.Errorf("redis relay circuit open")
	}

	data, err := marshalMessage(msg, r.nodeID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.cfg.ChannelPrefix+msg.RoomID, data).Err(); err != nil {
		telemetry.RelayPublishErrors.WithLabelValues("redis").Inc()
		r.handleFailure()
		return fmt.Errorf("publish to redis: %w", err)
	}

	r.mu.Lock()
	r.failCount = 0
	r.mu.Unlock()

	r.logger.Debug().
		Str("room_id", msg.RoomID).
		Str("event_type", string(msg.Event)).
		Msg("published message to Redis")
	return nil
}

// Start subscribes to every room channel and hands remote messages to deliver.
func (r *RedisRelay) Start(ctx context.Context, deliver func(Message)) error {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.PSubscribe(ctx, r.cfg.ChannelPrefix+"*")

	// Wait for the subscription to be confirmed so no message is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to redis relay: %w", err)
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.receiveMessages(ctx, pubsub, deliver)

	r.logger.Info().Str("pattern", r.cfg.ChannelPrefix+"*").Msg("Redis relay started")
	return nil
}

func (r *RedisRelay) receiveMessages(ctx context.Context, pubsub *redis.PubSub, deliver func(Message)) {
	defer r.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				r.logger.Warn().Msg("Redis relay channel closed")
				return
			}

			msg, err := unmarshalMessage([]byte(m.Payload))
			if err != nil {
				r.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}

			// Skip messages from ourselves (prevent echo)
			if msg.NodeID == r.nodeID {
				continue
			}
			if msg.RoomID == "" {
				msg.RoomID = strings.TrimPrefix(m.Channel, r.cfg.ChannelPrefix)
			}

			deliver(*msg)
		}
	}
}

// Close stops receiving.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	pubsub := r.pubsub
	r.cancel = nil
	r.pubsub = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	r.wg.Wait()
	return err
}

func (r *RedisRelay) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCount < r.cfg.MaxFailures {
		return true
	}
	// Half-open: let one publish try the connection.
	if time.Since(r.openedAt) >= r.cfg.CheckInterval {
		r.openedAt = time.Now()
		return true
	}
	return false
}

// handleFailure implements circuit breaker logic.
func (r *RedisRelay) handleFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failCount++
	if r.failCount == r.cfg.MaxFailures {
		r.openedAt = time.Now()
		r.logger.Warn().
			Int("fail_count", r.failCount).
			Msg("Redis relay failure threshold reached, pausing cross-instance delivery")
	}
}
