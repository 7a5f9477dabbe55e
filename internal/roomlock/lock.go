/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package roomlock serializes playback transitions per room across every
// instance sharing the coordination store.
package roomlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/store"
	"github.com/friendsincode/ripple/internal/telemetry"
)

// ErrLockTimeout is returned when the room lease could not be acquired in time.
var ErrLockTimeout = errors.New("room lock acquisition timed out")

const (
	defaultLease      = 10 * time.Second
	defaultAcquire    = 5 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
)

// Only the owner may release or extend the lease.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)
)

// Config tunes lease timing.
type Config struct {
	// Lease is how long the Redis key lives without renewal.
	Lease time.Duration
	// AcquireTimeout bounds the wait for the lease.
	AcquireTimeout time.Duration
	// RetryDelay is the pause between SET NX attempts.
	RetryDelay time.Duration
}

// KeyFunc maps a room to its lease key.
type KeyFunc func(roomID string) string

// Locker provides a mutual-exclusion region per room. Callers on the same
// instance queue on a local semaphore before contending for the shared lease.
type Locker struct {
	client *redis.Client
	key    KeyFunc
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	local map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// New creates a Locker.
func New(client *redis.Client, key KeyFunc, cfg Config, logger zerolog.Logger) *Locker {
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquire
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Locker{
		client: client,
		key:    key,
		cfg:    cfg,
		logger: logger.With().Str("component", "room_lock").Logger(),
		local:  make(map[string]*localLock),
	}
}

// WithLock runs fn while holding the room lease. The lease is renewed while fn
// runs and released afterwards even if fn fails.
func (l *Locker) WithLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	ll := l.ref(roomID)
	defer l.unref(roomID)

	select {
	case ll.sem <- struct{}{}:
	case <-waitCtx.Done():
		return l.timeout(ctx, roomID)
	}
	defer func() { <-ll.sem }()

	key := l.key(roomID)
	token := uuid.NewString()
	if err := l.acquire(waitCtx, key, token); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return l.timeout(ctx, roomID)
		}
		return err
	}
	telemetry.LockWaitSeconds.Observe(time.Since(start).Seconds())

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.renew(renewCtx, key, token)
	}()

	defer func() {
		stopRenew()
		<-renewDone
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.AcquireTimeout)
		defer relCancel()
		if err := releaseScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to release room lock")
		}
	}()

	return fn(ctx)
}

func (l *Locker) timeout(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	telemetry.LockTimeouts.Inc()
	l.logger.Warn().Str("room_id", roomID).Dur("timeout", l.cfg.AcquireTimeout).Msg("timed out waiting for room lock")
	return fmt.Errorf("%w: room %s", ErrLockTimeout, roomID)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.Lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockTimeout
			}
			return fmt.Errorf("%w: acquire room lock %s: %w", store.ErrStoreUnavailable, key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(l.cfg.RetryDelay):
		}
	}
}

// renew extends the lease at a third of its length until ctx is cancelled.
func (l *Locker) renew(ctx context.Context, key, token string) {
	ticker := time.NewTicker(l.cfg.Lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := renewScript.Run(ctx, l.client, []string{key}, token, l.cfg.Lease.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("failed to renew room lock")
				}
				continue
			}
			if res == 0 {
				l.logger.Error().Str("key", key).Msg("room lock lost before critical section finished")
				return
			}
		}
	}
}

func (l *Locker) ref(roomID string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	ll, ok := l.local[roomID]
	if !ok {
		ll = &localLock{sem: make(chan struct{}, 1)}
		l.local[roomID] = ll
	}
	ll.refs++
	return ll
}

func (l *Locker) unref(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ll := l.local[roomID]
	ll.refs--
	if ll.refs == 0 {
		delete(l.local, roomID)
	}
}
