/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler delivers delayed timer fires exactly once across every
// instance sharing the coordination store.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/telemetry"
)

// ErrSchedulerUnavailable is returned when a timer could not be posted or
// cancelled. Callers must treat it as fatal to the operation.
var ErrSchedulerUnavailable = errors.New("timer scheduler unavailable")

// Config tunes the job queue.
type Config struct {
	// Prefix roots the Redis keys, e.g. "ripple:timers".
	Prefix       string
	InstanceID   string
	PollInterval time.Duration
	// Lease is how long a claimed job may run before it is redelivered.
	Lease time.Duration
	// MaxAttempts is the number of deliveries at the plain lease. Later
	// deliveries back off exponentially up to BackoffCap; jobs are never dropped.
	MaxAttempts int
	BackoffCap  time.Duration
	BatchSize   int
	// Timeout bounds each Redis round trip.
	Timeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type keySet struct {
	due      string
	jobs     string
	bodies   string
	inflight string
	attempts string
}

// Service is a Redis lease-based delayed job queue.
type Service struct {
	client *redis.Client
	keys   keySet
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	handler Handler

	wg sync.WaitGroup
}

// New constructs the scheduler service.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Prefix == "" {
		cfg.Prefix = "ripple:timers"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffCap < cfg.Lease {
		cfg.BackoffCap = 10 * cfg.Lease
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		client: client,
		keys: keySet{
			due:      cfg.Prefix + ":due",
			jobs:     cfg.Prefix + ":jobs",
			bodies:   cfg.Prefix + ":bodies",
			inflight: cfg.Prefix + ":inflight",
			attempts: cfg.Prefix + ":attempts",
		},
		cfg:    cfg,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Handle registers the fire callback. It replaces any previous handler.
func (s *Service) Handle(fn Handler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Post schedules a fire for id after delay. An unclaimed job already posted
// under id is superseded and never fires.
func (s *Service) Post(ctx context.Context, id string, delay time.Duration, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode timer payload: %w", err)
	}

	if delay < 0 {
		delay = 0
	}
	job := Job{
		ID:       id,
		Token:    uuid.NewString(),
		DueAt:    s.cfg.Now().Add(delay).UnixMilli(),
		PostedBy: s.cfg.InstanceID,
		Payload:  raw,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("encode timer job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	superseded, err := postScript.Run(ctx, s.client,
		[]string{s.keys.due, s.keys.jobs, s.keys.bodies, s.keys.attempts},
		id, job.Token, body, job.DueAt,
	).Int()
	if err != nil {
		return Job{}, fmt.Errorf("%w: post %s: %w", ErrSchedulerUnavailable, id, err)
	}

	telemetry.TimerPosts.Inc()
	if superseded == 1 {
		telemetry.TimerSuperseded.Inc()
	}

	s.logger.Debug().
		Str("timer_id", id).
		Str("token", job.Token).
		Dur("delay", delay).
		Bool("superseded", superseded == 1).
		Msg("timer posted")

	return job, nil
}

// Cancel removes the unclaimed job under id. It reports whether one existed;
// a job that was already claimed cannot be retracted.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	removed, err := cancelScript.Run(ctx, s.client,
		[]string{s.keys.due, s.keys.jobs, s.keys.bodies},
		id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: cancel %s: %w", ErrSchedulerUnavailable, id, err)
	}

	telemetry.TimerCancels.Inc()
	s.logger.Debug().Str("timer_id", id).Bool("removed", removed == 1).Msg("timer cancelled")
	return removed == 1, nil
}

// Pending reports whether an unclaimed job exists under id.
func (s *Service) Pending(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err := s.client.ZScore(ctx, s.keys.due, id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: pending %s: %w", ErrSchedulerUnavailable, id, err)
	}
	return true, nil
}

// Outstanding reports whether a job under id is still owed a successful
// fire: either pending, or claimed and not yet acknowledged.
func (s *Service) Outstanding(ctx context.Context, id string) (bool, error) {
	pending, err := s.Pending(ctx, id)
	if err != nil || pending {
		return pending, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	tokens, err := s.client.ZRange(ctx, s.keys.inflight, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("%w: outstanding %s: %w", ErrSchedulerUnavailable, id, err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	bodies, err := s.client.HMGet(ctx, s.keys.bodies, tokens...).Result()
	if err != nil {
		return false, fmt.Errorf("%w: outstanding %s: %w", ErrSchedulerUnavailable, id, err)
	}
	for _, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err == nil && job.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Run polls for due jobs until the context is cancelled, then waits for
// running handlers.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info().
		Str("instance_id", s.cfg.InstanceID).
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("lease", s.cfg.Lease).
		Msg("timer loop started")

	for {
		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("timer poll failed")
		}

		select {
		case <-ctx.Done():
			s.Wait()
			s.logger.Info().Msg("timer loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until every dispatched handler has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Poll claims due and expired jobs and dispatches them to the handler. It
// returns the number of jobs dispatched.
func (s *Service) Poll(ctx context.Context) (int, error) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return 0, nil
	}

	now := s.cfg.Now()
	claimCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	res, err := claimScript.Run(claimCtx, s.client,
		[]string{s.keys.due, s.keys.jobs, s.keys.bodies, s.keys.inflight, s.keys.attempts},
		now.UnixMilli(), s.cfg.Lease.Milliseconds(), s.cfg.BatchSize, s.cfg.MaxAttempts, s.cfg.BackoffCap.Milliseconds(),
	).Slice()
	cancel()
	if err != nil {
		telemetry.TimerClaimErrors.Inc()
		return 0, fmt.Errorf("claim timers: %w", err)
	}

	dispatched := 0
	for i := 0; i+1 < len(res); i += 2 {
		body, _ := res[i].(string)
		attempt, _ := res[i+1].(int64)

		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			s.logger.Error().Err(err).Msg("discarding undecodable timer job")
			continue
		}

		if attempt > 1 {
			telemetry.TimerRedeliveries.Inc()
		}
		if attempt > int64(s.cfg.MaxAttempts) {
			telemetry.TimerBackoffs.Inc()
			s.logger.Error().
				Str("timer_id", job.ID).
				Str("token", job.Token).
				Int64("attempt", attempt).
				Int("max_attempts", s.cfg.MaxAttempts).
				Msg("timer keeps failing; redelivering with backoff")
		}

		job.Attempt = int(attempt)
		dispatched++
		s.wg.Add(1)
		go s.dispatch(ctx, handler, job)
	}
	return dispatched, nil
}

func (s *Service) dispatch(ctx context.Context, handler Handler, job Job) {
	defer s.wg.Done()

	logger := s.logger.With().
		Str("timer_id", job.ID).
		Str("token", job.Token).
		Int("attempt", job.Attempt).
		Logger()

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Lease)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("timer handler panic: %v", r)
			}
		}()
		return handler(hctx, job)
	}()
	if err != nil {
		telemetry.TimerFires.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("timer handler failed; job will be redelivered after its lease")
		return
	}

	if err := s.ack(hctx, job.Token); err != nil {
		logger.Error().Err(err).Msg("failed to acknowledge timer job")
		return
	}
	telemetry.TimerFires.WithLabelValues("ok").Inc()
	logger.Debug().Msg("timer fired")
}

func (s *Service) ack(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.keys.inflight, token)
		pipe.HDel(ctx, s.keys.bodies, token)
		pipe.HDel(ctx, s.keys.attempts, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", token, err)
	}
	return nil
}
