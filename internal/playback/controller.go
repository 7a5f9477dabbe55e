/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the per-room playback state machine. A room is
// IDLE (nothing current, no timer) or PLAYING (a current track and exactly one
// live timer for it). Manual actions and timer fires share one transition.
package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/history"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/queue"
	"github.com/friendsincode/ripple/internal/scheduler"
	"github.com/friendsincode/ripple/internal/store"
	"github.com/friendsincode/ripple/internal/telemetry"
)

const tracerName = "ripple/playback"

// presenceTTL expires the connection count of a user whose instance died
// without releasing it.
const presenceTTL = 12 * time.Hour

var (
	// ErrNothingPlaying is returned by actions on the current track of an idle room.
	ErrNothingPlaying = errors.New("nothing is playing")

	// ErrInvalidTrack is returned for tracks without a playable duration.
	ErrInvalidTrack = errors.New("track has no playable duration")
)

// Timers posts and cancels the per-room track timer.
type Timers interface {
	Post(ctx context.Context, id string, delay time.Duration, payload any) (scheduler.Job, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Locker runs fn inside the room critical section.
type Locker interface {
	WithLock(ctx context.Context, roomID string, fn func(ctx context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, evt events.Event)
}

// TimerPayload travels with the track timer so a fire can be matched to the
// exact play it was posted for.
type TimerPayload struct {
	RoomID string `json:"roomId"`
	PlayID string `json:"playId"`
}

// Controller drives room playback.
type Controller struct {
	store   store.Store
	keys    store.Keyspace
	queue   *queue.Orchestrator
	history *history.Recorder
	timers  Timers
	locks   Locker
	bus     Emitter
	logger  zerolog.Logger
	now     func() time.Time
}

// Deps groups the collaborators of a Controller.
type Deps struct {
	Store   store.Store
	Keys    store.Keyspace
	Queue   *queue.Orchestrator
	History *history.Recorder
	Timers  Timers
	Locks   Locker
	Bus     Emitter
	Logger  zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a playback controller.
func New(d Deps) *Controller {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		store:   d.Store,
		keys:    d.Keys,
		queue:   d.Queue,
		history: d.History,
		timers:  d.Timers,
		locks:   d.Locks,
		bus:     d.Bus,
		logger:  d.Logger.With().Str("component", "playback").Logger(),
		now:     now,
	}
}

// EnqueueOrStart plays the track right away when the room is idle and queues
// it otherwise. It returns the queue as seen by the submitter.
func (c *Controller) EnqueueOrStart(ctx context.Context, roomID string, submitter models.Submitter, meta models.TrackMetadata) ([]models.QueueItem, error) {
	if meta.Duration <= 0 {
		return nil, ErrInvalidTrack
	}
	track := models.NewTrack(meta, submitter)

	ctx, span := telemetry.StartRoomSpan(ctx, tracerName, "playback.enqueue_or_start", roomID)
	err := c.locks.WithLock(ctx, roomID, func(ctx context.Context) error {
		current, err := c.current(ctx, roomID)
		if err != nil {
			return err
		}
		if current == nil {
			return c.start(ctx, roomID, &track, "enqueue")
		}
		return c.queue.Enqueue(ctx, roomID, models.QueueEntry{
			Track:      track,
			Submitter:  submitter,
			EnqueuedAt: c.now().UnixMilli(),
		})
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	return c.queue.View(ctx, roomID, &submitter), nil
}

// RemoveFromQueue removes the entry at index if it belongs to requesterID.
func (c *Controller) RemoveFromQueue(ctx context.Context, roomID, requesterID string, index int64) error {
	return c.locks.WithLock(ctx, roomID, func(ctx context.Context) error {
		return c.queue.Remove(ctx, roomID, requesterID, index)
	})
}

// DropUserEntries removes every queued entry of a participant who left.
func (c *Controller) DropUserEntries(ctx context.Context, roomID, userID string) error {
	return c.locks.WithLock(ctx, roomID, func(ctx context.Context) error {
		_, err := c.queue.RemoveBySubmitter(ctx, roomID, userID)
		return err
	})
}

// OnTimerFired advances the room whose track timer fired. Stale or duplicate
// deliveries are ignored.
func (c *Controller) OnTimerFired(ctx context.Context, job scheduler.Job) error {
	var payload TimerPayload
	if err := job.Decode(&payload); err != nil {
		c.logger.Error().Err(err).Str("timer_id", job.ID).Msg("discarding timer with undecodable payload")
		return nil
	}

	ctx, span := telemetry.StartRoomSpan(ctx, tracerName, "playback.timer_fired", payload.RoomID)
	err := c.locks.WithLock(ctx, payload.RoomID, func(ctx context.Context) error {
		current, err := c.current(ctx, payload.RoomID)
		if err != nil {
			return err
		}
		if current == nil || current.PlayID != payload.PlayID {
			c.logger.Debug().
				Str("room_id", payload.RoomID).
				Str("play_id", payload.PlayID).
				Int("attempt", job.Attempt).
				Msg("ignoring stale timer fire")
			return nil
		}
		return c.advance(ctx, payload.RoomID, *current, "timer")
	})
	telemetry.EndSpan(span, err)
	return err
}

// Skip advances immediately when requester submitted the current track and
// registers a skip vote otherwise.
func (c *Controller) Skip(ctx context.Context, roomID string, requester models.Submitter) error {
	return c.locks.WithLock(ctx, roomID, func(ctx context.Context) error {
		current, err := c.current(ctx, roomID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNothingPlaying
		}
		if current.Submitter.ID == requester.ID {
			return c.advance(ctx, roomID, *current, "skip")
		}
		current.Skips++
		return c.update(ctx, roomID, current)
	})
}

// Like increments the like counter of the current track.
func (c *Controller) Like(ctx context.Context, roomID string, requester models.Submitter) error {
	return c.locks.WithLock(ctx, roomID, func(ctx context.Context) error {
		current, err := c.current(ctx, roomID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNothingPlaying
		}
		current.Likes++
		c.logger.Debug().Str("room_id", roomID).Str("user_id", requester.ID).Msg("track liked")
		return c.update(ctx, roomID, current)
	})
}

// UserJoined counts a connection of user and announces the user when it is
// their first one in the room.
func (c *Controller) UserJoined(ctx context.Context, roomID string, user models.Submitter) {
	n, err := c.store.AddCount(ctx, c.keys.Presence(roomID, user.ID), 1, presenceTTL)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Str("user_id", user.ID).Msg("presence count unavailable")
	} else if n > 1 {
		return
	}
	c.bus.Emit(ctx, events.Event{Type: events.EventUserJoined, RoomID: roomID, Payload: models.PresencePayload{User: user}})
}

// UserLeft releases a connection of user. USER_LEFT is only emitted when the
// user has no connection left in the room, on any instance.
func (c *Controller) UserLeft(ctx context.Context, roomID string, user models.Submitter) {
	n, err := c.store.AddCount(ctx, c.keys.Presence(roomID, user.ID), -1, presenceTTL)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Str("user_id", user.ID).Msg("presence count unavailable; keeping user")
		return
	}
	if n > 0 {
		return
	}
	c.bus.Emit(ctx, events.Event{Type: events.EventUserLeft, RoomID: roomID, Payload: models.PresencePayload{User: user}})
}

// Chat relays a chat line from sender.
func (c *Controller) Chat(ctx context.Context, roomID string, sender models.Submitter, text string) {
	c.bus.Emit(ctx, events.Event{
		Type:    events.EventChatMessage,
		RoomID:  roomID,
		Payload: models.ChatMessagePayload{Sender: sender.Username, Text: text},
	})
}

// GetQueueView returns the queue as seen by viewer (nil for anonymous).
func (c *Controller) GetQueueView(ctx context.Context, roomID string, viewer *models.Submitter) []models.QueueItem {
	return c.queue.View(ctx, roomID, viewer)
}

// GetPlaybackSnapshot returns the current track with its elapsed time, the
// queue as seen by viewer and the recent history. Store failures degrade to
// empty parts.
func (c *Controller) GetPlaybackSnapshot(ctx context.Context, roomID string, viewer *models.Submitter) models.Snapshot {
	snap := models.Snapshot{
		RoomID:  roomID,
		Queue:   c.queue.View(ctx, roomID, viewer),
		History: c.history.Recent(ctx, roomID, 0),
	}

	current, err := c.current(ctx, roomID)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("current track degraded to none")
		return snap
	}
	if current != nil {
		elapsed := c.now().UnixMilli() - current.StartedAt
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > current.Duration {
			elapsed = current.Duration
		}
		snap.CurrentTrack = &models.PlayingTrack{Track: *current, Elapsed: elapsed}
	}
	return snap
}

// advance retires finished and promotes the queue head. Must hold the room
// lock. The finished play is recorded first, at most once per PlayID, and
// retracted again if the transition aborts.
func (c *Controller) advance(ctx context.Context, roomID string, finished models.Track, kind string) error {
	recorded, err := c.history.Record(ctx, roomID, finished)
	if err != nil {
		return c.transitionFailed(kind, roomID, err)
	}
	abort := func() {
		if !recorded {
			return
		}
		if rerr := c.history.Retract(ctx, roomID, finished); rerr != nil {
			c.logger.Error().Err(rerr).Str("room_id", roomID).Str("play_id", finished.PlayID).Msg("failed to retract history after aborted transition")
		}
	}

	next, err := c.queue.DequeueHead(ctx, roomID)
	if err != nil {
		abort()
		return err
	}

	var track *models.Track
	if next != nil {
		t := next.Track
		track = &t
	}

	if err := c.start(ctx, roomID, track, kind); err != nil {
		if next != nil {
			if rerr := c.queue.Requeue(ctx, roomID, *next); rerr != nil {
				c.logger.Error().Err(rerr).Str("room_id", roomID).Msg("failed to requeue entry after aborted transition")
			}
		}
		abort()
		return err
	}

	c.history.Publish(ctx, roomID)
	if next != nil {
		c.queue.Publish(ctx, roomID)
	}
	return nil
}

// start makes track current (or the room idle when track is nil) and keeps the
// timer in step. On failure the previous current track is restored. Must hold
// the room lock.
func (c *Controller) start(ctx context.Context, roomID string, track *models.Track, kind string) error {
	timerID := scheduler.TrackTimerID(roomID)
	currentKey := c.keys.Current(roomID)

	prev, hadPrev, err := c.store.Get(ctx, currentKey)
	if err != nil {
		return c.transitionFailed(kind, roomID, err)
	}

	if track == nil {
		if err := c.store.Delete(ctx, currentKey); err != nil {
			return c.transitionFailed(kind, roomID, err)
		}
		if _, err := c.timers.Cancel(ctx, timerID); err != nil {
			c.restore(ctx, roomID, prev, hadPrev)
			return c.transitionFailed(kind, roomID, err)
		}

		telemetry.PlaybackTransitions.WithLabelValues(kind).Inc()
		c.logger.Info().Str("room_id", roomID).Str("kind", kind).Msg("room idle")
		c.bus.Emit(ctx, events.Event{
			Type:    events.EventTrackStarted,
			RoomID:  roomID,
			Payload: models.TrackStartedPayload{Track: nil},
		})
		return nil
	}

	playing := *track
	playing.PlayID = uuid.NewString()
	playing.StartedAt = c.now().UnixMilli()
	playing.Likes = 0
	playing.Skips = 0

	data, err := json.Marshal(playing)
	if err != nil {
		return fmt.Errorf("encode current track: %w", err)
	}
	if err := c.store.Set(ctx, currentKey, data, 0); err != nil {
		return c.transitionFailed(kind, roomID, err)
	}

	// Posting under the same id supersedes the previous play's timer.
	payload := TimerPayload{RoomID: roomID, PlayID: playing.PlayID}
	if _, err := c.timers.Post(ctx, timerID, playing.Length(), payload); err != nil {
		c.restore(ctx, roomID, prev, hadPrev)
		return c.transitionFailed(kind, roomID, err)
	}

	telemetry.PlaybackTransitions.WithLabelValues(kind).Inc()
	c.logger.Info().
		Str("room_id", roomID).
		Str("play_id", playing.PlayID).
		Str("kind", kind).
		Str("title", playing.Title).
		Dur("duration", playing.Length()).
		Msg("track started")

	c.bus.Emit(ctx, events.Event{
		Type:    events.EventTrackStarted,
		RoomID:  roomID,
		Payload: models.TrackStartedPayload{Track: &playing},
	})
	return nil
}

// update rewrites the current track without touching its timer.
func (c *Controller) update(ctx context.Context, roomID string, track *models.Track) error {
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode current track: %w", err)
	}
	if err := c.store.Set(ctx, c.keys.Current(roomID), data, 0); err != nil {
		return err
	}
	c.bus.Emit(ctx, events.Event{
		Type:    events.EventTrackStarted,
		RoomID:  roomID,
		Payload: models.TrackStartedPayload{Track: track},
	})
	return nil
}

func (c *Controller) restore(ctx context.Context, roomID string, prev []byte, hadPrev bool) {
	key := c.keys.Current(roomID)
	var err error
	if hadPrev {
		err = c.store.Set(ctx, key, prev, 0)
	} else {
		err = c.store.Delete(ctx, key)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to restore current track after aborted transition")
	}
}

func (c *Controller) transitionFailed(kind, roomID string, err error) error {
	telemetry.PlaybackTransitionErrors.WithLabelValues(kind).Inc()
	c.logger.Error().Err(err).Str("room_id", roomID).Str("kind", kind).Msg("playback transition failed")
	return fmt.Errorf("playback %s: %w", kind, err)
}

func (c *Controller) current(ctx context.Context, roomID string) (*models.Track, error) {
	data, ok, err := c.store.Get(ctx, c.keys.Current(roomID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var track models.Track
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, fmt.Errorf("decode current track: %w", err)
	}
	return &track, nil
}
