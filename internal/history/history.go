/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records the tracks a room has finished playing.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/store"
)

// DefaultLimit is the number of finished tracks kept per room.
const DefaultLimit = 50

// markerTTL bounds how long a recorded play is remembered for deduplication.
const markerTTL = 24 * time.Hour

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, evt events.Event)
}

// Recorder keeps a bounded newest-first log per room.
type Recorder struct {
	store  store.Store
	keys   store.Keyspace
	bus    Emitter
	limit  int
	logger zerolog.Logger
}

// New creates a history recorder keeping at most limit tracks per room.
func New(st store.Store, keys store.Keyspace, bus Emitter, limit int, logger zerolog.Logger) *Recorder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder{
		store:  st,
		keys:   keys,
		bus:    bus,
		limit:  limit,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Append records track and emits HISTORY_UPDATED.
func (r *Recorder) Append(ctx context.Context, roomID string, track models.Track) error {
	if _, err := r.Record(ctx, roomID, track); err != nil {
		return err
	}
	r.Publish(ctx, roomID)
	return nil
}

// Record pushes track as the most recently finished. A play is recorded at
// most once: repeating it for the same PlayID reports false and writes nothing.
func (r *Recorder) Record(ctx context.Context, roomID string, track models.Track) (bool, error) {
	data, err := json.Marshal(track)
	if err != nil {
		return false, fmt.Errorf("encode history track: %w", err)
	}
	recorded, err := r.store.PushHeadCappedOnce(ctx, r.keys.History(roomID), r.marker(roomID, track), data, int64(r.limit), markerTTL)
	if err != nil {
		return false, fmt.Errorf("append history: %w", err)
	}
	return recorded, nil
}

// Retract undoes a Record whose transition was aborted. It does nothing
// unless the head entry is still track.
func (r *Recorder) Retract(ctx context.Context, roomID string, track models.Track) error {
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode history track: %w", err)
	}
	_, err = r.store.IndexedRemove(ctx, r.keys.History(roomID), 0, data)
	if errors.Is(err, store.ErrOutOfRange) || errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("retract history: %w", err)
	}
	if err := r.store.Delete(ctx, r.marker(roomID, track)); err != nil {
		return fmt.Errorf("retract history marker: %w", err)
	}
	return nil
}

// Publish emits HISTORY_UPDATED with the recent history.
func (r *Recorder) Publish(ctx context.Context, roomID string) {
	r.bus.Emit(ctx, events.Event{
		Type:    events.EventHistoryUpdated,
		RoomID:  roomID,
		Payload: models.HistoryUpdatedPayload{History: r.Recent(ctx, roomID, r.limit)},
	})
}

// marker keys the record by play. Tracks without a PlayID are keyed by title
// and start time.
func (r *Recorder) marker(roomID string, track models.Track) string {
	id := track.PlayID
	if id == "" {
		id = fmt.Sprintf("%s@%d", track.Title, track.StartedAt)
	}
	return r.keys.Played(roomID, id)
}

// Recent returns up to limit finished tracks, newest first. It is empty when
// the store is unreachable.
func (r *Recorder) Recent(ctx context.Context, roomID string, limit int) []models.Track {
	if limit <= 0 || limit > r.limit {
		limit = r.limit
	}

	raw, err := r.store.Range(ctx, r.keys.History(roomID), 0, int64(limit)-1)
	if err != nil {
		r.logger.Warn().Err(err).Str("room_id", roomID).Msg("history degraded to empty")
		return []models.Track{}
	}

	tracks := make([]models.Track, 0, len(raw))
	for _, data := range raw {
		var t models.Track
		if err := json.Unmarshal(data, &t); err != nil {
			r.logger.Warn().Err(err).Str("room_id", roomID).Msg("skipping undecodable history entry")
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks
}
