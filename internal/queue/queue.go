/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue owns the ordered list of pending tracks of each room.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/store"
)

var (
	// ErrOutOfRange is returned when no entry exists at the requested position.
	ErrOutOfRange = errors.New("queue index out of range")

	// ErrNotOwner is returned when a participant tries to remove someone else's entry.
	ErrNotOwner = errors.New("queue entry belongs to another participant")
)

// removeAttempts bounds retries when the slot changes between read and remove.
const removeAttempts = 3

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, evt events.Event)
}

// Orchestrator manages room queues in the state store.
type Orchestrator struct {
	store  store.Store
	keys   store.Keyspace
	bus    Emitter
	logger zerolog.Logger
}

// New creates a queue orchestrator.
func New(st store.Store, keys store.Keyspace, bus Emitter, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		keys:   keys,
		bus:    bus,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue appends entry to the tail of the room queue.
func (o *Orchestrator) Enqueue(ctx context.Context, roomID string, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := o.store.PushTail(ctx, o.keys.Queue(roomID), data); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	o.logger.Debug().
		Str("room_id", roomID).
		Str("submitter", entry.Submitter.ID).
		Str("title", entry.Track.Title).
		Msg("track queued")

	o.Publish(ctx, roomID)
	return nil
}

// DequeueHead pops the oldest entry. It returns nil when the queue is empty.
func (o *Orchestrator) DequeueHead(ctx context.Context, roomID string) (*models.QueueEntry, error) {
	data, ok, err := o.store.PopHead(ctx, o.keys.Queue(roomID))
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var entry models.QueueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode queue entry: %w", err)
	}
	return &entry, nil
}

// Requeue puts entry back at the head of the queue.
func (o *Orchestrator) Requeue(ctx context.Context, roomID string, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := o.store.PushHead(ctx, o.keys.Queue(roomID), data); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Remove deletes the entry at index on behalf of requesterID.
func (o *Orchestrator) Remove(ctx context.Context, roomID, requesterID string, index int64) error {
	if index < 0 {
		return ErrOutOfRange
	}
	key := o.keys.Queue(roomID)

	for attempt := 1; ; attempt++ {
		raw, ok, err := o.store.Index(ctx, key, index)
		if err != nil {
			return fmt.Errorf("read queue entry: %w", err)
		}
		if !ok {
			return ErrOutOfRange
		}

		var entry models.QueueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode queue entry: %w", err)
		}
		if entry.Submitter.ID != requesterID {
			return ErrNotOwner
		}

		_, err = o.store.IndexedRemove(ctx, key, index, raw)
		switch {
		case err == nil:
			o.logger.Debug().Str("room_id", roomID).Int64("index", index).Msg("queue entry removed")
			o.Publish(ctx, roomID)
			return nil
		case errors.Is(err, store.ErrOutOfRange):
			return ErrOutOfRange
		case errors.Is(err, store.ErrConflict) && attempt < removeAttempts:
			continue
		default:
			return fmt.Errorf("remove queue entry: %w", err)
		}
	}
}

// RemoveBySubmitter drops every entry submitted by userID and reports how many were removed.
func (o *Orchestrator) RemoveBySubmitter(ctx context.Context, roomID, userID string) (int, error) {
	key := o.keys.Queue(roomID)
	raw, err := o.store.Range(ctx, key, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("read queue: %w", err)
	}

	kept := make([][]byte, 0, len(raw))
	for _, data := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal(data, &entry); err == nil && entry.Submitter.ID == userID {
			continue
		}
		kept = append(kept, data)
	}

	removed := len(raw) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := o.store.Replace(ctx, key, kept); err != nil {
		return 0, fmt.Errorf("rewrite queue: %w", err)
	}

	o.logger.Debug().Str("room_id", roomID).Str("user_id", userID).Int("removed", removed).Msg("dropped departed user's tracks")
	o.Publish(ctx, roomID)
	return removed, nil
}

// Entries returns the full queue in order.
func (o *Orchestrator) Entries(ctx context.Context, roomID string) ([]models.QueueEntry, error) {
	raw, err := o.store.Range(ctx, o.keys.Queue(roomID), 0, -1)
	if err != nil {
		return nil, err
	}

	entries := make([]models.QueueEntry, 0, len(raw))
	for _, data := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			o.logger.Warn().Err(err).Str("room_id", roomID).Msg("skipping undecodable queue entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// View returns the queue as seen by viewer (nil for anonymous). It is empty
// when the store is unreachable.
func (o *Orchestrator) View(ctx context.Context, roomID string, viewer *models.Submitter) []models.QueueItem {
	entries, err := o.Entries(ctx, roomID)
	if err != nil {
		o.logger.Warn().Err(err).Str("room_id", roomID).Msg("queue view degraded to empty")
		return []models.QueueItem{}
	}
	return Redact(entries, viewer)
}

// Length returns the number of queued entries, or 0 when the store is unreachable.
func (o *Orchestrator) Length(ctx context.Context, roomID string) int64 {
	n, err := o.store.Length(ctx, o.keys.Queue(roomID))
	if err != nil {
		o.logger.Warn().Err(err).Str("room_id", roomID).Msg("queue length degraded to zero")
		return 0
	}
	return n
}

// Publish emits QUEUE_UPDATED with the anonymous view of the queue.
func (o *Orchestrator) Publish(ctx context.Context, roomID string) {
	o.bus.Emit(ctx, events.Event{
		Type:    events.EventQueueUpdated,
		RoomID:  roomID,
		Payload: models.QueueUpdatedPayload{Queue: o.View(ctx, roomID, nil)},
	})
}

// Redact hides the track of every entry not submitted by viewer.
func Redact(entries []models.QueueEntry, viewer *models.Submitter) []models.QueueItem {
	items := make([]models.QueueItem, len(entries))
	for i, entry := range entries {
		items[i] = models.QueueItem{Submitter: entry.Submitter}
		if viewer != nil && viewer.ID != "" && viewer.ID == entry.Submitter.ID {
			track := entry.Track
			items[i].Track = &track
		}
	}
	return items
}
