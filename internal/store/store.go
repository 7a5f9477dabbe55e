/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store holds the ephemeral per-room orchestration state (queue,
// history, current track) in Redis. It is not the system of record.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable wraps every failure to reach the coordination store.
	// Read paths are expected to degrade to empty results on it, write paths
	// to propagate it.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrOutOfRange is returned by IndexedRemove when no element exists at the index.
	ErrOutOfRange = errors.New("list index out of range")

	// ErrConflict is returned by IndexedRemove when the element at the index is
	// no longer the one the caller read.
	ErrConflict = errors.New("list element changed")
)

// Store is the list and scalar surface the orchestration layer needs.
type Store interface {
	Length(ctx context.Context, key string) (int64, error)
	PushTail(ctx context.Context, key string, value []byte) error
	PushHead(ctx context.Context, key string, value []byte) error
	// PushHeadCapped pushes to the head and trims the list to max elements.
	PushHeadCapped(ctx context.Context, key string, value []byte, max int64) error
	// PushHeadCappedOnce is PushHeadCapped guarded by marker: it pushes only
	// when marker did not exist and sets it with ttl. Reports whether it pushed.
	PushHeadCappedOnce(ctx context.Context, key, marker string, value []byte, max int64, ttl time.Duration) (bool, error)
	// PopHead returns false when the list is empty.
	PopHead(ctx context.Context, key string) ([]byte, bool, error)
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	// Index returns false when no element exists at i.
	Index(ctx context.Context, key string, i int64) ([]byte, bool, error)
	// IndexedRemove removes the element currently at i. When expect is non-nil
	// the element must still equal expect, otherwise ErrConflict.
	IndexedRemove(ctx context.Context, key string, i int64, expect []byte) ([]byte, error)
	Replace(ctx context.Context, key string, values [][]byte) error
	// Get returns false when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; a zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// AddCount adjusts an integer counter and returns its new value. A counter
	// that drops to zero or below is deleted and reported as 0.
	AddCount(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Keyspace builds the Redis keys for room state.
type Keyspace struct {
	prefix string
}

// NewKeyspace returns a keyspace rooted at prefix (e.g. "ripple").
func NewKeyspace(prefix string) Keyspace {
	if prefix == "" {
		prefix = "ripple"
	}
	return Keyspace{prefix: prefix}
}

// Prefix returns the root prefix.
func (k Keyspace) Prefix() string { return k.prefix }

// Queue is the pending-track list of a room.
func (k Keyspace) Queue(roomID string) string {
	return fmt.Sprintf("%s:rooms:%s:queue", k.prefix, roomID)
}

// History is the newest-first list of finished tracks of a room.
func (k Keyspace) History(roomID string) string {
	return fmt.Sprintf("%s:rooms:%s:history", k.prefix, roomID)
}

// Current holds the JSON snapshot of the playing track.
func (k Keyspace) Current(roomID string) string {
	return fmt.Sprintf("%s:rooms:%s:current", k.prefix, roomID)
}

// Played marks a play as already recorded in history.
func (k Keyspace) Played(roomID, playID string) string {
	return fmt.Sprintf("%s:rooms:%s:played:%s", k.prefix, roomID, playID)
}

// Presence counts the open connections of a user in a room.
func (k Keyspace) Presence(roomID, userID string) string {
	return fmt.Sprintf("%s:rooms:%s:presence:%s", k.prefix, roomID, userID)
}

// Lock is the lease key of the room critical section.
func (k Keyspace) Lock(roomID string) string {
	return fmt.Sprintf("%s:rooms:%s:lock", k.prefix, roomID)
}

// Timers is the prefix of the track timer job queue keys.
func (k Keyspace) Timers() string {
	return k.prefix + ":timers"
}

// Relay is the pub/sub channel prefix for cross-instance realtime messages.
func (k Keyspace) Relay() string {
	return k.prefix + ":relay:"
}
