/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rooms reads room records from the relational database.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/ripple/internal/models"
)

// ErrRoomNotFound is returned when no record exists for a room id.
var ErrRoomNotFound = errors.New("room not found")

// Cache holds recently read room records.
type Cache interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, bool)
	SetRoom(ctx context.Context, room models.Room) error
	InvalidateRoom(ctx context.Context, roomID string) error
}

// Repository looks up rooms by id.
type Repository struct {
	db    *gorm.DB
	cache Cache
}

// NewRepository wraps a gorm handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithCache reads through c. Missing rooms are not cached.
func (r *Repository) WithCache(c Cache) *Repository {
	r.cache = c
	return r
}

// FindByID returns the room record for id.
func (r *Repository) FindByID(ctx context.Context, id string) (models.Room, error) {
	if r.cache != nil {
		if room, ok := r.cache.GetRoom(ctx, id); ok {
			return *room, nil
		}
	}

	var room models.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("find room %s: %w", id, err)
	}
	if r.cache != nil {
		_ = r.cache.SetRoom(ctx, room)
	}
	return room, nil
}

// Create inserts a room, assigning a short id when none is set.
func (r *Repository) Create(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = NewID()
	}
	if room.AccessType == "" {
		room.AccessType = models.RoomAccessPublic
	}
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if r.cache != nil {
		_ = r.cache.InvalidateRoom(ctx, room.ID)
	}
	return nil
}

// NewID returns a 12 character room id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
