/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoomAccessType controls room discoverability.
type RoomAccessType string

const (
	RoomAccessPublic  RoomAccessType = "public"
	RoomAccessPrivate RoomAccessType = "private"
)

// Room is the relational record of a listening room.
type Room struct {
	ID         string         `gorm:"type:varchar(16);primaryKey" json:"id"`
	Name       string         `gorm:"index" json:"name"`
	AccessType RoomAccessType `gorm:"type:varchar(16)" json:"accessType"`
	CreatorID  string         `gorm:"type:varchar(64);index" json:"creatorId"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
