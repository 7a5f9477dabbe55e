/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// Job is a delayed notification posted under a logical timer id.
type Job struct {
	ID       string          `json:"id"`
	Token    string          `json:"token"`
	DueAt    int64           `json:"dueAt"` // unix milliseconds
	PostedBy string          `json:"postedBy"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt int `json:"-"`
}

// Due returns the time the job becomes claimable.
func (j Job) Due() time.Time {
	return time.UnixMilli(j.DueAt)
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Handler processes a fired job. Returning nil acknowledges it; an error
// leaves it claimed until the lease expires and it is redelivered.
type Handler func(ctx context.Context, job Job) error

// TrackTimerID is the logical timer id for the playing track of a room.
func TrackTimerID(roomID string) string {
	return "room:" + roomID + ":track"
}
