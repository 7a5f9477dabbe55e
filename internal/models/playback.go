/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Submitter identifies the participant who added a track to a room.
type Submitter struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Principal is the identity attached to a request, authenticated or guest.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Guest    bool   `json:"guest,omitempty"`
}

// Submitter returns the submitter identity of the principal.
func (p Principal) Submitter() Submitter {
	return Submitter{ID: p.ID, Username: p.Username}
}

// TrackMetadata is what a content provider reports for a track URL.
type TrackMetadata struct {
	Title      string `json:"title"`
	ArtworkURL string `json:"artworkUrl"`
	Poster     string `json:"poster"`
	Duration   int64  `json:"duration"` // milliseconds
	URL        string `json:"url"`
	Provider   string `json:"provider"`
}

// Track is the snapshot of a track as it moves through queue, playback and history.
type Track struct {
	PlayID     string    `json:"playId,omitempty"`
	Title      string    `json:"title"`
	ArtworkURL string    `json:"artworkUrl"`
	Poster     string    `json:"poster"`
	Duration   int64     `json:"duration"` // milliseconds
	URL        string    `json:"url"`
	Provider   string    `json:"provider"`
	StartedAt  int64     `json:"startedAt,omitempty"` // unix milliseconds
	Likes      int       `json:"likes"`
	Skips      int       `json:"skips"`
	Submitter  Submitter `json:"dj"`
}

// NewTrack builds an unplayed track snapshot from provider metadata.
func NewTrack(meta TrackMetadata, submitter Submitter) Track {
	return Track{
		Title:      meta.Title,
		ArtworkURL: meta.ArtworkURL,
		Poster:     meta.Poster,
		Duration:   meta.Duration,
		URL:        meta.URL,
		Provider:   meta.Provider,
		Submitter:  submitter,
	}
}

// Length returns the track duration.
func (t Track) Length() time.Duration {
	return time.Duration(t.Duration) * time.Millisecond
}

// QueueEntry is a pending track and the participant who submitted it.
type QueueEntry struct {
	Track      Track     `json:"track"`
	Submitter  Submitter `json:"dj"`
	EnqueuedAt int64     `json:"enqueuedAt"` // unix milliseconds
}

// QueueItem is the viewer-specific projection of a QueueEntry. Track is nil
// when the viewer is not the submitter.
type QueueItem struct {
	Submitter Submitter `json:"dj"`
	Track     *Track    `json:"track,omitempty"`
}

// PlayingTrack is the current track plus the time elapsed since it started.
type PlayingTrack struct {
	Track
	Elapsed int64 `json:"elapsed"` // milliseconds
}

// Snapshot is the playback projection of a room.
type Snapshot struct {
	RoomID       string        `json:"roomId"`
	CurrentTrack *PlayingTrack `json:"currentTrack"`
	Queue        []QueueItem   `json:"queue"`
	History      []Track       `json:"history"`
}

// TrackStartedPayload is relayed with TRACK_STARTED.
type TrackStartedPayload struct {
	Track *Track `json:"track"`
}

// QueueUpdatedPayload is relayed with QUEUE_UPDATED.
type QueueUpdatedPayload struct {
	Queue []QueueItem `json:"queue"`
}

// HistoryUpdatedPayload is relayed with HISTORY_UPDATED.
type HistoryUpdatedPayload struct {
	History []Track `json:"history"`
}

// PresencePayload accompanies USER_JOINED and USER_LEFT.
type PresencePayload struct {
	User Submitter `json:"user"`
}

// ChatMessagePayload accompanies CHAT_MESSAGE.
type ChatMessagePayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}
