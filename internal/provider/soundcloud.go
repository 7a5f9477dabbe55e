/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/friendsincode/ripple/internal/models"
)

const defaultSoundCloudBaseURL = "https://api.soundcloud.com"

// SoundCloud resolves tracks through the SoundCloud resolve API.
type SoundCloud struct {
	client   *http.Client
	baseURL  string
	clientID string
}

// NewSoundCloud creates a SoundCloud fetcher. An empty baseURL uses the public API.
func NewSoundCloud(client *http.Client, baseURL, clientID string) *SoundCloud {
	if baseURL == "" {
		baseURL = defaultSoundCloudBaseURL
	}
	return &SoundCloud{client: client, baseURL: strings.TrimRight(baseURL, "/"), clientID: clientID}
}

type soundcloudTrack struct {
	Title      string `json:"title"`
	ArtworkURL string `json:"artwork_url"`
	Duration   int64  `json:"duration"`
	User       struct {
		Username string `json:"username"`
	} `json:"user"`
}

// Fetch returns the metadata of the track at u.
func (s *SoundCloud) Fetch(ctx context.Context, u *url.URL) (models.TrackMetadata, error) {
	q := url.Values{}
	q.Set("url", u.String())
	q.Set("client_id", s.clientID)

	var body soundcloudTrack
	if err := getJSON(ctx, s.client, s.baseURL+"/resolve?"+q.Encode(), &body); err != nil {
		return models.TrackMetadata{}, err
	}

	return models.TrackMetadata{
		Title:      body.Title,
		ArtworkURL: body.ArtworkURL,
		Poster:     body.User.Username,
		Duration:   body.Duration,
		URL:        u.String(),
		Provider:   "SoundCloud",
	}, nil
}
