/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/friendsincode/ripple/internal/models"
)

const defaultYouTubeBaseURL = "https://content.googleapis.com/youtube/v3"

// YouTube resolves videos through the YouTube Data API v3.
type YouTube struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewYouTube creates a YouTube fetcher. An empty baseURL uses the public API.
func NewYouTube(client *http.Client, baseURL, apiKey string) *YouTube {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTube{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type youtubeVideos struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Fetch returns the metadata of the video at u.
func (y *YouTube) Fetch(ctx context.Context, u *url.URL) (models.TrackMetadata, error) {
	id := VideoID(u)
	if id == "" {
		return models.TrackMetadata{}, fmt.Errorf("%w: no video id in %s", ErrUnsupportedProvider, u)
	}

	q := url.Values{}
	q.Set("id", id)
	q.Set("part", "snippet,contentDetails")
	q.Set("key", y.apiKey)

	var body youtubeVideos
	if err := getJSON(ctx, y.client, y.baseURL+"/videos?"+q.Encode(), &body); err != nil {
		return models.TrackMetadata{}, err
	}
	if len(body.Items) == 0 {
		return models.TrackMetadata{}, fmt.Errorf("%w: video %s not found", ErrUpstreamFetch, id)
	}

	item := body.Items[0]
	duration, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return models.TrackMetadata{}, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	artwork := ""
	for _, size := range []string{"high", "medium", "default"} {
		if thumb, ok := item.Snippet.Thumbnails[size]; ok && thumb.URL != "" {
			artwork = thumb.URL
			break
		}
	}

	return models.TrackMetadata{
		Title:      item.Snippet.Title,
		ArtworkURL: artwork,
		Poster:     item.Snippet.ChannelTitle,
		Duration:   duration,
		URL:        u.String(),
		Provider:   "YouTube",
	}, nil
}

// VideoID extracts the video id from watch, short and youtu.be URLs.
func VideoID(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	for _, prefix := range []string{"/shorts/", "/embed/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
		}
	}
	return ""
}

// ParseISODuration converts an ISO-8601 duration such as "PT1H2M3S" to milliseconds.
func ParseISODuration(s string) (int64, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var total float64
	inTime := false
	num := ""
	for _, r := range s[1:] {
		switch {
		case r == 'T':
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			num = ""

			var unit float64
			switch {
			case r == 'W' && !inTime:
				unit = 7 * 24 * 3600 * 1000
			case r == 'D' && !inTime:
				unit = 24 * 3600 * 1000
			case r == 'H' && inTime:
				unit = 3600 * 1000
			case r == 'M' && inTime:
				unit = 60 * 1000
			case r == 'S' && inTime:
				unit = 1000
			default:
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			total += v * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return int64(total), nil
}
