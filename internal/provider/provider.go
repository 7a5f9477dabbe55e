/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider resolves track URLs to metadata using the content
// provider that hosts them.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/ripple/internal/models"
)

var (
	// ErrUnsupportedProvider is returned for URLs no provider handles.
	ErrUnsupportedProvider = errors.New("provider is not supported")

	// ErrUpstreamFetch is returned when the provider could not be queried.
	ErrUpstreamFetch = errors.New("provider request failed")
)

// Fetcher resolves one provider's URLs.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (models.TrackMetadata, error)
}

// Config holds provider credentials and endpoints.
type Config struct {
	YouTubeAPIKey     string
	YouTubeBaseURL    string
	SoundCloudAPIKey  string
	SoundCloudBaseURL string
	Timeout           time.Duration
}

// Resolver dispatches URLs to providers by hostname.
type Resolver struct {
	youtube    Fetcher
	soundcloud Fetcher
	logger     zerolog.Logger
}

// NewResolver builds a resolver with an instrumented HTTP client.
func NewResolver(cfg Config, logger zerolog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Resolver{
		youtube:    NewYouTube(client, cfg.YouTubeBaseURL, cfg.YouTubeAPIKey),
		soundcloud: NewSoundCloud(client, cfg.SoundCloudBaseURL, cfg.SoundCloudAPIKey),
		logger:     logger.With().Str("component", "provider").Logger(),
	}
}

// Fetch returns the metadata of the track at rawURL.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) (models.TrackMetadata, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return models.TrackMetadata{}, fmt.Errorf("%w: invalid url %q", ErrUnsupportedProvider, rawURL)
	}

	host := strings.ToLower(u.Hostname())
	var f Fetcher
	switch {
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		f = r.youtube
	case host == "soundcloud.com" || strings.HasSuffix(host, ".soundcloud.com"):
		f = r.soundcloud
	default:
		return models.TrackMetadata{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, host)
	}

	meta, err := f.Fetch(ctx, u)
	if err != nil {
		r.logger.Warn().Err(err).Str("host", host).Msg("track metadata lookup failed")
		return models.TrackMetadata{}, err
	}
	return meta, nil
}

// getJSON issues a GET and decodes a JSON body into v.
func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUpstreamFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d", ErrUpstreamFetch, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUpstreamFetch, err)
	}
	return nil
}
