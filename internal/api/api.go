/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api adapts the room playback operations to HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/auth"
	"github.com/friendsincode/ripple/internal/broadcast"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/playback"
	"github.com/friendsincode/ripple/internal/provider"
	"github.com/friendsincode/ripple/internal/queue"
	"github.com/friendsincode/ripple/internal/roomlock"
	"github.com/friendsincode/ripple/internal/rooms"
	"github.com/friendsincode/ripple/internal/scheduler"
	"github.com/friendsincode/ripple/internal/store"
)

// Playback is the set of room operations exposed over HTTP.
type Playback interface {
	EnqueueOrStart(ctx context.Context, roomID string, submitter models.Submitter, meta models.TrackMetadata) ([]models.QueueItem, error)
	RemoveFromQueue(ctx context.Context, roomID, requesterID string, index int64) error
	GetQueueView(ctx context.Context, roomID string, viewer *models.Submitter) []models.QueueItem
	GetPlaybackSnapshot(ctx context.Context, roomID string, viewer *models.Submitter) models.Snapshot
	Skip(ctx context.Context, roomID string, requester models.Submitter) error
	Like(ctx context.Context, roomID string, requester models.Submitter) error
	UserJoined(ctx context.Context, roomID string, user models.Submitter)
	UserLeft(ctx context.Context, roomID string, user models.Submitter)
	Chat(ctx context.Context, roomID string, sender models.Submitter, text string)
}

// RoomFinder loads room records.
type RoomFinder interface {
	FindByID(ctx context.Context, id string) (models.Room, error)
}

// MetadataFetcher resolves a track URL.
type MetadataFetcher interface {
	Fetch(ctx context.Context, rawURL string) (models.TrackMetadata, error)
}

// Deps groups the collaborators of the API.
type Deps struct {
	Playback Playback
	Rooms    RoomFinder
	Metadata MetadataFetcher
	Verifier auth.TokenVerifier
	Hub      *broadcast.Hub
	Logger   zerolog.Logger
}

// API exposes HTTP handlers.
type API struct {
	playback Playback
	rooms    RoomFinder
	metadata MetadataFetcher
	verifier auth.TokenVerifier
	hub      *broadcast.Hub
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(d Deps) *API {
	return &API{
		playback: d.Playback,
		rooms:    d.Rooms,
		metadata: d.Metadata,
		verifier: d.Verifier,
		hub:      d.Hub,
		logger:   d.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the room endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1/rooms/{roomID}", func(r chi.Router) {
		r.Use(a.requireRoom)

		// Readable by guests
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional(a.verifier))
			r.Get("/queue", a.handleQueueGet)
			r.Get("/playback", a.handlePlaybackGet)
			r.Get("/ws", a.handleRoomWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Required(a.verifier))
			r.Post("/queue", a.handleQueueAdd)
			r.Delete("/queue/{index}", a.handleQueueRemove)
			r.Post("/skip", a.handleSkip)
			r.Post("/like", a.handleLike)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireRoom answers 404 for rooms without a record.
func (a *API) requireRoom(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" {
			writeError(w, http.StatusBadRequest, "room_id_required")
			return
		}
		if _, err := a.rooms.FindByID(r.Context(), roomID); err != nil {
			a.writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type queueAddRequest struct {
	URL string `json:"url"`
}

type queueResponse struct {
	Queue []models.QueueItem `json:"queue"`
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")

	meta, err := a.metadata.Fetch(r.Context(), req.URL)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	items, err := a.playback.EnqueueOrStart(r.Context(), roomID, principal.Submitter(), meta)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, queueResponse{Queue: items})
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.playback.RemoveFromQueue(r.Context(), chi.URLParam(r, "roomID"), principal.ID, index); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	items := a.playback.GetQueueView(r.Context(), chi.URLParam(r, "roomID"), auth.Viewer(r.Context()))
	writeJSON(w, http.StatusOK, queueResponse{Queue: items})
}

func (a *API) handlePlaybackGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.playback.GetPlaybackSnapshot(r.Context(), chi.URLParam(r, "roomID"), auth.Viewer(r.Context())))
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.playback.Skip(r.Context(), chi.URLParam(r, "roomID"), principal.Submitter()); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLike(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.playback.Like(r.Context(), chi.URLParam(r, "roomID"), principal.Submitter()); err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps package sentinels to HTTP statuses.
func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, "index_out_of_range")
	case errors.Is(err, provider.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, "unsupported_provider")
	case errors.Is(err, playback.ErrInvalidTrack):
		writeError(w, http.StatusBadRequest, "invalid_track")
	case errors.Is(err, queue.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner")
	case errors.Is(err, rooms.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found")
	case errors.Is(err, playback.ErrNothingPlaying):
		writeError(w, http.StatusNotFound, "nothing_playing")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "queue_changed")
	case errors.Is(err, provider.ErrUpstreamFetch):
		a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("provider fetch failed")
		writeError(w, http.StatusBadGateway, "provider_unavailable")
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, scheduler.ErrSchedulerUnavailable),
		errors.Is(err, roomlock.ErrLockTimeout):
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("room state unavailable")
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
