/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast fans room events out to the realtime clients attached to
// this instance and relays them to the rest of the fleet.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/eventbus"
	"github.com/friendsincode/ripple/internal/telemetry"
)

const defaultClientBuffer = 64

// Hub tracks the local clients of each room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	buffer int
	logger zerolog.Logger
}

// Client is one attached realtime connection.
type Client struct {
	roomID string
	hub    *Hub
	ch     chan eventbus.Message
	closed bool
	mu     sync.Mutex
}

// NewHub creates a hub. buffer is the per-client queue length.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		buffer: buffer,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Join attaches a new client to roomID.
func (h *Hub) Join(roomID string) *Client {
	c := &Client{
		roomID: roomID,
		hub:    h,
		ch:     make(chan eventbus.Message, h.buffer),
	}

	h.mu.Lock()
	clients, ok := h.rooms[roomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[roomID] = clients
	}
	clients[c] = struct{}{}
	count := len(clients)
	h.mu.Unlock()

	h.logger.Debug().Str("room_id", roomID).Int("clients", count).Msg("client joined")
	return c
}

// Deliver hands msg to every local client of its room. Slow clients miss the
// message instead of blocking delivery.
func (h *Hub) Deliver(msg eventbus.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[msg.RoomID] {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.ch <- msg:
			default:
				telemetry.HubDroppedMessages.Inc()
				h.logger.Warn().
					Str("room_id", msg.RoomID).
					Str("event_type", string(msg.Event)).
					Msg("client queue full, dropping message")
			}
		}
		c.mu.Unlock()
	}
}

// ClientCount returns the number of local clients in roomID.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Messages returns the client's inbound queue. It is closed on Leave.
func (c *Client) Messages() <-chan eventbus.Message {
	return c.ch
}

// RoomID returns the room the client is attached to.
func (c *Client) RoomID() string {
	return c.roomID
}

// Leave detaches the client. It is safe to call more than once.
func (c *Client) Leave() {
	h := c.hub
	h.mu.Lock()
	if clients, ok := h.rooms[c.roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	c.mu.Unlock()
}
