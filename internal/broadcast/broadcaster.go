/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/eventbus"
	"github.com/friendsincode/ripple/internal/events"
)

// Broadcaster delivers room events to local clients and, through the relay,
// to clients attached to other instances.
type Broadcaster struct {
	hub    *Hub
	relay  eventbus.Relay
	logger zerolog.Logger
}

// New creates a broadcaster. relay may be nil for a single-instance deployment.
func New(hub *Hub, relay eventbus.Relay, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		hub:    hub,
		relay:  relay,
		logger: logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Hub returns the local client hub.
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// Start begins delivering messages relayed from other instances.
func (b *Broadcaster) Start(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Start(ctx, b.hub.Deliver)
}

// Close stops the relay.
func (b *Broadcaster) Close() error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Close()
}

// EmitToRoom sends event with payload to every client of roomID. Relay
// failures are logged; local delivery never blocks.
func (b *Broadcaster) EmitToRoom(ctx context.Context, roomID string, event events.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}

	msg := eventbus.Message{
		RoomID:    roomID,
		Event:     event,
		Payload:   data,
		Timestamp: time.Now(),
	}
	b.hub.Deliver(msg)

	if b.relay != nil {
		if err := b.relay.Publish(ctx, msg); err != nil {
			b.logger.Warn().
				Err(err).
				Str("room_id", roomID).
				Str("event_type", string(event)).
				Msg("failed to relay message to other instances")
		}
	}
	return nil
}
