/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"context"
	"fmt"

	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/models"
)

// ServerSender is the chat sender name of system announcements.
const ServerSender = "SERVER"

// QueueDropper removes a departed participant's queued tracks.
type QueueDropper interface {
	DropUserEntries(ctx context.Context, roomID, userID string) error
}

// RegisterListeners wires domain events to realtime delivery.
func RegisterListeners(bus *events.Bus, b *Broadcaster, dropper QueueDropper) {
	relay := func(ctx context.Context, evt events.Event) error {
		return b.EmitToRoom(ctx, evt.RoomID, evt.Type, evt.Payload)
	}
	bus.On(events.EventTrackStarted, relay)
	bus.On(events.EventQueueUpdated, relay)
	bus.On(events.EventHistoryUpdated, relay)
	bus.On(events.EventChatMessage, relay)

	bus.On(events.EventUserJoined, func(ctx context.Context, evt events.Event) error {
		user, err := presenceUser(evt)
		if err != nil {
			return err
		}
		return b.EmitToRoom(ctx, evt.RoomID, events.EventChatMessage, models.ChatMessagePayload{
			Sender: ServerSender,
			Text:   user.Username + " has joined.",
		})
	})

	bus.On(events.EventUserLeft, func(ctx context.Context, evt events.Event) error {
		user, err := presenceUser(evt)
		if err != nil {
			return err
		}
		return b.EmitToRoom(ctx, evt.RoomID, events.EventChatMessage, models.ChatMessagePayload{
			Sender: ServerSender,
			Text:   user.Username + " has left.",
		})
	})

	if dropper != nil {
		bus.On(events.EventUserLeft, func(ctx context.Context, evt events.Event) error {
			user, err := presenceUser(evt)
			if err != nil {
				return err
			}
			return dropper.DropUserEntries(ctx, evt.RoomID, user.ID)
		})
	}
}

func presenceUser(evt events.Event) (models.Submitter, error) {
	p, ok := evt.Payload.(models.PresencePayload)
	if !ok {
		return models.Submitter{}, fmt.Errorf("unexpected %s payload %T", evt.Type, evt.Payload)
	}
	return p.User, nil
}
