/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventTrackStarted   EventType = "TRACK_STARTED"
	EventQueueUpdated   EventType = "QUEUE_UPDATED"
	EventHistoryUpdated EventType = "HISTORY_UPDATED"
	EventUserJoined     EventType = "USER_JOINED"
	EventUserLeft       EventType = "USER_LEFT"
	EventChatMessage    EventType = "CHAT_MESSAGE"
)

// Event is a domain event scoped to a room.
type Event struct {
	Type    EventType
	RoomID  string
	Payload any
}

// Handler reacts to an event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, evt Event) error

// Bus implements in-process publish/subscribe with one ordered mailbox per
// event type. Emit never blocks on handlers.
type Bus struct {
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[EventType][]Handler
	boxes    map[EventType]*mailbox
	closed   bool
	wg       sync.WaitGroup
}

type queued struct {
	ctx context.Context
	evt Event
}

type mailbox struct {
	mu      sync.Mutex
	pending []queued
	wake    chan struct{}
	done    bool
}

// NewBus creates an event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]Handler),
		boxes:    make(map[EventType]*mailbox),
	}
}

// On registers handler for eventType. Handlers run in registration order.
func (b *Bus) On(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit queues evt for its handlers and returns immediately. Handlers receive
// a context detached from the caller's cancellation.
func (b *Bus) Emit(ctx context.Context, evt Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug().Str("event_type", string(evt.Type)).Msg("event dropped after close")
		return
	}
	if len(b.handlers[evt.Type]) == 0 {
		b.mu.Unlock()
		return
	}
	box, ok := b.boxes[evt.Type]
	if !ok {
		box = &mailbox{wake: make(chan struct{}, 1)}
		b.boxes[evt.Type] = box
		b.wg.Add(1)
		go b.dispatch(evt.Type, box)
	}
	box.mu.Lock()
	box.pending = append(box.pending, queued{ctx: context.WithoutCancel(ctx), evt: evt})
	box.mu.Unlock()
	b.mu.Unlock()

	select {
	case box.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	boxes := make([]*mailbox, 0, len(b.boxes))
	for _, box := range b.boxes {
		boxes = append(boxes, box)
	}
	b.mu.Unlock()

	for _, box := range boxes {
		box.mu.Lock()
		box.done = true
		box.mu.Unlock()
		select {
		case box.wake <- struct{}{}:
		default:
		}
	}
	b.wg.Wait()
}

func (b *Bus) dispatch(eventType EventType, box *mailbox) {
	defer b.wg.Done()

	for {
		box.mu.Lock()
		batch := box.pending
		box.pending = nil
		done := box.done
		box.mu.Unlock()

		if len(batch) == 0 {
			if done {
				return
			}
			<-box.wake
			continue
		}

		b.mu.Lock()
		handlers := append([]Handler(nil), b.handlers[eventType]...)
		b.mu.Unlock()

		for _, q := range batch {
			for i, h := range handlers {
				b.invoke(q.ctx, q.evt, i, h)
			}
		}
	}
}

func (b *Bus) invoke(ctx context.Context, evt Event, idx int, h Handler) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = h(ctx, evt)
	}()

	if err != nil {
		telemetry.BusHandlerFailures.WithLabelValues(string(evt.Type)).Inc()
		b.logger.Error().
			Err(err).
			Str("event_type", string(evt.Type)).
			Str("room_id", evt.RoomID).
			Int("handler", idx).
			Msg("event handler failed")
	}
}
