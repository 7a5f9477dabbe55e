/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries realtime room messages between instances.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/ripple/internal/events"
)

// Message is a realtime event addressed to the clients of one room.
type Message struct {
	RoomID    string           `json:"roomId"`
	Event     events.EventType `json:"event"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"nodeId"` // For identifying source node
}

// Relay forwards room messages to the other instances of the fleet.
type Relay interface {
	// Publish sends msg to every other instance.
	Publish(ctx context.Context, msg Message) error
	// Start delivers messages published by other instances until Close.
	Start(ctx context.Context, deliver func(Message)) error
	Close() error
}

// marshalMessage stamps msg with the source node and encodes it.
func marshalMessage(msg Message, nodeID string) ([]byte, error) {
	msg.NodeID = nodeID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

// unmarshalMessage parses a relayed message.
func unmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal relay message: %w", err)
	}
	return &msg, nil
}
