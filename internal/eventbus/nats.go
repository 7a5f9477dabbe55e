/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/telemetry"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	// SubjectPrefix is followed by the room id, e.g. "ripple.rooms.".
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "ripple.rooms.",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSRelay relays room messages over core NATS subjects.
type NATSRelay struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	logger zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSRelay connects to NATS.
func NewNATSRelay(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSRelay, error) {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	logger = logger.With().Str("component", "nats_relay").Logger()

	opts := []nats.Option{
		nats.Name("ripple-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Msg("NATS relay connected")
	return NewNATSRelayConn(nc, cfg.SubjectPrefix, nodeID, logger), nil
}

// NewNATSRelayConn wraps an established connection. The relay owns it.
func NewNATSRelayConn(nc *nats.Conn, subjectPrefix, nodeID string, logger zerolog.Logger) *NATSRelay {
	if subjectPrefix == "" {
		subjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSRelay{conn: nc, prefix: subjectPrefix, nodeID: nodeID, logger: logger}
}

// Subject returns the subject carrying messages for roomID.
func (n *NATSRelay) Subject(roomID string) string {
	return n.prefix + roomID
}

// Publish sends msg on the room subject.
func (n *NATSRelay) Publish(ctx context.Context, msg Message) error {
	data, err := marshalMessage(msg, n.nodeID)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject(msg.RoomID), data); err != nil {
		telemetry.RelayPublishErrors.WithLabelValues("nats").Inc()
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Start subscribes to every room subject and hands remote messages to deliver.
func (n *NATSRelay) Start(ctx context.Context, deliver func(Message)) error {
	sub, err := n.conn.Subscribe(n.prefix+">", func(m *nats.Msg) {
		msg, err := unmarshalMessage(m.Data)
		if err != nil {
			n.logger.Error().Err(err).Str("subject", m.Subject).Msg("failed to unmarshal NATS message")
			return
		}
		if msg.NodeID == n.nodeID {
			return
		}
		if msg.RoomID == "" {
			msg.RoomID = strings.TrimPrefix(m.Subject, n.prefix)
		}
		deliver(*msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to nats relay: %w", err)
	}

	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()

	n.logger.Info().Str("subject", n.prefix+">").Msg("NATS relay started")
	return nil
}

// Close drains the subscription and the connection.
func (n *NATSRelay) Close() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Msg("failed to unsubscribe NATS relay")
		}
	}
	if n.conn != nil && !n.conn.IsClosed() {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
			return fmt.Errorf("drain nats: %w", err)
		}
	}
	return nil
}
