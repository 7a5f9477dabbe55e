/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/ripple/internal/auth"
	"github.com/friendsincode/ripple/internal/eventbus"
	"github.com/friendsincode/ripple/internal/telemetry"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
	maxChatLength  = 500

	snapshotMessage = "SNAPSHOT"
)

// wsMessage is a frame sent to room clients.
type wsMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wsCommand is a frame received from room clients.
type wsCommand struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// handleRoomWS attaches a realtime client to the room. Authenticated clients
// are announced to the room and may chat; guests only listen.
func (a *API) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	principal, _ := auth.PrincipalFromContext(r.Context())

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx := r.Context()
	logger := a.logger.With().Str("room_id", roomID).Str("user_id", principal.ID).Logger()

	client := a.hub.Join(roomID)
	defer client.Leave()

	participant := !principal.Guest && principal.ID != ""
	if participant {
		a.playback.UserJoined(ctx, roomID, principal.Submitter())
		defer a.playback.UserLeft(context.WithoutCancel(ctx), roomID, principal.Submitter())
	}
	logger.Debug().Bool("guest", !participant).Msg("room websocket connected")

	snapshot, err := json.Marshal(a.playback.GetPlaybackSnapshot(ctx, roomID, auth.Viewer(ctx)))
	if err == nil {
		err = writeFrame(ctx, conn, wsMessage{Type: snapshotMessage, RoomID: roomID, Timestamp: time.Now(), Payload: snapshot})
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to send snapshot")
		conn.Close(ws.StatusInternalError, "send failed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure && ws.CloseStatus(err) != ws.StatusGoingAway {
					logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}

			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				logger.Warn().Err(err).Msg("invalid websocket message")
				continue
			}
			if cmd.Type != "chat" || !participant {
				continue
			}
			text := strings.TrimSpace(cmd.Text)
			if text == "" {
				continue
			}
			if runes := []rune(text); len(runes) > maxChatLength {
				text = string(runes[:maxChatLength])
			}
			a.playback.Chat(ctx, roomID, principal.Submitter(), text)
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := writeFrame(ctx, conn, wsMessage{Type: "ping", Timestamp: time.Now()}); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case msg, ok := <-client.Messages():
			if !ok {
				conn.Close(ws.StatusGoingAway, "room closed")
				return
			}
			if err := writeFrame(ctx, conn, frameFor(msg)); err != nil {
				logger.Debug().Err(err).Msg("send event failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}
		}
	}
}

func frameFor(msg eventbus.Message) wsMessage {
	return wsMessage{
		Type:      string(msg.Event),
		RoomID:    msg.RoomID,
		Timestamp: msg.Timestamp,
		Payload:   msg.Payload,
	}
}

func writeFrame(ctx context.Context, conn *ws.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}
