// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mobiletoly/go-recsync/recsync"
)

// streamBuffer bounds statuses queued for one slow client; older ones are dropped
const streamBuffer = 16

// streamStatus upgrades to a WebSocket and pushes every engine status as a
// JSON text message, starting with the current one.
func (h *handlers) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Client messages are ignored; CloseRead reports disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	updates := make(chan recsync.Status, streamBuffer)
	unsubscribe := h.deps.Engine.Subscribe(func(st recsync.Status) {
		select {
		case updates <- st:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- st:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := writeStatus(ctx, conn, h.deps.Engine.GetStatus(ctx)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			if err := writeStatus(ctx, conn, st); err != nil {
				h.logger.Debug("status stream closed", "error", err)
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *websocket.Conn, st recsync.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
