package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/events"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The storefront UI may be served from another origin during development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events upgrades to a WebSocket and streams broker events until the client
// disconnects or the broker stops
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		h.jsonError(w, "Events are not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := h.broker.Subscribe()
	if client == nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	defer h.broker.Unsubscribe(client)

	log.Debug().Str("client_id", client.ID).Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	welcome, _ := json.Marshal(events.Welcome(client))
	if err := writeFrame(conn, welcome); err != nil {
		return
	}

	// Incoming frames are discarded; reading surfaces closes and pong replies
	readErrCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErrCh <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Messages:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := writeFrame(conn, msg.Data); err != nil {
				log.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case err := <-readErrCh:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket closed unexpectedly")
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeFrame sends one encoded event as a text frame
func writeFrame(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// EventStream streams broker events as server-sent events
func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		h.jsonError(w, "Events are not configured", http.StatusServiceUnavailable)
		return
	}
	h.broker.ServeHTTP(w, r)
}
