package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/exchron/exchron-engine/pkg/logger"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamProgress upgrades the connection and streams one session's
// training run: a session snapshot first, then a progress message per
// tree, then a final snapshot when the run settles. The connection
// closes normally once the run reaches a terminal state.
func (h *SessionHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("websocket")
	sessionID := mux.Vars(r)["id"]

	snapshot, err := h.service.Get(sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	progress, unsubscribe, err := h.service.Subscribe(sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		log.Error().Err(err).Str("session_id", sessionID).Msg("Upgrade failed")
		return
	}
	defer conn.Close()
	defer unsubscribe()

	conn.SetReadLimit(h.ws.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.ws.PongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("Connection closed")
				}
				return
			}
		}
	}()

	write := func(msg WSMessage) error {
		conn.SetWriteDeadline(time.Now().Add(h.ws.WriteWait))
		return conn.WriteJSON(msg)
	}

	if err := write(WSMessage{Type: "session", Payload: snapshot}); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("Snapshot send failed")
		return
	}

	pingTicker := time.NewTicker(h.ws.PongWait * 9 / 10)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case p, ok := <-progress:
			if !ok {
				// Run settled; hand over the final state and close.
				if final, err := h.service.Get(sessionID); err == nil {
					if err := write(WSMessage{Type: "session", Payload: final}); err != nil {
						return
					}
				}
				conn.SetWriteDeadline(time.Now().Add(h.ws.WriteWait))
				if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("Close message failed")
				}
				return
			}
			if err := write(WSMessage{Type: "progress", Payload: p}); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("Progress send failed")
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.ws.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
