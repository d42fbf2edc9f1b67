package api

import (
	"net/http"
	"time"

	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/gorilla/websocket"
)

const (
	changeBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the router
		return true
	},
}

// handleWebSocket streams every store change to the client as JSON, in
// mutation order. Changes are dropped while the client lags behind.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	changes, release := s.book.Subscribe(changeBuffer)
	logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Change stream client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		release()
		_ = conn.Close()
		logger.Info().Msg("Change stream client disconnected")
	}()

	for {
		select {
		case <-closed:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
