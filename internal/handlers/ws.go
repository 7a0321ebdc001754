package handlers

import (
	"net/http"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
)

var locationUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced at the HTTP layer.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LocationStream handles GET /ws/locations?device_id=&token=. Each record
// persisted for the device is pushed to the socket.
func (h *Handler) LocationStream(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if token == "" {
		// Browser WebSocket clients cannot set headers.
		token = r.URL.Query().Get("token")
	}

	device, _, err := h.svc.Authorize(r.Context(), token, r.URL.Query().Get("device_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := locationUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := logging.WithDevice(requestLogger(h.logger, r), device.ID.String())
	events, unsubscribe := h.hub.Subscribe(device.ID)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4 * 1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			// Clients only send control frames; reading drives pong and close handling.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("location stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
