package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lccanvas/canvasd/internal/core/services"
	"github.com/lccanvas/canvasd/internal/metrics"
)

const (
	// wsWriteWait bounds a single frame write to a slow client.
	wsWriteWait = 10 * time.Second
	// wsPongWait is how long a silent client stays connected.
	wsPongWait = 60 * time.Second
	// wsPingPeriod must be under wsPongWait so pongs arrive in time.
	wsPingPeriod = 54 * time.Second
)

// Identity comes from the anon cookie or query parameter, not Origin;
// the front-end runs cross-origin in development.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS attaches one live status stream for the caller. The upgrade
// happens before the gate check so a blocked client receives a
// websocket-level 4401 close it can tell apart from network failure.
// GET /ws/status
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("anon_id")
	if userID == "" {
		userID = ownerID(r)
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "owner_id", userID, "error", err)
		return
	}

	if s.cfg.BetaEnabled() && !s.betaAuthed(r) && !s.isAdminRequest(r) {
		msg := websocket.FormatCloseMessage(4401, "beta access required")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	hc := s.hub.Register(userID)
	metrics.IncWSConnections()

	go s.wsReader(conn, hc)
	s.wsWriter(conn, hc)
}

// wsReader discards inbound frames; clients only listen. A read error
// means the peer went away, which tears down both pumps: unregistering
// closes the outbox, and closing the conn unblocks the writer.
func (s *Server) wsReader(conn *websocket.Conn, hc *services.HubConn) {
	defer func() {
		s.hub.Unregister(hc)
		conn.Close()
		metrics.DecWSConnections()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWriter drains the outbox onto the socket and keeps the connection
// alive with pings. A closed outbox means the hub dropped us.
func (s *Server) wsWriter(conn *websocket.Conn, hc *services.HubConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data, ok := <-hc.Outbox():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
