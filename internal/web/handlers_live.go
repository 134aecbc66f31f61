package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/campa/internal/live"
	"github.com/JonMunkholm/campa/internal/logging"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 30 * time.Second
	liveReadLimit  = 65536
)

// upgrader returns the websocket upgrader. Without ALLOWED_ORIGINS only
// same-origin connections are accepted.
func (s *Server) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if allowed := s.cfg.Security.AllowedOrigins; len(allowed) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			o, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.ContainsFunc(allowed, func(a string) bool {
				a = strings.TrimSpace(a)
				return a == "*" || strings.EqualFold(a, o.Scheme+"://"+o.Host) || strings.EqualFold(a, o.Host)
			})
		}
	}
	return u
}

// handleLive streams one topic over a websocket: the current state first,
// then every change.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	// Reject unknown topics before upgrading so the client gets a JSON error
	initial, err := s.service.Snapshot(r.Context(), topic)
	if err != nil {
		respondError(w, r, err)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	// Subscribe before re-reading so no change between the two is lost
	sub := s.hub.Subscribe(topic)
	if fresh, err := s.service.Snapshot(r.Context(), topic); err == nil {
		initial = fresh
	}

	logger := logging.FromContext(r.Context()).With("topic", topic)
	logger.Debug("live subscriber connected")

	go s.liveWritePump(conn, sub, live.Snapshot{Topic: topic, Payload: initial})
	s.liveReadPump(conn, sub)

	logger.Debug("live subscriber disconnected")
}

// liveWritePump sends the initial snapshot and then every published one,
// with periodic pings.
func (s *Server) liveWritePump(conn *websocket.Conn, sub *live.Subscription, initial live.Snapshot) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				// Hub closed the subscription
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// liveReadPump consumes control frames until the client goes away, then
// ends the subscription. Client messages are ignored.
func (s *Server) liveReadPump(conn *websocket.Conn, sub *live.Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(liveReadLimit)
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}
