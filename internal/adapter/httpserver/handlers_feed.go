package httpserver

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tripph/promptfeed/internal/broadcast"
)

// handleFeed upgrades to the feed socket and hands writing over to the
// registry. Inbound frames are read and dropped; reading keeps pong handling
// alive and notices the client going away.
func (s *Server) handleFeed(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Debug("Feed upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(s.config.WSReadLimit)

	session, err := s.registry.Subscribe(conn)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if broadcast.IsCapacityError(err) {
			code = websocket.CloseTryAgainLater
		}
		slog.Warn("Feed subscription refused", "error", err, "remote_addr", c.RealIP())
		msg := websocket.FormatCloseMessage(code, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return nil
	}
	defer s.registry.Unsubscribe(session)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
