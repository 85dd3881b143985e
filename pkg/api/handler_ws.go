package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /ws to a WebSocket and hands the connection to
// the ConnectionManager. Blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return respondDetail(c, http.StatusServiceUnavailable, "WebSocket not available")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedOrigins
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
