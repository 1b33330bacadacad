package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS already gates browser clients; the upgrade itself accepts any
	// origin so local dashboards work without extra config.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// handleWS pushes live quotes from the stream to the client as JSON frames.
func (s *Server) handleWS(c *gin.Context) {
	if s.deps.Stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quote streaming disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	quotes, cancel := s.deps.Stream.Subscribe()
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case md, ok := <-quotes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(md); err != nil {
				return
			}
		}
	}
}
